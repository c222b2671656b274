// Command daedalus keeps a ComfyUI dataset batch running: every processed row
// queues the next prompt.
//
//	daedalus automate -config daedalus.hcl
//	daedalus local -config daedalus.hcl -dataset prompts.jsonl
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/wehubfusion/Daedalus/pkg/config"
	"go.uber.org/zap"
)

const usage = `usage: daedalus <command> [flags]

commands:
  automate   requeue the ComfyUI workflow on every dataset_row_processed event
  local      run a dataset batch in-process and print one JSON prompt per line
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "daedalus:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	command := args[0]
	if command != "automate" && command != "local" {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return errUsage
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the HCL configuration file")
	datasetPath := fs.String("dataset", "", "dataset file or directory (local only)")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *datasetPath != "" {
		cfg.Dataset.Batch.Path = *datasetPath
	}

	if command == "automate" {
		err = cfg.ValidateAutomate()
	} else {
		err = cfg.ValidateLocal()
	}
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Service)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.String("command", command), zap.Error(err))
		return err
	}
	defer a.Close()

	if command == "automate" {
		err = runAutomate(ctx, a)
	} else {
		err = runLocal(ctx, a, stdout)
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("Shutdown signal received, stopped")
		return nil
	}
	return err
}
