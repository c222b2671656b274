package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/automation"
	"github.com/wehubfusion/Daedalus/pkg/bus"
	"github.com/wehubfusion/Daedalus/pkg/dataset"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"github.com/wehubfusion/Daedalus/pkg/runner"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"go.uber.org/zap"
)

// promptLine is one line of local output
type promptLine struct {
	RowIndex    int    `json:"row_index"`
	Seed        uint32 `json:"seed"`
	MagicNumber int    `json:"magic_number"`
	Prompt      string `json:"prompt"`
}

// runLocal drives a dataset batch without ComfyUI. The batch node announces
// each row, the automator requeues, and the in-process runner executes the
// next step until the dataset is exhausted.
func runLocal(ctx context.Context, a *app, out io.Writer) error {
	cfg := a.cfg.Dataset

	var sinks dataset.Sinks
	if cfg.MetadataDir != "" {
		sinks = append(sinks, dataset.NewFileSink(cfg.MetadataDir, a.logger))
	}
	if cfg.Blob.ConnectionString != "" {
		blobClient, err := storage.NewAzureBlobClient(cfg.Blob.ConnectionString, cfg.Blob.Container, a.logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, dataset.NewBlobSink(blobClient, cfg.Blob.Prefix))
	}

	emitters := host.Emitters{a.dispatcher}
	if a.conn != nil && a.cfg.NATS.Publish {
		publisher, err := bus.NewPublisher(a.conn, a.cfg.NATS.SubjectPrefix, a.logger)
		if err != nil {
			return err
		}
		emitters = append(emitters, publisher)
	}

	batch, err := dataset.NewBatch(cfg.Batch,
		dataset.WithSink(sinks),
		dataset.WithEmitter(emitters),
		dataset.WithLogger(a.logger),
		dataset.WithNodeID(cfg.NodeID))
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		mu       sync.Mutex
		finished bool
		failure  error
	)
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	step := &dataset.Processor{
		Batch: batch,
		OnResult: func(ctx context.Context, res dataset.Result) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(promptLine{
				RowIndex:    res.RowIndex,
				Seed:        res.Seed,
				MagicNumber: res.MagicNumber,
				Prompt:      res.Prompt,
			})
		},
		OnDone: func(ctx context.Context) {
			mu.Lock()
			finished = true
			mu.Unlock()
			stop()
		},
	}

	// The next job is queued from inside Next, before OnResult writes the
	// current line, so steps hold stepMu until their line is out.
	var stepMu sync.Mutex
	// a failed step emits nothing, so nothing would queue the next one
	processor := runner.ProcessorFunc(func(ctx context.Context, job runner.Job) error {
		stepMu.Lock()
		err := step.Process(ctx, job)
		stepMu.Unlock()
		if err != nil {
			mu.Lock()
			if failure == nil {
				failure = err
			}
			mu.Unlock()
			stop()
		}
		return err
	})

	r, err := runner.NewRunner(processor, cfg.Workers, cfg.ProcessTimeout, a.logger)
	if err != nil {
		return err
	}

	reg := host.NewRegistry(a.logger)
	if _, err := automation.Register(reg, a.logger); err != nil {
		return err
	}
	h := &host.Host{Graph: host.StaticGraph{batch}, Events: a.dispatcher, Queue: r}
	if err := reg.Load(runCtx, h); err != nil {
		return err
	}

	a.logger.Info("Starting local batch",
		zap.String("dataset", cfg.Batch.Path),
		zap.Int("workers", cfg.Workers))

	r.QueuePrompt(runCtx, 0, 1)
	runErr := r.Run(runCtx)

	mu.Lock()
	defer mu.Unlock()
	switch {
	case failure != nil:
		return failure
	case finished:
		a.logger.Info("Local batch finished")
		return nil
	default:
		return runErr
	}
}
