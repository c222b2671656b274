// Package config loads the Daedalus HCL configuration file.
//
//	service { name = "daedalus" log_level = "info" }
//	comfy   { url = "http://127.0.0.1:8188" workflow = "workflow_api.json" }
//	nats    { url = "nats://127.0.0.1:4222" subject_prefix = "comfy.events" }
//	tracing { endpoint = "127.0.0.1:4318" }
//	sentry  { dsn = "" }
//	dataset {
//	  path = "prompts.jsonl"
//	  mixed_field { field = "subject" }
//	  mixed_field { field = "style" filter = "example.score > 3" }
//	  blob { connection_string = "UseDevelopmentStorage=true" container = "metadata" }
//	}
//
// Every block and attribute is optional. Environment variables override the
// file for deployment-specific endpoints.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	internalnats "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/dataset"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Environment variables read by ApplyEnv
const (
	EnvNATSURL      = "NATS_URL"
	EnvComfyURL     = "COMFY_URL"
	EnvSentryDSN    = "SENTRY_DSN"
	EnvOTLPEndpoint = "OTLP_ENDPOINT"
)

// ServiceConfig names the process and sets up logging
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	Development bool
}

// NATSConfig enables the NATS event bridge when URL is set
type NATSConfig struct {
	Connection    internalnats.ConnectionConfig
	SubjectPrefix string
	// Publish forwards locally emitted events to NATS
	Publish bool
}

// Enabled reports whether a NATS server is configured
func (c NATSConfig) Enabled() bool { return c.Connection.URL != "" }

// ComfyConfig points at a ComfyUI server and the API-format workflow it runs
type ComfyConfig struct {
	URL      string
	Workflow string
	ClientID string
	Timeout  time.Duration
}

// SentryConfig enables error reporting when DSN is set
type SentryConfig struct {
	DSN         string
	Environment string
	SampleRate  float64
}

// BlobConfig enables the blob metadata sink when ConnectionString is set
type BlobConfig struct {
	ConnectionString string
	Container        string
	Prefix           string
}

// DatasetConfig configures the local batch runner
type DatasetConfig struct {
	Batch          dataset.Config
	NodeID         string
	MetadataDir    string
	Workers        int
	ProcessTimeout time.Duration
	Blob           BlobConfig
}

// Config is the complete Daedalus configuration
type Config struct {
	Service ServiceConfig
	NATS    NATSConfig
	Comfy   ComfyConfig
	Tracing tracing.TracingConfig
	Sentry  SentryConfig
	Dataset DatasetConfig
}

// Default returns the configuration used for absent blocks and attributes
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "daedalus",
			Environment: "development",
			LogLevel:    "info",
		},
		NATS: NATSConfig{
			Connection:    *internalnats.DefaultConnectionConfig(""),
			SubjectPrefix: "comfy.events",
		},
		Comfy: ComfyConfig{
			URL:      "http://127.0.0.1:8188",
			Workflow: "workflow_api.json",
			Timeout:  30 * time.Second,
		},
		Tracing: tracing.DefaultConfig("daedalus"),
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  1.0,
		},
		Dataset: DatasetConfig{
			Batch:          dataset.DefaultConfig(""),
			NodeID:         dataset.NodeType,
			MetadataDir:    "output",
			Workers:        1,
			ProcessTimeout: 30 * time.Second,
		},
	}
}

// Load reads path on top of Default and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", sdkerrors.ErrInvalidConfig, path, diags)
		}

		var parsed hclFile
		diags = gohcl.DecodeBody(file.Body, nil, &parsed)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", sdkerrors.ErrInvalidConfig, path, diags)
		}

		if err := parsed.apply(cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", sdkerrors.ErrInvalidConfig, path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides endpoints from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvNATSURL); ok {
		c.NATS.Connection.URL = v
	}
	if v, ok := lookup(EnvComfyURL); ok && v != "" {
		c.Comfy.URL = v
	}
	if v, ok := lookup(EnvSentryDSN); ok {
		c.Sentry.DSN = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		c.Tracing.OTLPEndpoint = v
	}
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("%w: service name cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	switch strings.ToLower(c.Service.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level '%s'", sdkerrors.ErrInvalidConfig, c.Service.LogLevel)
	}
	if c.NATS.Enabled() && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("%w: nats subject prefix cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	if c.Comfy.Timeout <= 0 {
		return fmt.Errorf("%w: comfy timeout must be positive", sdkerrors.ErrInvalidConfig)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: tracing: %w", sdkerrors.ErrInvalidConfig, err)
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		return fmt.Errorf("%w: sentry sample rate must be between 0 and 1", sdkerrors.ErrInvalidConfig)
	}
	return nil
}

// ValidateAutomate checks what the automate command needs
func (c *Config) ValidateAutomate() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Comfy.URL == "" {
		return fmt.Errorf("%w: comfy url cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	if c.Comfy.Workflow == "" {
		return fmt.Errorf("%w: comfy workflow cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	return nil
}

// ValidateLocal checks what the local command needs
func (c *Config) ValidateLocal() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Dataset.Workers < 1 {
		return fmt.Errorf("%w: dataset workers must be at least 1", sdkerrors.ErrInvalidConfig)
	}
	if c.Dataset.ProcessTimeout <= 0 {
		return fmt.Errorf("%w: dataset process timeout must be positive", sdkerrors.ErrInvalidConfig)
	}
	if c.Dataset.Blob.ConnectionString != "" && c.Dataset.Blob.Container == "" {
		return fmt.Errorf("%w: dataset blob container cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	return c.Dataset.Batch.Validate()
}
