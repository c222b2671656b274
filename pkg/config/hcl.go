package config

import (
	"fmt"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/dataset"
)

// hclFile is the decoding target of a configuration file. Pointer attributes
// distinguish "absent" from zero so defaults survive.
type hclFile struct {
	Service *hclService `hcl:"service,block"`
	NATS    *hclNATS    `hcl:"nats,block"`
	Comfy   *hclComfy   `hcl:"comfy,block"`
	Tracing *hclTracing `hcl:"tracing,block"`
	Sentry  *hclSentry  `hcl:"sentry,block"`
	Dataset *hclDataset `hcl:"dataset,block"`
}

type hclService struct {
	Name        *string `hcl:"name,optional"`
	Environment *string `hcl:"environment,optional"`
	LogLevel    *string `hcl:"log_level,optional"`
	Development *bool   `hcl:"development,optional"`
}

type hclNATS struct {
	URL           *string `hcl:"url,optional"`
	Name          *string `hcl:"name,optional"`
	SubjectPrefix *string `hcl:"subject_prefix,optional"`
	Publish       *bool   `hcl:"publish,optional"`
	MaxReconnects *int    `hcl:"max_reconnects,optional"`
	ReconnectWait *string `hcl:"reconnect_wait,optional"`
	Timeout       *string `hcl:"timeout,optional"`
	Token         *string `hcl:"token,optional"`
	Username      *string `hcl:"username,optional"`
	Password      *string `hcl:"password,optional"`
}

type hclComfy struct {
	URL      *string `hcl:"url,optional"`
	Workflow *string `hcl:"workflow,optional"`
	ClientID *string `hcl:"client_id,optional"`
	Timeout  *string `hcl:"timeout,optional"`
}

type hclTracing struct {
	Endpoint       *string  `hcl:"endpoint,optional"`
	ServiceVersion *string  `hcl:"service_version,optional"`
	Insecure       *bool    `hcl:"insecure,optional"`
	SampleRatio    *float64 `hcl:"sample_ratio,optional"`
}

type hclSentry struct {
	DSN         *string  `hcl:"dsn,optional"`
	Environment *string  `hcl:"environment,optional"`
	SampleRate  *float64 `hcl:"sample_rate,optional"`
}

type hclMixedField struct {
	Field  string  `hcl:"field"`
	Filter *string `hcl:"filter,optional"`
}

type hclBlob struct {
	ConnectionString string  `hcl:"connection_string"`
	Container        string  `hcl:"container"`
	Prefix           *string `hcl:"prefix,optional"`
}

type hclDataset struct {
	Path           *string          `hcl:"path,optional"`
	PromptField    *string          `hcl:"prompt_field,optional"`
	NumRows        *int             `hcl:"num_rows,optional"`
	StartRow       *int             `hcl:"start_row,optional"`
	RandomSeed     *uint64          `hcl:"random_seed,optional"`
	Shuffle        *bool            `hcl:"shuffle,optional"`
	Delimiter      *string          `hcl:"delimiter,optional"`
	TextInput      *string          `hcl:"text_input,optional"`
	NodeID         *string          `hcl:"node_id,optional"`
	MetadataDir    *string          `hcl:"metadata_dir,optional"`
	Workers        *int             `hcl:"workers,optional"`
	ProcessTimeout *string          `hcl:"process_timeout,optional"`
	MixedJSON      *string          `hcl:"mixed_fields_json,optional"`
	MixedFields    []*hclMixedField `hcl:"mixed_field,block"`
	Blob           *hclBlob         `hcl:"blob,block"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *src, err)
	}
	*dst = d
	return nil
}

func (f *hclFile) apply(cfg *Config) error {
	if s := f.Service; s != nil {
		set(&cfg.Service.Name, s.Name)
		set(&cfg.Service.Environment, s.Environment)
		set(&cfg.Service.LogLevel, s.LogLevel)
		set(&cfg.Service.Development, s.Development)
	}
	cfg.Tracing.ServiceName = cfg.Service.Name
	cfg.Tracing.Environment = cfg.Service.Environment
	cfg.Sentry.Environment = cfg.Service.Environment

	if n := f.NATS; n != nil {
		conn := &cfg.NATS.Connection
		set(&conn.URL, n.URL)
		set(&conn.Name, n.Name)
		set(&conn.MaxReconnects, n.MaxReconnects)
		set(&conn.Token, n.Token)
		set(&conn.Username, n.Username)
		set(&conn.Password, n.Password)
		set(&cfg.NATS.SubjectPrefix, n.SubjectPrefix)
		set(&cfg.NATS.Publish, n.Publish)
		if err := setDuration(&conn.ReconnectWait, n.ReconnectWait, "nats.reconnect_wait"); err != nil {
			return err
		}
		if err := setDuration(&conn.Timeout, n.Timeout, "nats.timeout"); err != nil {
			return err
		}
	}

	if c := f.Comfy; c != nil {
		set(&cfg.Comfy.URL, c.URL)
		set(&cfg.Comfy.Workflow, c.Workflow)
		set(&cfg.Comfy.ClientID, c.ClientID)
		if err := setDuration(&cfg.Comfy.Timeout, c.Timeout, "comfy.timeout"); err != nil {
			return err
		}
	}

	if t := f.Tracing; t != nil {
		set(&cfg.Tracing.OTLPEndpoint, t.Endpoint)
		set(&cfg.Tracing.ServiceVersion, t.ServiceVersion)
		set(&cfg.Tracing.Insecure, t.Insecure)
		set(&cfg.Tracing.SampleRatio, t.SampleRatio)
	}

	if s := f.Sentry; s != nil {
		set(&cfg.Sentry.DSN, s.DSN)
		set(&cfg.Sentry.Environment, s.Environment)
		set(&cfg.Sentry.SampleRate, s.SampleRate)
	}

	if d := f.Dataset; d != nil {
		batch := &cfg.Dataset.Batch
		set(&batch.Path, d.Path)
		set(&batch.PromptField, d.PromptField)
		set(&batch.NumRows, d.NumRows)
		set(&batch.StartRow, d.StartRow)
		set(&batch.RandomSeed, d.RandomSeed)
		set(&batch.Shuffle, d.Shuffle)
		set(&batch.Delimiter, d.Delimiter)
		set(&batch.TextInput, d.TextInput)
		if d.MixedJSON != nil {
			fields, err := dataset.ParseMixedFields(*d.MixedJSON)
			if err != nil {
				return fmt.Errorf("invalid dataset.mixed_fields_json: %w", err)
			}
			batch.MixedFields = append(batch.MixedFields, fields...)
		}
		// mixed_field blocks follow the JSON list
		for _, mf := range d.MixedFields {
			fc := dataset.FieldConfig{Field: mf.Field}
			set(&fc.Filter, mf.Filter)
			batch.MixedFields = append(batch.MixedFields, fc)
		}

		set(&cfg.Dataset.NodeID, d.NodeID)
		set(&cfg.Dataset.MetadataDir, d.MetadataDir)
		set(&cfg.Dataset.Workers, d.Workers)
		if err := setDuration(&cfg.Dataset.ProcessTimeout, d.ProcessTimeout, "dataset.process_timeout"); err != nil {
			return err
		}

		if b := d.Blob; b != nil {
			cfg.Dataset.Blob.ConnectionString = b.ConnectionString
			cfg.Dataset.Blob.Container = b.Container
			set(&cfg.Dataset.Blob.Prefix, b.Prefix)
		}
	}
	return nil
}
