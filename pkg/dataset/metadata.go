package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const timestampLayout = "20060102-150405"

// MetadataEntry records how a row was turned into a prompt. It is written as
// one JSON object: the fixed keys below followed by the row's columns, which
// win on a name clash.
type MetadataEntry struct {
	RowIndex          int
	Seed              uint32
	MagicNumber       int
	OutputFilename    string
	Prompt            string
	MixedFieldsConfig string
	Row               Row
	CreatedAt         time.Time
}

// MarshalJSON flattens the entry into a single object
func (e MetadataEntry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Row)+6)
	obj["row_index"] = e.RowIndex
	obj["seed"] = e.Seed
	obj["magic_number"] = e.MagicNumber
	obj["output_filename"] = e.OutputFilename
	obj["prompt"] = e.Prompt
	if e.MixedFieldsConfig != "" {
		obj["mixed_fields_config"] = e.MixedFieldsConfig
	} else {
		obj["mixed_fields_config"] = nil
	}
	for k, v := range e.Row {
		obj[k] = v
	}
	data, err := marshalNoEscape(obj)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(data, []byte("\n")), nil
}

// marshalNoEscape encodes v without escaping <, > and &
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeEntry(entry MetadataEntry) ([]byte, error) {
	data, err := marshalNoEscape(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// MetadataSink stores metadata entries
type MetadataSink interface {
	Write(ctx context.Context, entry MetadataEntry) error
}

// FileSink appends entries as JSON lines to <Dir>/metadata_<timestamp>.jsonl,
// the timestamp being the entry's creation second.
type FileSink struct {
	Dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileSink creates a sink writing under dir
func NewFileSink(dir string, logger *zap.Logger) *FileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{Dir: dir, logger: logger}
}

// Write implements MetadataSink
func (s *FileSink) Write(ctx context.Context, entry MetadataEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("metadata_%s.jsonl", entry.CreatedAt.Format(timestampLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	s.logger.Info("Metadata saved",
		zap.Int("row_index", entry.RowIndex),
		zap.String("path", path))
	return nil
}

// Sinks writes to every sink and joins their errors
type Sinks []MetadataSink

// Write implements MetadataSink
func (s Sinks) Write(ctx context.Context, entry MetadataEntry) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Uploader stores blobs. storage.AzureBlobClient implements it.
type Uploader interface {
	UploadBlob(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
}

// BlobSink uploads every entry as its own JSON blob under Prefix
type BlobSink struct {
	uploader Uploader
	prefix   string
}

// NewBlobSink creates a sink uploading through uploader
func NewBlobSink(uploader Uploader, prefix string) *BlobSink {
	return &BlobSink{uploader: uploader, prefix: prefix}
}

// Write implements MetadataSink
func (s *BlobSink) Write(ctx context.Context, entry MetadataEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	blobPath := entry.OutputFilename + ".json"
	if s.prefix != "" {
		blobPath = s.prefix + "/" + blobPath
	}

	_, err = s.uploader.UploadBlob(ctx, blobPath, data, map[string]string{
		"row_index":    fmt.Sprint(entry.RowIndex),
		"seed":         fmt.Sprint(entry.Seed),
		"magic_number": fmt.Sprint(entry.MagicNumber),
	})
	if err != nil {
		return fmt.Errorf("failed to upload metadata for row %d: %w", entry.RowIndex, err)
	}
	return nil
}
