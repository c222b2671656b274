package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// NodeType is the workflow node type a Batch plays
const NodeType = "DatasetBatchNode"

// Result is the outcome of one Next call. Done reports that no rows were left;
// Prompt and Seed are then empty.
type Result struct {
	Prompt      string
	Seed        uint32
	RowIndex    int
	MagicNumber int
	Done        bool
}

// Batch walks a dataset one row per call. The magic number counts processed
// rows across batches and offsets the start row of the next plan.
type Batch struct {
	mu sync.Mutex

	cfg       Config
	delimiter string
	nodeID    string
	sink      MetadataSink
	emitter   host.Emitter
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	rng       *rand.Rand

	dataset         *Dataset
	filters         map[string]*Filter
	rowsToProcess   []int
	planned         bool
	currentRowIndex int
	magicNumber     int
}

// Option configures a Batch
type Option func(*Batch)

// WithSink sets where metadata entries are written
func WithSink(sink MetadataSink) Option {
	return func(b *Batch) { b.sink = sink }
}

// WithEmitter sets where dataset_row_processed events go
func WithEmitter(emitter host.Emitter) Option {
	return func(b *Batch) { b.emitter = emitter }
}

// WithLogger sets the zap logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Batch) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNodeID sets the node id reported in events
func WithNodeID(id string) Option {
	return func(b *Batch) {
		if id != "" {
			b.nodeID = id
		}
	}
}

// WithDataset uses ds instead of loading cfg.Path
func WithDataset(ds *Dataset) Option {
	return func(b *Batch) { b.dataset = ds }
}

// WithMagicNumber sets the starting magic number
func WithMagicNumber(n int) Option {
	return func(b *Batch) { b.magicNumber = n }
}

func withClock(now func() time.Time) Option {
	return func(b *Batch) { b.now = now }
}

// NewBatch creates a batch over cfg
func NewBatch(cfg Config, opts ...Option) (*Batch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if cfg.Shuffle {
		seed = int64(cfg.RandomSeed)
	}

	b := &Batch{
		cfg:       cfg,
		delimiter: DecodeDelimiter(cfg.Delimiter),
		nodeID:    NodeType,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("daedalus/dataset"),
		now:       time.Now,
		rng:       rand.New(rand.NewSource(seed)),
		filters:   make(map[string]*Filter),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, fc := range cfg.MixedFields {
		if strings.TrimSpace(fc.Filter) == "" {
			continue
		}
		if _, ok := b.filters[fc.Filter]; ok {
			continue
		}
		f, err := CompileFilter(fc.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", sdkerrors.ErrInvalidConfig, err)
		}
		b.filters[fc.Filter] = f
	}
	return b, nil
}

// MagicNumber returns the current magic number
func (b *Batch) MagicNumber() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.magicNumber
}

// NodeType implements host.Node, so a Batch can stand in its workflow graph
func (b *Batch) NodeType() string { return NodeType }

// Next processes the next planned row. Once every planned row is processed,
// one call returns Done and resets the batch; the call after that plans again,
// unlike the ComfyUI node, which stays exhausted until its dataset reloads.
// Filter expressions are interrupted when ctx is done.
func (b *Batch) Next(ctx context.Context) (Result, error) {
	ctx, span := b.tracer.Start(ctx, "dataset.Next")
	defer span.End()

	res, entry, err := b.step(ctx)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("batch.done", res.Done))
	if res.Done {
		return res, nil
	}
	span.SetAttributes(
		attribute.Int("row.index", res.RowIndex),
		attribute.Int("batch.magic_number", res.MagicNumber),
	)

	if b.sink != nil {
		if err := b.sink.Write(ctx, entry); err != nil {
			b.logger.Error("Failed to save metadata", zap.Int("row_index", res.RowIndex), zap.Error(err))
		}
	}

	if b.emitter != nil {
		evt, err := events.NewRowProcessedEvent(events.RowProcessed{
			NodeID:      b.nodeID,
			MagicNumber: res.MagicNumber,
			RowIndex:    res.RowIndex,
		})
		if err == nil {
			err = b.emitter.Emit(ctx, evt)
		}
		if err != nil {
			b.logger.Error("Failed to emit row processed event", zap.Int("row_index", res.RowIndex), zap.Error(err))
		}
	}
	return res, nil
}

func (b *Batch) step(ctx context.Context) (Result, MetadataEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dataset == nil {
		ds, err := Load(b.cfg.Path, b.logger)
		if err != nil {
			b.logger.Error("Error loading dataset", zap.String("path", b.cfg.Path), zap.Error(err))
			return Result{}, MetadataEntry{}, err
		}
		b.dataset = ds
	}
	if len(b.cfg.MixedFields) == 0 && !b.dataset.HasColumn(b.cfg.PromptField) {
		return Result{}, MetadataEntry{}, fmt.Errorf("%w: prompt field '%s' not in %v",
			sdkerrors.ErrFieldNotFound, b.cfg.PromptField, b.dataset.Columns)
	}

	if !b.planned {
		b.plan()
	}

	b.logger.Debug("Processing batch step",
		zap.Int("magic_number", b.magicNumber),
		zap.Int("start_row", b.cfg.StartRow),
		zap.Int("num_rows", b.cfg.NumRows))

	if b.currentRowIndex >= len(b.rowsToProcess) {
		b.logger.Info("Dataset processing complete")
		b.magicNumber = 0
		b.currentRowIndex = 0
		b.rowsToProcess = nil
		b.planned = false
		return Result{Done: true}, MetadataEntry{}, nil
	}

	rowIndex := b.rowsToProcess[b.currentRowIndex]
	row := b.dataset.Rows[rowIndex]
	seed := b.rng.Uint32()

	prompt, err := b.composePrompt(ctx, row)
	if err != nil {
		return Result{}, MetadataEntry{}, err
	}

	now := b.now()
	entry := MetadataEntry{
		RowIndex:          rowIndex,
		Seed:              seed,
		MagicNumber:       b.magicNumber,
		OutputFilename:    fmt.Sprintf("row_%d_%d_%s", rowIndex, seed, now.Format(timestampLayout)),
		Prompt:            prompt,
		MixedFieldsConfig: b.mixedFieldsJSON(),
		Row:               row,
		CreatedAt:         now,
	}

	b.logger.Info("Processing row", zap.Int("row_index", rowIndex), zap.Uint32("seed", seed))

	b.currentRowIndex++
	b.magicNumber++

	if b.currentRowIndex >= len(b.rowsToProcess) {
		b.logger.Info("Batch complete", zap.Int("magic_number", b.magicNumber))
	}

	return Result{
		Prompt:      prompt,
		Seed:        seed,
		RowIndex:    rowIndex,
		MagicNumber: b.magicNumber,
	}, entry, nil
}

// plan selects the rows of the next batch
func (b *Batch) plan() {
	total := b.dataset.Len()
	numRows := b.cfg.NumRows
	if numRows == -1 {
		numRows = total
	}

	start := b.cfg.StartRow + b.magicNumber
	end := min(start+numRows, total)

	b.rowsToProcess = nil
	if start < end {
		if b.cfg.Shuffle {
			perm := rand.New(rand.NewSource(int64(b.cfg.RandomSeed))).Perm(total)
			b.rowsToProcess = perm[start:end]
		} else {
			b.rowsToProcess = make([]int, 0, end-start)
			for i := start; i < end; i++ {
				b.rowsToProcess = append(b.rowsToProcess, i)
			}
		}
	}
	b.currentRowIndex = 0
	b.planned = true

	b.logger.Info("Planned dataset batch",
		zap.Int("dataset_rows", total),
		zap.Int("start", start),
		zap.Int("rows", len(b.rowsToProcess)),
		zap.Bool("shuffle", b.cfg.Shuffle))
}

func (b *Batch) composePrompt(ctx context.Context, row Row) (string, error) {
	var prompt string

	if len(b.cfg.MixedFields) > 0 {
		segments := make([]string, 0, len(b.cfg.MixedFields))
		for _, fc := range b.cfg.MixedFields {
			if fc.Field == "" {
				b.logger.Warn("Skipping field config due to missing 'field' name")
				continue
			}

			selected := row
			if f, ok := b.filters[fc.Filter]; ok {
				matched, err := f.Select(ctx, b.dataset.Rows)
				if err != nil {
					return "", err
				}
				if len(matched) == 0 {
					b.logger.Warn("No rows match filter, using current row",
						zap.String("filter", fc.Filter),
						zap.String("field", fc.Field))
				} else {
					selected = b.dataset.Rows[matched[b.rng.Intn(len(matched))]]
				}
			}

			if segment := strings.TrimSpace(selected.String(fc.Field)); segment != "" {
				segments = append(segments, segment)
			}
		}
		prompt = strings.Join(segments, b.delimiter)
	} else {
		prompt = row.String(b.cfg.PromptField)
	}

	if b.cfg.TextInput != "" {
		prompt = b.cfg.TextInput + b.delimiter + prompt
	}
	return norm.NFC.String(strings.TrimSpace(prompt)), nil
}

func (b *Batch) mixedFieldsJSON() string {
	if len(b.cfg.MixedFields) == 0 {
		return ""
	}
	data, err := encodeFields(b.cfg.MixedFields)
	if err != nil {
		return ""
	}
	return data
}
