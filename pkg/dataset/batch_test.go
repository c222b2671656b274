package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/host"
	"github.com/wehubfusion/Daedalus/pkg/runner"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func textDataset(texts ...string) *Dataset {
	ds := &Dataset{Columns: []string{"text"}}
	for _, text := range texts {
		ds.Rows = append(ds.Rows, Row{"text": text})
	}
	return ds
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []host.Event
	err    error
}

func (e *recordingEmitter) Emit(ctx context.Context, evt host.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return e.err
}

type recordingSink struct {
	entries []MetadataEntry
}

func (s *recordingSink) Write(ctx context.Context, entry MetadataEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type fakeUploader struct {
	path     string
	data     []byte
	metadata map[string]string
	err      error
}

func (u *fakeUploader) UploadBlob(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	u.path, u.data, u.metadata = blobPath, data, metadata
	return "https://blob.example/" + blobPath, u.err
}

func TestBatchSequence(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.NumRows = 2

	b, err := NewBatch(cfg, WithDataset(textDataset("r0", "r1", "r2")))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r0", res.Prompt)
	assert.Equal(t, 0, res.RowIndex)
	assert.Equal(t, 1, res.MagicNumber)

	res, err = b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", res.Prompt)
	assert.Equal(t, 2, b.MagicNumber())

	res, err = b.Next(ctx)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Empty(t, res.Prompt)
	assert.Zero(t, b.MagicNumber())

	res, err = b.Next(ctx)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, 0, res.RowIndex)
}

func TestBatchStartRowOffsetByMagicNumber(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.StartRow = 1
	cfg.NumRows = 5

	b, err := NewBatch(cfg, WithDataset(textDataset("r0", "r1", "r2", "r3")), WithMagicNumber(1))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowIndex)
	assert.Equal(t, 2, res.MagicNumber)

	res, err = b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowIndex)

	res, err = b.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Done)
}

func TestBatchStartBeyondDataset(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.StartRow = 10

	b, err := NewBatch(cfg, WithDataset(textDataset("r0")))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Done)
}

func TestBatchShuffleIsDeterministic(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.Shuffle = true
	cfg.RandomSeed = 42

	run := func() ([]int, []uint32) {
		b, err := NewBatch(cfg, WithDataset(textDataset("a", "b", "c", "d", "e")))
		require.NoError(t, err)
		var rows []int
		var seeds []uint32
		for {
			res, err := b.Next(context.Background())
			require.NoError(t, err)
			if res.Done {
				return rows, seeds
			}
			rows = append(rows, res.RowIndex)
			seeds = append(seeds, res.Seed)
		}
	}

	rows1, seeds1 := run()
	rows2, seeds2 := run()

	assert.Equal(t, rows1, rows2)
	assert.Equal(t, seeds1, seeds2)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, rows1)
}

func TestBatchPromptField(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.PromptField = "caption"

	b, err := NewBatch(cfg, WithDataset(textDataset("r0")))
	require.NoError(t, err)

	_, err = b.Next(context.Background())
	assert.ErrorIs(t, err, sdkerrors.ErrFieldNotFound)
}

func TestBatchTextInputAndDelimiter(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.TextInput = "masterpiece"

	b, err := NewBatch(cfg, WithDataset(textDataset("  café  ")))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "masterpiece\n  café", res.Prompt)
}

func TestBatchMixedFields(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"text", "kind", "style"},
		Rows: []Row{
			{"text": "a", "kind": "x", "style": "s1"},
			{"text": "b", "kind": "y", "style": "s2"},
		},
	}
	cfg := DefaultConfig("unused")
	cfg.Delimiter = ", "
	cfg.MixedFields = []FieldConfig{
		{Field: "text"},
		{Field: ""},
		{Field: "style", Filter: `example.kind == "y"`},
		{Field: "text", Filter: `example.kind == "z"`},
	}

	sink := &recordingSink{}
	b, err := NewBatch(cfg, WithDataset(ds), WithSink(sink))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a, s2, a", res.Prompt)

	res, err = b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b, s2, b", res.Prompt)

	require.Len(t, sink.entries, 2)
	var fields []FieldConfig
	require.NoError(t, json.Unmarshal([]byte(sink.entries[0].MixedFieldsConfig), &fields))
	assert.Equal(t, cfg.MixedFields, fields)
}

func TestBatchInvalidFilter(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.MixedFields = []FieldConfig{{Field: "text", Filter: "example.kind =="}}

	_, err := NewBatch(cfg)
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidConfig)
}

func TestBatchNextStopsRunawayFilterAtDeadline(t *testing.T) {
	cfg := DefaultConfig("unused")
	cfg.MixedFields = []FieldConfig{{Field: "text", Filter: `(function() { while (true) {} })()`}}
	emitter := &recordingEmitter{}
	b, err := NewBatch(cfg, WithDataset(textDataset("a", "b")), WithEmitter(emitter))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := b.Next(ctx)
		errc <- err
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after the context deadline")
	}
	assert.Empty(t, emitter.events)
	assert.Zero(t, b.MagicNumber())
}

func TestBatchEmitsRowProcessed(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("closed")}
	b, err := NewBatch(DefaultConfig("unused"),
		WithDataset(textDataset("r0")),
		WithEmitter(emitter),
		WithNodeID("7"))
	require.NoError(t, err)

	_, err = b.Next(context.Background())
	require.NoError(t, err, "emit failures are logged, not returned")

	require.Len(t, emitter.events, 1)
	evt := emitter.events[0]
	assert.Equal(t, events.DatasetRowProcessed, evt.Name)

	var detail events.RowProcessed
	require.NoError(t, json.Unmarshal(evt.Detail, &detail))
	assert.Equal(t, events.RowProcessed{NodeID: "7", MagicNumber: 1, RowIndex: 0}, detail)
	assert.Equal(t, NodeType, b.NodeType())
}

func TestBatchLoadsDatasetLazily(t *testing.T) {
	path := writeFile(t, t.TempDir(), "data.jsonl", "{\"text\":\"lazy\"}\n")
	b, err := NewBatch(DefaultConfig(path))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lazy", res.Prompt)

	missing, err := NewBatch(DefaultConfig(filepath.Join(t.TempDir(), "none.jsonl")))
	require.NoError(t, err)
	_, err = missing.Next(context.Background())
	assert.Error(t, err)
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBatch(DefaultConfig("unused"),
		WithDataset(&Dataset{Columns: []string{"text", "prompt"}, Rows: []Row{{"text": "r0", "prompt": "shadowed"}}}),
		WithSink(NewFileSink(dir, nil)),
		withClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	res, err := b.Next(context.Background())
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "metadata_20260102-030405.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var got map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	assert.Equal(t, "r0", got["text"])
	assert.Equal(t, "shadowed", got["prompt"], "row columns win over fixed keys")
	assert.Equal(t, "r0", res.Prompt)
	assert.Equal(t, float64(0), got["row_index"])
	assert.Equal(t, float64(0), got["magic_number"])
	assert.Equal(t, float64(res.Seed), got["seed"])
	assert.Nil(t, got["mixed_fields_config"])
	assert.Contains(t, got["output_filename"], "row_0_")
	assert.False(t, scanner.Scan())
}

func TestBlobSink(t *testing.T) {
	uploader := &fakeUploader{}
	sink := NewBlobSink(uploader, "runs/1")
	entry := MetadataEntry{
		RowIndex:       3,
		Seed:           9,
		MagicNumber:    2,
		OutputFilename: "row_3_9_20260102-030405",
		Prompt:         "<b>bold</b>",
		Row:            Row{"text": "<b>bold</b>"},
		CreatedAt:      fixedNow,
	}

	require.NoError(t, sink.Write(context.Background(), entry))
	assert.Equal(t, "runs/1/row_3_9_20260102-030405.json", uploader.path)
	assert.Equal(t, map[string]string{"row_index": "3", "seed": "9", "magic_number": "2"}, uploader.metadata)
	assert.Contains(t, string(uploader.data), `"prompt":"<b>bold</b>"`)

	uploader.err = errors.New("denied")
	assert.ErrorContains(t, sink.Write(context.Background(), entry), "row 3")
}

func TestSinksJoinErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := NewBlobSink(&fakeUploader{err: errors.New("denied")}, "")

	err := Sinks{ok, nil, failing}.Write(context.Background(), MetadataEntry{OutputFilename: "x"})
	assert.ErrorContains(t, err, "denied")
	assert.Len(t, ok.entries, 1)
}

func TestProcessor(t *testing.T) {
	b, err := NewBatch(DefaultConfig("unused"), WithDataset(textDataset("r0")))
	require.NoError(t, err)

	var prompts []string
	done := 0
	p := &Processor{
		Batch: b,
		OnResult: func(ctx context.Context, res Result) error {
			prompts = append(prompts, res.Prompt)
			return nil
		},
		OnDone: func(ctx context.Context) { done++ },
	}

	require.NoError(t, p.Process(context.Background(), runner.Job{ID: "1"}))
	require.NoError(t, p.Process(context.Background(), runner.Job{ID: "2"}))

	assert.Equal(t, []string{"r0"}, prompts)
	assert.Equal(t, 1, done)
}
