package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// FieldConfig selects one prompt segment. With a filter, the segment comes
// from a random row matching it instead of the current row.
type FieldConfig struct {
	Field  string `json:"field"`
	Filter string `json:"filter"`
}

// Config describes a batch run over a dataset
type Config struct {
	// Path is a .jsonl/.csv file or a directory holding them
	Path string

	// PromptField is the column used as prompt when MixedFields is empty
	PromptField string

	// NumRows is the number of rows to process; -1 processes every row
	NumRows int

	// StartRow is the first row, offset by the batch's magic number
	StartRow int

	// RandomSeed seeds shuffling and per-row seeds when Shuffle is set
	RandomSeed uint64

	Shuffle bool

	// Delimiter joins prompt segments. Escape sequences such as \n are interpreted.
	Delimiter string

	// TextInput, when set, is prepended to every prompt
	TextInput string

	MixedFields []FieldConfig
}

// DefaultConfig returns a configuration processing every row of path
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		PromptField: "text",
		NumRows:     -1,
		Delimiter:   `\n`,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: dataset path cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	if c.PromptField == "" && len(c.MixedFields) == 0 {
		return fmt.Errorf("%w: prompt field cannot be empty", sdkerrors.ErrInvalidConfig)
	}
	if c.NumRows < -1 {
		return fmt.Errorf("%w: num_rows must be -1 or greater", sdkerrors.ErrInvalidConfig)
	}
	if c.StartRow < 0 {
		return fmt.Errorf("%w: start_row cannot be negative", sdkerrors.ErrInvalidConfig)
	}
	return nil
}

// ParseMixedFields decodes the JSON list form of the mixed fields configuration
func ParseMixedFields(raw string) ([]FieldConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var fields []FieldConfig
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: mixed fields must be a JSON list of field configurations: %w", sdkerrors.ErrInvalidConfig, err)
	}
	return fields, nil
}

// DecodeDelimiter interprets escape sequences in a delimiter ("\n" → newline).
// Delimiters that are not valid escapes are used verbatim.
func DecodeDelimiter(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	decoded, err := strconv.Unquote(`"` + strings.ReplaceAll(raw, `"`, `\"`) + `"`)
	if err != nil {
		return raw
	}
	return decoded
}

func encodeFields(fields []FieldConfig) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
