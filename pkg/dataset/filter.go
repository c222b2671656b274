package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// Filter is a compiled row predicate written as a JavaScript expression over
// the row bound to `example`, e.g. `example.score > 3 && example.lang == "en"`.
type Filter struct {
	expr    string
	program *goja.Program
}

// CompileFilter compiles expr
func CompileFilter(expr string) (*Filter, error) {
	program, err := goja.Compile("filter", "("+expr+")", true)
	if err != nil {
		return nil, fmt.Errorf("invalid filter '%s': %w", expr, err)
	}
	return &Filter{expr: expr, program: program}, nil
}

// String returns the source expression
func (f *Filter) String() string { return f.expr }

// Select returns the indexes of rows the filter accepts. One runtime is
// shared across the rows of a call; it is interrupted when ctx is done.
func (f *Filter) Select(ctx context.Context, rows []Row) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vm := goja.New()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	var matched []int
	for i, row := range rows {
		if err := vm.Set("example", map[string]any(row)); err != nil {
			return nil, fmt.Errorf("filter '%s': %w", f.expr, err)
		}
		v, err := vm.RunProgram(f.program)
		if err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return nil, fmt.Errorf("filter '%s' interrupted on row %d: %w", f.expr, i, context.Cause(ctx))
			}
			return nil, fmt.Errorf("filter '%s' failed on row %d: %w", f.expr, i, err)
		}
		if v.ToBoolean() {
			matched = append(matched, i)
		}
	}
	return matched, nil
}
