package dataset

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/runner"
)

// Processor executes one batch step per runner job. OnResult receives every
// produced prompt, OnDone runs once the batch reports completion.
type Processor struct {
	Batch    *Batch
	OnResult func(ctx context.Context, res Result) error
	OnDone   func(ctx context.Context)
}

var _ runner.Processor = (*Processor)(nil)

// Process implements runner.Processor
func (p *Processor) Process(ctx context.Context, job runner.Job) error {
	res, err := p.Batch.Next(ctx)
	if err != nil {
		return err
	}
	if res.Done {
		if p.OnDone != nil {
			p.OnDone(ctx)
		}
		return nil
	}
	if p.OnResult != nil {
		return p.OnResult(ctx, res)
	}
	return nil
}
