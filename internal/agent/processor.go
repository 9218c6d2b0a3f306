package agent

import (
	"context"
	"iter"
)

// Processor opens a provider stream for one turn. The returned sequence is
// lazy, forward-only and not restartable: it yields text fragments in
// delivery order and at most one error, after which it stops. Breaking out
// of the range loop closes the underlying stream.
type Processor interface {
	Stream(ctx context.Context, req StreamRequest) iter.Seq2[string, error]
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req StreamRequest) iter.Seq2[string, error]

// Stream calls f.
func (f ProcessorFunc) Stream(ctx context.Context, req StreamRequest) iter.Seq2[string, error] {
	return f(ctx, req)
}

// Ensure GeminiClient implements Processor.
var _ Processor = (*GeminiClient)(nil)
