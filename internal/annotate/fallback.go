// Package annotate produces flavour text for the console log and the expert
// panel, either from a generative model or from a canned corpus.
package annotate

import (
	"context"
	"log/slog"

	"github.com/skobkin/llmsim-web/internal/sim"
)

// Source is a fallible text producer, typically *Client.
type Source interface {
	Annotate(ctx context.Context, mode sim.Mode, step int) (string, error)
	CompareView(ctx context.Context, training bool) (string, error)
}

// Fallback never fails: errors from the source are logged and replaced by
// corpus text.
type Fallback struct {
	source Source
	corpus Corpus
	logger *slog.Logger
}

// NewFallback wraps source. A nil source serves the corpus only.
func NewFallback(source Source, corpus Corpus, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		source: source,
		corpus: corpus,
		logger: logger.With("component", "annotate"),
	}
}

// Annotate returns a log line for the step.
func (f *Fallback) Annotate(ctx context.Context, mode sim.Mode, step int) string {
	if f.source == nil {
		return f.corpus.Annotation(mode, step)
	}
	text, err := f.source.Annotate(ctx, mode, step)
	if err != nil {
		f.logger.Warn("annotation failed, using fallback", "mode", mode, "step", step, "err", err)
		return f.corpus.Annotation(mode, step)
	}
	if text == "" {
		return f.corpus.EmptyAnnotation
	}
	return text
}

// CompareView returns the memory comparison for the workload.
func (f *Fallback) CompareView(ctx context.Context, training bool) string {
	if f.source == nil {
		return f.corpus.CompareView(training)
	}
	text, err := f.source.CompareView(ctx, training)
	if err != nil {
		f.logger.Warn("compare view failed, using fallback", "training", training, "err", err)
		return f.corpus.CompareView(training)
	}
	if text == "" {
		return f.corpus.EmptyCompare
	}
	return text
}
