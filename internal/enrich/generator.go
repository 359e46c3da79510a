// Package enrich runs AI tasks against notes and writes their results back.
//
// Four kinds of task are supported. Summarize and GenerateTags write back
// only the summary or the tags, never the title or content, so a result that
// arrives while the user is still typing cannot overwrite the draft. Improve
// returns text for the user to accept; nothing is written until
// ApplyImproved. Ask answers a question from the owner's recent notes.
//
// Tasks of any kind run concurrently without limit. Busy reports whether
// any task is still pending.
package enrich

import (
	"context"
	"errors"
	"fmt"
)

// Params tunes one generation request.
type Params struct {
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
}

// DefaultParams returns the generation settings used for every task.
func DefaultParams() Params {
	return Params{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
	}
}

// Generator is the text-generation collaborator. Implementations are
// stateless and single-shot. A non-success reply must be returned as an
// error.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, params Params) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	return f(ctx, prompt, params)
}

// ErrEnrichment matches every *EnrichmentError.
var ErrEnrichment = errors.New("enrichment failed")

// Kind names a task type.
type Kind string

const (
	KindSummarize Kind = "summarize"
	KindTags      Kind = "tags"
	KindImprove   Kind = "improve"
	KindAsk       Kind = "ask"
)

// Kinds lists every task kind.
var Kinds = []Kind{KindSummarize, KindTags, KindImprove, KindAsk}

// EnrichmentError is a provider failure or an unusable response.
type EnrichmentError struct {
	Kind Kind
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Kind, ErrEnrichment, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Is matches ErrEnrichment.
func (e *EnrichmentError) Is(target error) bool {
	return target == ErrEnrichment
}
