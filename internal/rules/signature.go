package rules

import (
	"context"
	"time"

	"crashproc/internal/errreport"
	"crashproc/internal/models"
	"crashproc/internal/signature"
)

// DefaultSignatureTimeout bounds a signature generator run.
const DefaultSignatureTimeout = 10 * time.Second

// SignatureGeneratorRule computes the crash signature. Failures inside the
// generator become notes and are reported, and never fail this rule.
type SignatureGeneratorRule struct {
	Always
	Generator *signature.Generator
	Timeout   time.Duration
}

// NewSignatureGeneratorRule creates the rule with the default generator.
func NewSignatureGeneratorRule(reporter errreport.Reporter, timeout time.Duration) *SignatureGeneratorRule {
	return &SignatureGeneratorRule{
		Generator: signature.New(signature.WithReporter(reporter)),
		Timeout:   timeout,
	}
}

// Name implements Rule.
func (r *SignatureGeneratorRule) Name() string { return "SignatureGeneratorRule" }

// Action implements Rule.
func (r *SignatureGeneratorRule) Action(ctx context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	gen := r.Generator
	if gen == nil {
		gen = signature.New()
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultSignatureTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in := signature.NewInput(raw, processed)
	if meta.CrashID != "" {
		in.CrashID = meta.CrashID
	}

	res := gen.Generate(ctx, in)

	processed["signature"] = res.Signature
	for key, value := range res.Extra {
		processed[key] = value
	}

	for _, note := range res.Notes {
		meta.AddNote(note)
	}

	return nil
}
