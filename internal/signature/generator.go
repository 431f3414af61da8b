// Package signature computes crash signatures: short strings naming the
// code path a crash most likely went through.
//
// A Generator runs its own small pipeline of rules over an Input snapshot.
// Failures inside that pipeline are recorded as notes on the Result and
// forwarded to an errreport.Reporter; they never stop the remaining rules.
package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crashproc/internal/errreport"
)

// generatorName is used for failures that are not tied to a single rule.
const generatorName = "SignatureGenerator"

// Result is the outcome of a generator run.
type Result struct {
	Signature string
	Notes     []string
	// Extra holds additional fields for the processed crash, for example
	// proto_signature.
	Extra map[string]any

	rule string
}

// AddNote records a note prefixed with the name of the running rule.
func (r *Result) AddNote(note string) {
	if r.rule != "" {
		note = r.rule + ": " + note
	}

	r.Notes = append(r.Notes, note)
}

// SetExtra stores an additional processed crash field.
func (r *Result) SetExtra(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}

	r.Extra[key] = value
}

// Rule is one step of the signature pipeline.
type Rule interface {
	Name() string
	Predicate(in *Input, res *Result) bool
	Action(in *Input, res *Result) error
}

// Generator runs signature rules in order.
type Generator struct {
	rules    []Rule
	reporter errreport.Reporter
}

// Option configures a Generator.
type Option func(*Generator)

// WithRules replaces the default rule pipeline.
func WithRules(rules ...Rule) Option {
	return func(g *Generator) {
		g.rules = rules
	}
}

// WithReporter sets where rule failures are reported.
func WithReporter(r errreport.Reporter) Option {
	return func(g *Generator) {
		if r != nil {
			g.reporter = r
		}
	}
}

// New creates a generator with the default rules.
func New(opts ...Option) *Generator {
	g := &Generator{
		rules:    DefaultRules(),
		reporter: errreport.Nop{},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate computes the signature for in. The run is abandoned when ctx is
// done; the result then has an empty signature and a failure note.
func (g *Generator) Generate(ctx context.Context, in *Input) Result {
	done := make(chan Result, 1)

	go func() {
		done <- g.run(ctx, in)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		var res Result
		g.fail(ctx, in, &res, generatorName, ctx.Err())

		return res
	}
}

func (g *Generator) run(ctx context.Context, in *Input) Result {
	var res Result

	for _, rule := range g.rules {
		if ctx.Err() != nil {
			break
		}

		if err := g.apply(rule, in, &res); err != nil {
			g.fail(ctx, in, &res, rule.Name(), err)
		}
	}

	res.rule = ""

	return res
}

// apply runs one rule and turns a panic into an error.
func (g *Generator) apply(rule Rule, in *Input, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	res.rule = rule.Name()
	defer func() { res.rule = "" }()

	if !rule.Predicate(in, res) {
		return nil
	}

	return rule.Action(in, res)
}

func (g *Generator) fail(ctx context.Context, in *Input, res *Result, name string, err error) {
	res.rule = ""
	res.AddNote(fmt.Sprintf("%s: Rule failed: %s", name, err))
	g.reporter.Report(ctx, err, "rule", name, "crash_id", in.CrashID)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}

	return errors.New(strings.TrimSpace(fmt.Sprint(r)))
}
