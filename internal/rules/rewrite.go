package rules

import (
	"context"
	"strings"

	"crashproc/internal/models"
)

// ProductKey identifies a product by the name and id the client reported.
type ProductKey struct {
	Name string
	ID   string
}

// DefaultProductRewrites maps legacy product identities to current names.
var DefaultProductRewrites = map[ProductKey]string{
	{Name: "Fennec", ID: "{aa3c5121-dab2-40e2-81ca-7ea25febc110}"}: "FennecAndroid",
}

// ProductRewrite corrects the ProductName of clients that report a legacy
// name.
type ProductRewrite struct {
	Rewrites map[ProductKey]string
}

// NewProductRewrite creates the rule with DefaultProductRewrites.
func NewProductRewrite() *ProductRewrite {
	return &ProductRewrite{Rewrites: DefaultProductRewrites}
}

// Name implements Rule.
func (r *ProductRewrite) Name() string { return "ProductRewrite" }

func (r *ProductRewrite) lookup(raw models.RawCrash) (string, bool) {
	key := ProductKey{
		Name: stringOr(raw, "ProductName", ""),
		ID:   stringOr(raw, "ProductID", ""),
	}

	name, ok := r.Rewrites[key]

	return name, ok
}

// Predicate implements Rule.
func (r *ProductRewrite) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	_, ok := r.lookup(raw)
	return ok
}

// Action implements Rule.
func (r *ProductRewrite) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, meta *models.Meta) error {
	newName, ok := r.lookup(raw)
	if !ok {
		return nil
	}

	oldName := stringOr(raw, "ProductName", "")
	raw["OriginalProductName"] = oldName
	raw["ProductName"] = newName
	meta.AddNotef("Rewriting ProductName from '%s' to '%s'", oldName, newName)

	return nil
}

// ESRVersionRewrite appends "esr" to the version of extended support
// release crashes.
type ESRVersionRewrite struct{}

// Name implements Rule.
func (r *ESRVersionRewrite) Name() string { return "ESRVersionRewrite" }

// Predicate implements Rule.
func (r *ESRVersionRewrite) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return stringOr(raw, "ReleaseChannel", "") == "esr"
}

// Action implements Rule.
func (r *ESRVersionRewrite) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, meta *models.Meta) error {
	version, ok := asString(raw["Version"])
	if !ok {
		meta.AddNote(`"Version" missing from esr release raw_crash`)
		return nil
	}

	if !strings.HasSuffix(version, "esr") {
		raw["Version"] = version + "esr"
	}

	return nil
}

// PluginContentURL prefers the URL reported by a crashed plugin over the
// browser URL.
type PluginContentURL struct{}

// Name implements Rule.
func (r *PluginContentURL) Name() string { return "PluginContentURL" }

// Predicate implements Rule.
func (r *PluginContentURL) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return raw.Has("PluginContentURL")
}

// Action implements Rule.
func (r *PluginContentURL) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	raw["URL"] = raw["PluginContentURL"]
	return nil
}

// PluginUserComment prefers the comment entered for a crashed plugin over
// the browser comment.
type PluginUserComment struct{}

// Name implements Rule.
func (r *PluginUserComment) Name() string { return "PluginUserComment" }

// Predicate implements Rule.
func (r *PluginUserComment) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return raw.Has("PluginUserComment")
}

// Action implements Rule.
func (r *PluginUserComment) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	raw["Comments"] = raw["PluginUserComment"]
	return nil
}
