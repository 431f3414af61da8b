package rules

import (
	"context"
	"strings"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// VersionResolver finds the full version string of a build.
type VersionResolver interface {
	// LookupVersion returns "" with a nil error when the build is unknown.
	LookupVersion(ctx context.Context, product, channel string, buildID int64) (string, error)
}

// BetaVersionRule replaces the version of beta and aurora builds with the
// version string known for their build id.
type BetaVersionRule struct {
	Resolver VersionResolver
}

// Name implements Rule.
func (r *BetaVersionRule) Name() string { return "BetaVersionRule" }

// Predicate implements Rule.
func (r *BetaVersionRule) Predicate(_ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) bool {
	channel, _ := processed["release_channel"].(string)

	switch strings.ToLower(channel) {
	case "beta", "aurora":
		return true
	}

	return false
}

// Action implements Rule.
func (r *BetaVersionRule) Action(ctx context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	product, _ := processed["product"].(string)
	channel, _ := processed["release_channel"].(string)
	channel = strings.ToLower(channel)
	version, _ := asString(processed["version"])

	if found := r.lookup(ctx, product, channel, processed["build"]); found != "" {
		processed["version"] = found
		return nil
	}

	processed["version"] = version + "b0"
	meta.AddNotef(`release channel is %s but no version data was found - added "b0" suffix to version number`, channel)

	return nil
}

func (r *BetaVersionRule) lookup(ctx context.Context, product, channel string, build any) string {
	if r.Resolver == nil {
		return ""
	}

	buildID, ok := tree.AsInt(build)
	if !ok {
		return ""
	}

	found, err := r.Resolver.LookupVersion(ctx, product, channel, buildID)
	if err != nil {
		return ""
	}

	return found
}
