package processor

import (
	"crashproc/internal/config"
	"crashproc/internal/errreport"
	"crashproc/internal/metrics"
	"crashproc/internal/rules"
)

// Deps are the collaborators shared by the default rules.
type Deps struct {
	Metrics  metrics.Sink
	Reporter errreport.Reporter
	// Versions resolves beta build versions. When nil every beta build is
	// treated as unknown.
	Versions rules.VersionResolver
}

// DefaultRules returns the standard pipeline. Rewrite rules run before the
// extraction rules that read the fields they fix up, and
// SignatureGeneratorRule runs last.
func DefaultRules(cfg config.ProcessorConfig, deps Deps) []rules.Rule {
	return []rules.Rule{
		&rules.DeNullRule{Metrics: deps.Metrics},
		&rules.DeNoneRule{Metrics: deps.Metrics},
		&rules.ConvertModuleSignatureInfoRule{},
		&rules.IdentifierRule{},
		&rules.JSONDumpRule{MaxSizeUncompressed: cfg.JSONDumpMaxBytes},

		&rules.ProductRewrite{Rewrites: rules.DefaultProductRewrites},
		&rules.ESRVersionRewrite{},
		&rules.PluginContentURL{},
		&rules.PluginUserComment{},

		&rules.ProductRule{},
		&rules.UserDataRule{},
		&rules.EnvironmentRule{},
		&rules.PluginRule{},
		&rules.AddonsRule{},
		&rules.DatesAndTimesRule{},
		&rules.OutOfMemoryBinaryRule{MaxSizeUncompressed: cfg.MemoryReportMaxBytes},
		&rules.PHCRule{},
		&rules.JavaProcessRule{},
		&rules.MozCrashReasonRule{},
		&rules.CPUInfoRule{},
		&rules.OSInfoRule{},
		&rules.BetaVersionRule{Resolver: deps.Versions},
		&rules.ExploitabilityRule{},
		&rules.FlashVersionRule{},
		&rules.OSPrettyVersionRule{},
		&rules.TopMostFilesRule{},
		&rules.ModulesInStackRule{},
		&rules.ThemePrettyNameRule{},
		rules.NewSignatureGeneratorRule(deps.Reporter, cfg.SignatureTimeout()),
	}
}
