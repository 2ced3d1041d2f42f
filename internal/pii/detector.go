package pii

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/observability"
)

// Options configures a Detector.
type Options struct {
	// Threshold is the minimum recognizer confidence that is acted upon.
	Threshold float64
	// Recognizers defaults to DefaultRecognizers.
	Recognizers []Recognizer
	// Rules defaults to DefaultRules.
	Rules []Rule
	// Verifier runs after filtering when set.
	Verifier Stage
	Metrics  *observability.Metrics
}

// Detector runs the detection stages over a text.
type Detector struct {
	stages  []Stage
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDetector assembles the stage chain.
func NewDetector(opts Options, logger zerolog.Logger) *Detector {
	if opts.Recognizers == nil {
		opts.Recognizers = DefaultRecognizers()
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	stages := []Stage{
		&RecognizerStage{Recognizers: opts.Recognizers},
		&RuleStage{Rules: opts.Rules},
		&ConfidenceFilter{Threshold: opts.Threshold},
		OverlapResolver{},
	}
	if opts.Verifier != nil {
		stages = append(stages, opts.Verifier)
	}
	return &Detector{stages: stages, metrics: opts.Metrics, logger: logger}
}

// NewDetectorFromConfig builds a detector for the configured policy. The
// baseline policy applies Threshold, the enhanced policy EnhancedThreshold.
// verifier is only attached when cfg.Verify is set.
func NewDetectorFromConfig(cfg config.PIIConfig, verifier Stage, metrics *observability.Metrics, logger zerolog.Logger) (*Detector, error) {
	var threshold float64
	switch cfg.Policy {
	case config.PolicyBaseline:
		threshold = cfg.Threshold
	case config.PolicyEnhanced:
		threshold = cfg.EnhancedThreshold
	default:
		return nil, pgerrors.NewConfigError(fmt.Sprintf("unknown pii policy: %s", cfg.Policy))
	}

	recognizers := FilterRecognizers(DefaultRecognizers(), cfg.Entities)
	if len(recognizers) == 0 {
		return nil, pgerrors.NewConfigError("pii entities select no recognizer")
	}

	opts := Options{
		Threshold:   threshold,
		Recognizers: recognizers,
		Metrics:     metrics,
	}
	if cfg.Verify {
		opts.Verifier = verifier
	}
	return NewDetector(opts, logger), nil
}

// Detect returns the findings for text. A failing stage is logged and
// skipped so that its input findings are kept.
func (d *Detector) Detect(ctx context.Context, text string) []Finding {
	var findings []Finding
	for _, stage := range d.stages {
		out, err := stage.Apply(ctx, text, findings)
		if err != nil {
			d.logger.Error().Err(err).
				Str("stage", stage.Name()).
				Int("findings", len(findings)).
				Msg("pii stage failed, keeping unverified findings")
			continue
		}
		findings = out
	}

	for _, f := range findings {
		d.metrics.ObservePIIFinding(string(f.EntityType))
	}
	return findings
}

// ContainsPII reports whether Detect finds anything.
func (d *Detector) ContainsPII(ctx context.Context, text string) bool {
	return len(d.Detect(ctx, text)) > 0
}

// Report summarizes one detection run.
type Report struct {
	ContainsPII  bool      `json:"contains_pii"`
	Count        int       `json:"count"`
	EntityTypes  []string  `json:"entity_types"`
	Findings     []Finding `json:"findings"`
	RedactedText string    `json:"redacted_text"`
}

// Analyze detects and redacts in one call.
func (d *Detector) Analyze(ctx context.Context, text string) Report {
	findings := d.Detect(ctx, text)
	return Report{
		ContainsPII:  len(findings) > 0,
		Count:        len(findings),
		EntityTypes:  EntityTypes(findings),
		Findings:     findings,
		RedactedText: Redact(text, findings),
	}
}

// Redact replaces each finding's span with "[ENTITY_TYPE]". Replacements run
// from the highest start offset down so earlier offsets stay valid; a finding
// overlapping one already applied is skipped.
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	ordered := append([]Finding(nil), findings...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start > ordered[j].Start
		}
		return ordered[i].End > ordered[j].End
	})

	out := text
	limit := len(text)
	for _, f := range ordered {
		if f.Start < 0 || f.End > limit || f.Start >= f.End {
			continue
		}
		out = out[:f.Start] + "[" + string(f.EntityType) + "]" + out[f.End:]
		limit = f.Start
	}
	return out
}

// Advisory is the message shown when generation is refused because of
// personal data.
func Advisory(findings []Finding) string {
	return fmt.Sprintf("⚠️ The uploaded document appears to contain %d instances of personal or sensitive information. Types detected: %s. Please remove such details before generating a post.",
		len(findings), strings.Join(EntityTypes(findings), ", "))
}
