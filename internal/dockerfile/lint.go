package dockerfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lbekk/stagemill/internal/pyversion"
)

// ErrLint is the sentinel for plan validation failures, checkable with errors.Is.
var ErrLint = errors.New("plan validation failed")

// Rule identifiers for the individual checks.
const (
	RuleDuplicateAlias    = "duplicate-stage-alias"
	RuleUnknownCopySource = "copy-from-unknown-stage"
	RuleSeriesMismatch    = "runtime-series-mismatch"
	RuleDepsAfterPayload  = "deps-after-payload"
	RuleNoTerminalStage   = "no-terminal-stage"
)

// LintError reports a single violated rule.
type LintError struct {
	Rule   string
	Detail string
}

func (e *LintError) Error() string {
	return fmt.Sprintf("%v: [%s] %s", ErrLint, e.Rule, e.Detail)
}

func (e *LintError) Unwrap() error { return ErrLint }

// Validate checks the structural invariants of the plan. The two
// silent-until-runtime defect classes (ABI mismatch after transplant, missing
// runtime binary path ordering) are caught here, at plan time, not in the
// running container.
func (p *Plan) Validate() error {
	if len(p.stages) == 0 {
		return &LintError{Rule: RuleNoTerminalStage, Detail: "plan declares no stages"}
	}

	declared := map[string]*Stage{}
	for _, stage := range p.stages {
		if stage.Alias == "" {
			continue
		}
		if _, dup := declared[stage.Alias]; dup {
			return &LintError{
				Rule:   RuleDuplicateAlias,
				Detail: fmt.Sprintf("stage alias %q declared twice", stage.Alias),
			}
		}
		declared[stage.Alias] = stage
	}

	seen := map[string]*Stage{}
	for _, stage := range p.stages {
		if err := p.validateStage(stage, seen); err != nil {
			return err
		}
		if stage.Alias != "" {
			seen[stage.Alias] = stage
		}
	}

	return nil
}

func (p *Plan) validateStage(stage *Stage, previous map[string]*Stage) error {
	payloadCopied := false

	for _, in := range stage.Instructions() {
		switch step := in.(type) {
		case Copy:
			if step.FromStage != "" {
				src, ok := previous[step.FromStage]
				if !ok && !looksLikeExternalImage(step.FromStage) {
					return &LintError{
						Rule:   RuleUnknownCopySource,
						Detail: fmt.Sprintf("COPY --from=%s does not reference a previously declared stage", step.FromStage),
					}
				}
				if ok {
					if err := checkSeriesParity(src, stage); err != nil {
						return err
					}
				}
				if payloadCopied {
					return &LintError{
						Rule:   RuleDepsAfterPayload,
						Detail: fmt.Sprintf("transplant from %q follows the application payload copy; dependency layers must come first", step.FromStage),
					}
				}
			}
			if step.Payload {
				payloadCopied = true
			}
		case Run, RunShell:
			if payloadCopied {
				return &LintError{
					Rule:   RuleDepsAfterPayload,
					Detail: "RUN step follows the application payload copy; dependency layers must come first",
				}
			}
		}
	}

	return nil
}

// checkSeriesParity enforces identical language-runtime major.minor between a
// transplant's source and destination stages. Compiled extension modules are
// ABI-bound to the interpreter series; a mismatch only surfaces as an import
// failure at container start.
func checkSeriesParity(src, dst *Stage) error {
	srcSeries, srcErr := pyversion.ParseImageRef(src.From)
	dstSeries, dstErr := pyversion.ParseImageRef(dst.From)
	if srcErr != nil || dstErr != nil {
		// non-python bases are outside this rule
		return nil
	}
	if !srcSeries.SameSeries(dstSeries) {
		return &LintError{
			Rule: RuleSeriesMismatch,
			Detail: fmt.Sprintf("stage %q pins python %s but transplant source %q pins python %s",
				dst.From, dstSeries.Series(), src.From, srcSeries.Series()),
		}
	}
	return nil
}

// looksLikeExternalImage reports whether a COPY --from reference is an image
// ref rather than a stage alias (it carries a tag, digest, or registry path).
func looksLikeExternalImage(ref string) bool {
	return strings.ContainsAny(ref, ":/@")
}
