// Package policy runs the deterministic pre-publish safety checks and maps
// their failures to a PASS / REWRITE / HOLD verdict. Every check is pure:
// the same draft, materials, and recent posts always produce the same report.
package policy

import (
	"strconv"
	"strings"

	"social-post-orchestrator/internal/models"
)

// Checker evaluates a draft against the publish policy.
type Checker struct {
	blockedTerms        []string
	similarityThreshold float64
}

// NewChecker builds a Checker. A zero threshold falls back to 0.6.
func NewChecker(blockedTerms []string, similarityThreshold float64) *Checker {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.6
	}
	return &Checker{blockedTerms: blockedTerms, similarityThreshold: similarityThreshold}
}

// Evaluate runs all checks over the draft's publish-order texts and decides
// the action. Blocked terms and secret leakage hold the draft outright;
// grounding failures demand a rewrite at high risk; length, similarity, and
// tone failures demand a rewrite at medium risk.
func (c *Checker) Evaluate(edited models.EditedDraft, materials models.Materials, recentPosts []string, style models.StyleProfile) models.PolicyReport {
	tweets := publishTexts(edited)

	var checks []models.PolicyCheckResult
	var offending []string

	lengthOK, lengthDetails := checkLength(tweets)
	checks = append(checks, models.PolicyCheckResult{CheckName: "length_ok", Passed: lengthOK, Details: lengthDetails})

	sensitiveOK, sensitiveHits := checkBlockedTerms(tweets, c.blockedTerms)
	checks = append(checks, models.PolicyCheckResult{
		CheckName: "sensitive_ok", Passed: sensitiveOK, Details: hitDetails(sensitiveHits),
	})
	offending = append(offending, sensitiveHits...)

	leakageOK, leakageHits := checkLeakage(tweets)
	checks = append(checks, models.PolicyCheckResult{
		CheckName: "leakage_ok", Passed: leakageOK, Details: hitDetails(leakageHits),
	})
	offending = append(offending, leakageHits...)

	similarityOK, simDetails := checkSimilarity(tweets, recentPosts, c.similarityThreshold)
	checks = append(checks, models.PolicyCheckResult{CheckName: "similarity_ok", Passed: similarityOK, Details: simDetails})

	markerOK, markerDetails := checkThreadMarkers(edited.Mode, tweets)
	checks = append(checks, models.PolicyCheckResult{CheckName: "thread_marker_ok", Passed: markerOK, Details: markerDetails})

	toneOK, toneDetails := checkTone(tweets, style)
	checks = append(checks, models.PolicyCheckResult{CheckName: "tone_ok", Passed: toneOK, Details: toneDetails})

	claims := extractClaims(tweets)
	evidenceMap, unsupported := mapEvidence(claims, materials.Evidence())
	factOK := len(unsupported) == 0
	factDetails := "all grounded"
	if !factOK {
		factDetails = factDetail(len(unsupported))
	}
	checks = append(checks, models.PolicyCheckResult{CheckName: "fact_grounded_ok", Passed: factOK, Details: factDetails})
	if n := len(unsupported); n > 0 {
		if n > 10 {
			n = 10
		}
		offending = append(offending, unsupported[:n]...)
	}

	report := models.PolicyReport{
		Checks:            checks,
		Claims:            claims,
		EvidenceMap:       evidenceMap,
		UnsupportedClaims: unsupported,
	}
	failed := failedNames(checks)
	if len(failed) == 0 {
		report.RiskLevel = "LOW"
		report.Action = models.PolicyPass
		report.UnsupportedClaims = nil
		return report
	}
	report.Action, report.RiskLevel = decideAction(failed)
	report.OffendingSpans = offending
	return report
}

func publishTexts(edited models.EditedDraft) []string {
	var out []string
	for _, t := range edited.Texts() {
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func failedNames(checks []models.PolicyCheckResult) map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range checks {
		if !c.Passed {
			out[c.CheckName] = struct{}{}
		}
	}
	return out
}

// decideAction maps check failures to a verdict. Unknown failure combinations
// default to HOLD so a new check can never silently weaken the gate.
func decideAction(failed map[string]struct{}) (action, risk string) {
	if _, ok := failed["sensitive_ok"]; ok {
		return models.PolicyHold, "HIGH"
	}
	if _, ok := failed["leakage_ok"]; ok {
		return models.PolicyHold, "HIGH"
	}
	if _, ok := failed["fact_grounded_ok"]; ok {
		return models.PolicyRewrite, "HIGH"
	}
	for _, name := range []string{"length_ok", "similarity_ok", "tone_ok"} {
		if _, ok := failed[name]; ok {
			return models.PolicyRewrite, "MEDIUM"
		}
	}
	return models.PolicyHold, "HIGH"
}

func hitDetails(hits []string) string {
	if len(hits) == 0 {
		return "none"
	}
	if len(hits) > 10 {
		hits = hits[:10]
	}
	return strings.Join(hits, ",")
}

func factDetail(n int) string {
	return "unsupported=" + strconv.Itoa(n)
}
