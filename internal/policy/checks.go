package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"social-post-orchestrator/internal/models"
)

const maxTweetLen = 280

func checkLength(tweets []string) (bool, string) {
	var bad []string
	for i, t := range tweets {
		if len([]rune(t)) > maxTweetLen {
			bad = append(bad, fmt.Sprintf("%d:%d", i+1, len([]rune(t))))
		}
	}
	if len(bad) == 0 {
		return true, "ok"
	}
	return false, "too_long=" + strings.Join(bad, ";")
}

func checkBlockedTerms(tweets, blocked []string) (bool, []string) {
	hitSet := map[string]struct{}{}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, term := range blocked {
			if term != "" && strings.Contains(low, term) {
				hitSet[term] = struct{}{}
			}
		}
	}
	return len(hitSet) == 0, sortedKeys(hitSet)
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func checkSimilarity(tweets, recent []string, threshold float64) (bool, string) {
	if len(recent) == 0 {
		return true, "no_recent_posts"
	}
	worst := 0.0
	for _, t := range tweets {
		tset := tokenize(t)
		for _, p := range recent {
			score := jaccard(tset, tokenize(p))
			if score > worst {
				worst = score
			}
			if score >= threshold {
				return false, fmt.Sprintf("jaccard=%.2f>=threshold", score)
			}
		}
	}
	return true, fmt.Sprintf("max_jaccard=%.2f", worst)
}

func checkThreadMarkers(mode string, tweets []string) (bool, string) {
	if mode == "thread" {
		return true, "thread_allowed"
	}
	for _, t := range tweets {
		if strings.Contains(t, "1/") || strings.Contains(t, "/1") {
			return false, "thread_marker_in_single"
		}
	}
	return true, "ok"
}

var exaggerations = []string{"insane", "unbelievable", "guarantee", "always", "never", "massive"}

func checkTone(tweets []string, style models.StyleProfile) (bool, string) {
	forbidden := map[string]struct{}{
		"game changer":     {},
		"revolutionary":    {},
		"explosive growth": {},
		"world changing":   {},
	}
	for _, p := range style.ForbiddenPhrases {
		forbidden[strings.ToLower(p)] = struct{}{}
	}
	for _, t := range tweets {
		if strings.Contains(t, "#") {
			return false, "hashtags_not_allowed"
		}
		if containsEmoji(t) {
			return false, "emoji_not_allowed"
		}
	}
	hitSet := map[string]struct{}{}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for phrase := range forbidden {
			if phrase != "" && strings.Contains(low, phrase) {
				hitSet[phrase] = struct{}{}
			}
		}
	}
	if len(hitSet) > 0 {
		hits := sortedKeys(hitSet)
		if len(hits) > 10 {
			hits = hits[:10]
		}
		return false, "forbidden_phrases=" + strings.Join(hits, ",")
	}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, p := range exaggerations {
			if strings.Contains(low, p) {
				return false, "exaggeration_detected"
			}
		}
	}
	return true, "ok"
}

func containsEmoji(text string) bool {
	for _, r := range text {
		if r >= 0x1F300 && r <= 0x1FAFF {
			return true
		}
	}
	return false
}

var (
	jwtRe     = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)
	apiKeyRe  = regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)
	awsKeyRe  = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	longHexRe = regexp.MustCompile(`\b[a-f0-9]{40,}\b`)
	longB64Re = regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`)
)

func checkLeakage(tweets []string) (bool, []string) {
	joined := strings.Join(tweets, "\n")
	hitSet := map[string]struct{}{}
	if strings.Contains(strings.ToLower(joined), "-----begin private key-----") {
		hitSet["private_key_block"] = struct{}{}
	}
	if jwtRe.MatchString(joined) {
		hitSet["jwt"] = struct{}{}
	}
	if apiKeyRe.MatchString(joined) {
		hitSet["api_key_like"] = struct{}{}
	}
	if awsKeyRe.MatchString(joined) {
		hitSet["aws_access_key_id"] = struct{}{}
	}
	if longHexRe.MatchString(strings.ToLower(joined)) {
		hitSet["long_hex_token"] = struct{}{}
	}
	if longB64Re.MatchString(joined) {
		hitSet["long_base64_token"] = struct{}{}
	}
	return len(hitSet) == 0, sortedKeys(hitSet)
}

var opinionMarkers = []string{"i think", "i feel", "my take", "opinion", "i learned", "lesson"}

func looksLikeOpinion(sentence string) bool {
	low := strings.ToLower(sentence)
	for _, m := range opinionMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

var sentenceSplitRe = regexp.MustCompile(`[\n.!?]`)

// extractClaims pulls specific, falsifiable sentences out of the tweets.
// Opinions and short fragments are excluded.
func extractClaims(tweets []string) []string {
	var claims []string
	for _, t := range tweets {
		for _, part := range sentenceSplitRe.Split(t, -1) {
			s := strings.TrimSpace(part)
			if s == "" || looksLikeOpinion(s) || len(tokenize(s)) < 4 {
				continue
			}
			claims = append(claims, s)
			if len(claims) >= 20 {
				return claims
			}
		}
	}
	return claims
}

const (
	groundingThreshold = 0.2
	groundingTopRefs   = 2
	groundingQuoteLen  = 180
)

// mapEvidence grounds each claim on up to two material snippets scoring at
// least the grounding threshold; claims with no qualifying snippet are
// reported as unsupported.
func mapEvidence(claims []string, evidence []models.EvidenceItem) (map[string][]models.EvidenceRef, []string) {
	evidenceMap := map[string][]models.EvidenceRef{}
	var unsupported []string
	for _, claim := range claims {
		cset := tokenize(claim)
		type scored struct {
			score float64
			item  models.EvidenceItem
		}
		var hits []scored
		for _, item := range evidence {
			if score := jaccard(cset, tokenize(item.RawSnippet)); score > 0 {
				hits = append(hits, scored{score, item})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
		var refs []models.EvidenceRef
		for _, h := range hits {
			if h.score < groundingThreshold || len(refs) >= groundingTopRefs {
				break
			}
			quote := h.item.RawSnippet
			if len(quote) > groundingQuoteLen {
				quote = quote[:groundingQuoteLen]
			}
			refs = append(refs, models.EvidenceRef{
				SourceName: h.item.SourceName,
				SourceID:   h.item.SourceID,
				Quote:      quote,
			})
		}
		if len(refs) == 0 {
			unsupported = append(unsupported, claim)
			continue
		}
		evidenceMap[claim] = refs
	}
	return evidenceMap, unsupported
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
