// Package classify maps a query string to retrieval intent and hints.
// Classification is regex-based, pure, and side-effect free: the same
// query always yields the same result.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/koopa0/ragserver/internal/chunk"
)

// Intent names the retrieval strategy a query calls for.
type Intent string

const (
	IntentEnumeration Intent = "enumeration"
	IntentExplanation Intent = "explanation"
	IntentCodeSearch  Intent = "code_search"
	IntentComparison  Intent = "comparison"
	IntentFactual     Intent = "factual"
)

// Hints carries the retrieval parameters a classified intent suggests.
type Hints struct {
	TopK                int
	Expand              bool
	MergeContiguous     bool
	RestrictContentType *chunk.ContentType
	OrderBySection      bool // order by section, then by numeric prefix within it
	Operands            []string
}

// Result is the outcome of classifying one query.
type Result struct {
	Intent     Intent
	Confidence float64
	Keywords   []string
	Hints      Hints
}

var codeContentType = chunk.ContentCode

type patternGroup struct {
	intent         Intent
	baseConfidence float64
	patterns       []*regexp.Regexp
	hints          Hints
}

var groups = []patternGroup{
	{
		intent:         IntentEnumeration,
		baseConfidence: 0.9,
		patterns: compileAll(
			`\blist\s+all\b`,
			`\bhow\s+many\b`,
			`\bwhat\s+are\s+all\b`,
			`\benumerate\b`,
			`\bshow\s+me\s+all\b`,
			`\bcomplete\s+list\b`,
			`\ball\s+of\s+the\b`,
			`\bgive\s+me\s+all\b`,
		),
		hints: Hints{TopK: 30, Expand: true, OrderBySection: true},
	},
	{
		intent:         IntentCodeSearch,
		baseConfidence: 0.9,
		patterns: compileAll(
			`\bshow\s+me.*code\b`,
			`\bfind.*function\b`,
			`\bwhere\s+is.*implementation\b`,
			`\bcode\s+for\b`,
			`\bfind.*method\b`,
			`\bimplementation\s+of\b`,
			`\bhow\s+.*is.*implemented\b`,
			`\bclass.*definition\b`,
			`\bfunction.*signature\b`,
			"`[^`]+`",
		),
		hints: Hints{TopK: 20, Expand: false, RestrictContentType: &codeContentType},
	},
	{
		intent:         IntentComparison,
		baseConfidence: 0.85,
		patterns: compileAll(
			`\bdifference\s+between\b`,
			`\bcompare\b`,
			`\bvs\.\b`,
			`\bversus\b`,
			`\bvs\b`,
			`\bwhat\s+is\s+different\b`,
			`\bsimilarities\s+and\s+differences\b`,
		),
		hints: Hints{TopK: 20, Expand: true},
	},
	{
		intent:         IntentExplanation,
		baseConfidence: 0.80,
		patterns: compileAll(
			`\bhow\s+does\b`,
			`\bexplain\b`,
			`\bwhy\b`,
			`\bdescribe\b`,
			`\bwhat\s+does\b`,
			`\btell\s+me\s+about\b`,
			`\bwhat\s+are\s+the\b`,
			`\bwhat\s+is\b`,
		),
		hints: Hints{TopK: 20, Expand: true, MergeContiguous: true},
	},
}

var comparisonOperandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)difference\s+between\s+(.+?)\s+and\s+(.+?)([.?!]|$)`),
	regexp.MustCompile(`(?i)(.+?)\s+vs\.?\s+(.+?)([.?!]|$)`),
	regexp.MustCompile(`(?i)(.+?)\s+versus\s+(.+?)([.?!]|$)`),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// Classify determines query's intent. Priority order is enumeration,
// code_search, comparison, explanation; this mirrors the order specificity
// decreases, so a query matching both "list all" and "explain" is treated
// as an enumeration. A query matching none of them defaults to
// explanation.
func Classify(query string) (Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{}, fmt.Errorf("classify: query must not be empty")
	}

	for _, g := range groups {
		matched, keywords := matchGroup(trimmed, g.patterns)
		if matched == 0 {
			continue
		}
		confidence := g.baseConfidence + float64(matched)*0.05
		if confidence > 1.0 {
			confidence = 1.0
		}
		hints := g.hints
		if g.intent == IntentComparison {
			hints.Operands = extractOperands(trimmed)
		}
		return Result{Intent: g.intent, Confidence: confidence, Keywords: keywords, Hints: hints}, nil
	}

	return Result{
		Intent:     IntentExplanation,
		Confidence: 0.5,
		Hints:      Hints{TopK: 20, Expand: true, MergeContiguous: true},
	}, nil
}

func matchGroup(query string, patterns []*regexp.Regexp) (int, []string) {
	seen := map[string]bool{}
	var keywords []string
	for _, re := range patterns {
		m := re.FindString(query)
		if m == "" {
			continue
		}
		if !seen[re.String()] {
			seen[re.String()] = true
			keywords = append(keywords, strings.TrimSpace(m))
		}
	}
	return len(seen), keywords
}

// extractOperands pulls the two compared terms out of a comparison query,
// e.g. "difference between A and B" -> ["A", "B"]. Returns nil if no
// operand pattern matches, leaving the caller to fall back to the whole
// query as a single subquery.
func extractOperands(query string) []string {
	for _, re := range comparisonOperandPatterns {
		m := re.FindStringSubmatch(query)
		if len(m) >= 3 {
			a := strings.TrimSpace(m[1])
			b := strings.TrimSpace(m[2])
			if a != "" && b != "" {
				return []string{a, b}
			}
		}
	}
	return nil
}
