// Package synthesize assembles a textual answer plus a citation list from
// a ranked set of chunks, using one of five intent-specific strategies.
package synthesize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/classify"
)

// Citation records the provenance of one chunk that contributed to an
// answer, in first-reference order.
type Citation struct {
	FilePath  string
	LineStart int
	LineEnd   int
	Section   string
}

// Answer is a synthesized response: text plus the chunks that backed it.
type Answer struct {
	Text       string
	Citations  []Citation
	Complete   bool   // enumeration only: whether the observed numbers formed [1,N] with no gaps
	Note       string // enumeration only: describes any gap, e.g. "missing 3, 7"
}

var numberedLineRe = regexp.MustCompile(`(?m)^\s*(\d+)\.\s(.*)$`)

// Synthesize produces an answer for one of the four non-comparison
// intents. Comparison is handled by SynthesizeComparison, since it needs
// two independently-retrieved chunk sets.
func Synthesize(intent classify.Intent, chunks []chunk.Chunk) (Answer, error) {
	switch intent {
	case classify.IntentEnumeration:
		return synthesizeEnumeration(chunks), nil
	case classify.IntentExplanation:
		return synthesizeExplanation(chunks), nil
	case classify.IntentCodeSearch:
		return synthesizeCodeSearch(chunks), nil
	case classify.IntentFactual:
		return synthesizeFactual(chunks), nil
	case classify.IntentComparison:
		return Answer{}, fmt.Errorf("synthesize: comparison intent requires SynthesizeComparison")
	default:
		return Answer{}, fmt.Errorf("synthesize: unknown intent %q", intent)
	}
}

// SynthesizeComparison runs an explanation synthesis over each operand's
// chunk set and presents them side by side under two headings.
func SynthesizeComparison(operandA string, chunksA []chunk.Chunk, operandB string, chunksB []chunk.Chunk) Answer {
	left := synthesizeExplanation(chunksA)
	right := synthesizeExplanation(chunksB)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n%s\n\n## %s\n\n%s", operandA, left.Text, operandB, right.Text)

	return Answer{
		Text:      sb.String(),
		Citations: append(append([]Citation(nil), left.Citations...), right.Citations...),
	}
}

type numberedItem struct {
	n      int
	text   string
	source Citation
}

func synthesizeEnumeration(chunks []chunk.Chunk) Answer {
	seen := map[int]bool{}
	var items []numberedItem
	var citations []Citation

	for _, c := range chunks {
		matches := numberedLineRe.FindAllStringSubmatch(c.Content, -1)
		if len(matches) == 0 {
			continue
		}
		cited := false
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			// First occurrence wins: a later duplicate of the same number
			// never overwrites an earlier, already-accepted entry.
			if seen[n] {
				continue
			}
			seen[n] = true
			items = append(items, numberedItem{n: n, text: strings.TrimSpace(m[2]), source: citationFor(c)})
			if !cited {
				citations = append(citations, citationFor(c))
				cited = true
			}
		}
	}

	if len(items) == 0 {
		var sb strings.Builder
		for i, c := range chunks {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(c.Content)
		}
		return Answer{Text: sb.String(), Citations: citationsFor(chunks)}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].n < items[j].n })

	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", it.n, it.text)
	}

	complete := true
	var missing []string
	for n := 1; n <= items[len(items)-1].n; n++ {
		if !seen[n] {
			complete = false
			missing = append(missing, strconv.Itoa(n))
		}
	}

	note := fmt.Sprintf("complete (1..%d)", items[len(items)-1].n)
	if !complete {
		note = "missing " + strings.Join(missing, ", ")
	}

	return Answer{Text: sb.String(), Citations: citations, Complete: complete, Note: note}
}

func synthesizeExplanation(chunks []chunk.Chunk) Answer {
	if len(chunks) == 0 {
		return Answer{}
	}
	sorted := append([]chunk.Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FilePath != sorted[j].FilePath {
			return sorted[i].FilePath < sorted[j].FilePath
		}
		return sorted[i].LineStart < sorted[j].LineStart
	})

	kept := dropOverlaps(sorted)

	var sb strings.Builder
	var citations []Citation
	currentFile := ""
	for i, c := range kept {
		if c.FilePath != currentFile {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "## %s\n\n", c.FilePath)
			currentFile = c.FilePath
		} else if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(c.Content)
		citations = append(citations, citationFor(c))
	}

	return Answer{Text: sb.String(), Citations: citations}
}

// dropOverlaps keeps the longer chunk whenever two chunks in the same file
// have intersecting line ranges, scanning sorted input left to right.
func dropOverlaps(sorted []chunk.Chunk) []chunk.Chunk {
	var kept []chunk.Chunk
	for _, c := range sorted {
		if len(kept) > 0 {
			last := kept[len(kept)-1]
			if last.FilePath == c.FilePath && overlaps(last, c) {
				if length(c) > length(last) {
					kept[len(kept)-1] = c
				}
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept
}

func overlaps(a, b chunk.Chunk) bool {
	return a.LineStart <= b.LineEnd && b.LineStart <= a.LineEnd
}

func length(c chunk.Chunk) int { return c.LineEnd - c.LineStart }

func synthesizeCodeSearch(chunks []chunk.Chunk) Answer {
	if len(chunks) == 0 {
		return Answer{}
	}
	byFile := map[string][]chunk.Chunk{}
	var files []string
	for _, c := range chunks {
		if _, ok := byFile[c.FilePath]; !ok {
			files = append(files, c.FilePath)
		}
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}
	sort.Strings(files)

	var sb strings.Builder
	var citations []Citation
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "**%s**\n", f)
		group := byFile[f]
		sort.Slice(group, func(a, b int) bool { return group[a].LineStart < group[b].LineStart })
		for _, c := range group {
			locator := ""
			if c.ClassName != "" && c.Name != "" {
				locator = fmt.Sprintf(" %s.%s", c.ClassName, c.Name)
			} else if c.Name != "" {
				locator = " " + c.Name
			}
			fmt.Fprintf(&sb, "\n%s:%d-%d%s\n```%s\n%s\n```\n", c.FilePath, c.LineStart, c.LineEnd, locator, c.Language, c.Content)
			citations = append(citations, citationFor(c))
		}
	}
	return Answer{Text: sb.String(), Citations: citations}
}

func synthesizeFactual(chunks []chunk.Chunk) Answer {
	if len(chunks) == 0 {
		return Answer{Text: "No relevant information found."}
	}
	top := chunks[0]
	for _, c := range chunks[1:] {
		if c.Score > top.Score {
			top = c
		}
	}
	return Answer{Text: top.Content, Citations: []Citation{citationFor(top)}}
}

func citationFor(c chunk.Chunk) Citation {
	return Citation{FilePath: c.FilePath, LineStart: c.LineStart, LineEnd: c.LineEnd, Section: c.Section}
}

func citationsFor(chunks []chunk.Chunk) []Citation {
	out := make([]Citation, len(chunks))
	for i, c := range chunks {
		out[i] = citationFor(c)
	}
	return out
}
