// Package chunkdoc splits a Markdown document into structure-aware chunks:
// numbered lists, pipe tables, and fenced code blocks are kept whole
// regardless of size, remaining prose is packed to a target size with
// overlap, and every chunk records the nearest enclosing heading as its
// section.
package chunkdoc

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/koopa0/ragserver/internal/chunk"
)

// Options configures chunk packing. Zero value uses spec defaults.
type Options struct {
	TargetSize int // prose target size in characters, default 1000
	Overlap    int // prose overlap in characters, default 100
	// DocTypeMapping maps a file path's top-level directory segment to a
	// chunk.DocType. Unmapped segments resolve to chunk.DocOther.
	DocTypeMapping map[string]chunk.DocType
}

func (o Options) withDefaults() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = 1000
	}
	if o.Overlap <= 0 {
		o.Overlap = 100
	}
	return o
}

var (
	numberedListLineRe = regexp.MustCompile(`^\s*\d+\.\s`)
	tableRowRe         = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	tableSeparatorRe   = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// Chunk splits source (a Markdown file's full text) into chunks. filePath is
// normalized and recorded on every chunk; it also drives doc_type
// resolution via opts.DocTypeMapping.
func Chunk(source []byte, filePath string, opts Options) ([]chunk.Chunk, error) {
	opts = opts.withDefaults()
	normalizedPath := chunk.NormalizePath(filePath)
	docType := resolveDocType(normalizedPath, opts.DocTypeMapping)

	if len(bytes.TrimSpace(source)) == 0 {
		return nil, nil
	}

	lines := splitLinesKeepEnds(source)
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	w := &walker{
		source:     source,
		lines:      lines,
		filePath:   normalizedPath,
		docType:    docType,
		opts:       opts,
		headings:   []headingFrame{},
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if err := w.visitTop(n); err != nil {
			return nil, fmt.Errorf("chunking %s: %w", normalizedPath, err)
		}
	}
	w.flushProse()
	w.closeFinalHeading()

	return w.chunks, nil
}

type headingFrame struct {
	level     int
	text      string
	startLine int
	endLine   int
	// chunkCountAtOpen is len(walker.chunks) at the moment this heading was
	// pushed; if it's unchanged when the section closes, the section never
	// produced a chunk of its own and gets a heading-only fallback.
	chunkCountAtOpen int
	emitted          bool
}

type walker struct {
	source   []byte
	lines    []string
	filePath string
	docType  chunk.DocType
	opts     Options
	headings []headingFrame

	chunks []chunk.Chunk

	proseStart int // 1-based line where pending prose starts
	proseBuf   strings.Builder
	proseLines int
}

func (w *walker) currentSection() string {
	if len(w.headings) == 0 {
		return ""
	}
	return w.headings[len(w.headings)-1].text
}

// pushHeading closes out any heading at level or deeper, then opens a new
// frame for (level, text). A frame that never gained a chunk of its own
// before closing (a heading directly followed by another heading, with no
// intervening prose/list/table/code) gets a heading-only text chunk so
// every section is still represented in the output.
func (w *walker) pushHeading(level int, text string, startLine, endLine int) {
	for len(w.headings) > 0 && w.headings[len(w.headings)-1].level >= level {
		top := w.headings[len(w.headings)-1]
		w.headings = w.headings[:len(w.headings)-1]
		w.closeHeading(top)
	}
	if len(w.headings) > 0 {
		top := &w.headings[len(w.headings)-1]
		if !top.emitted && len(w.chunks) == top.chunkCountAtOpen {
			w.closeHeading(*top)
			top.emitted = true
		}
	}
	w.headings = append(w.headings, headingFrame{
		level:            level,
		text:             text,
		startLine:        startLine,
		endLine:          endLine,
		chunkCountAtOpen: len(w.chunks),
	})
}

// closeHeading emits a heading-only chunk for f if nothing was chunked
// while it was the current section; a no-op otherwise.
func (w *walker) closeHeading(f headingFrame) {
	if f.emitted || len(w.chunks) != f.chunkCountAtOpen {
		return
	}
	content := strings.TrimRight(strings.Join(w.lines[f.startLine-1:f.endLine], "\n"), "\n")
	if strings.TrimSpace(content) == "" {
		content = f.text
	}
	w.chunks = append(w.chunks, chunk.Chunk{
		ID:          chunk.ID(w.filePath, f.startLine),
		Content:     content,
		FilePath:    w.filePath,
		LineStart:   f.startLine,
		LineEnd:     f.endLine,
		Language:    "markdown",
		Section:     f.text,
		DocType:     w.docType,
		ContentType: chunk.ContentText,
		ContentHash: chunk.ContentHash(content),
	})
}

// closeFinalHeading emits a heading-only chunk for the innermost still-open
// section if the document ends without any content under it. Every
// ancestor frame was already resolved when its child was pushed, so only
// the stack top can still be pending here.
func (w *walker) closeFinalHeading() {
	if len(w.headings) == 0 {
		return
	}
	top := &w.headings[len(w.headings)-1]
	if !top.emitted {
		w.closeHeading(*top)
		top.emitted = true
	}
}

func (w *walker) visitTop(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Heading:
		w.flushProse()
		headingText := extractText(node, w.source)
		startLine, endLine := lineRange(node, w.lines)
		w.pushHeading(node.Level, headingText, startLine, endLine)
	case *ast.FencedCodeBlock:
		w.flushProse()
		w.emitFence(node)
	case *ast.List:
		w.flushProse()
		if handled := w.tryEmitNumberedList(node); !handled {
			w.appendProseNode(node)
		}
	case *ast.Paragraph:
		startLine, endLine := lineRange(node, w.lines)
		if raw, ok := w.tableLines(startLine, endLine); ok {
			w.flushProse()
			w.emitTable(raw, startLine, endLine)
			return nil
		}
		w.appendProseNode(node)
	default:
		w.appendProseNode(node)
	}
	return nil
}

func (w *walker) tableLines(startLine, endLine int) ([]string, bool) {
	if startLine < 1 || endLine > len(w.lines) || endLine-startLine < 1 {
		return nil, false
	}
	raw := w.lines[startLine-1 : endLine]
	if len(raw) < 2 {
		return nil, false
	}
	if !tableRowRe.MatchString(raw[0]) || !tableSeparatorRe.MatchString(raw[1]) {
		return nil, false
	}
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			return nil, false
		}
	}
	return raw, true
}

func (w *walker) emitTable(rawLines []string, startLine, endLine int) {
	content := strings.Join(rawLines, "\n")
	c := w.newChunk(content, startLine, endLine)
	c.ContentType = chunk.ContentTable
	c.ListLength = len(rawLines) - 2 // header + separator excluded
	if c.ListLength < 0 {
		c.ListLength = 0
	}
	c.IsComplete = true
	w.chunks = append(w.chunks, c)
}

func (w *walker) emitFence(node *ast.FencedCodeBlock) {
	startLine, endLine := lineRange(node, w.lines)
	// Include the fence delimiters themselves in recorded content/lines.
	if startLine > 1 && strings.HasPrefix(strings.TrimSpace(w.lines[startLine-2]), "```") {
		startLine--
	}
	if endLine < len(w.lines) && strings.HasPrefix(strings.TrimSpace(w.lines[endLine]), "```") {
		endLine++
	}
	content := strings.Join(w.lines[startLine-1:endLine], "\n")
	c := w.newChunk(content, startLine, endLine)
	c.ContentType = chunk.ContentCode
	if lang := node.Language(w.source); lang != nil {
		c.Language = strings.ToLower(string(lang))
	}
	c.IsComplete = true
	w.chunks = append(w.chunks, c)
}

// tryEmitNumberedList emits node as one content_type=list chunk if every
// top-level item's source line begins with "N. "; returns false if the
// list isn't a plain numbered list (e.g. bullet list), letting the caller
// fall back to prose packing.
func (w *walker) tryEmitNumberedList(node *ast.List) bool {
	if !node.IsOrdered() {
		return false
	}
	startLine, endLine := lineRange(node, w.lines)
	if startLine < 1 || endLine > len(w.lines) {
		return false
	}
	n := 0
	for _, l := range w.lines[startLine-1 : endLine] {
		if numberedListLineRe.MatchString(l) {
			n++
		}
	}
	if n == 0 {
		return false
	}
	content := strings.Join(w.lines[startLine-1:endLine], "\n")
	c := w.newChunk(content, startLine, endLine)
	c.ContentType = chunk.ContentList
	c.ListLength = n
	c.IsComplete = true
	w.chunks = append(w.chunks, c)
	return true
}

// appendProseNode folds a non-structural block into the pending prose
// buffer, to be packed into target-size chunks on the next flush.
func (w *walker) appendProseNode(n ast.Node) {
	startLine, endLine := lineRange(n, w.lines)
	if startLine < 1 || endLine > len(w.lines) || endLine < startLine {
		return
	}
	if w.proseBuf.Len() == 0 {
		w.proseStart = startLine
	}
	for _, l := range w.lines[startLine-1 : endLine] {
		w.proseBuf.WriteString(l)
		w.proseBuf.WriteByte('\n')
	}
	w.proseLines = endLine
}

// flushProse packs the accumulated prose into target-size/overlap chunks,
// never crossing the heading boundary already enforced by pushHeading
// flushing prose before updating the heading stack.
func (w *walker) flushProse() {
	if w.proseBuf.Len() == 0 {
		return
	}
	text := w.proseBuf.String()
	w.proseBuf.Reset()

	target := w.opts.TargetSize
	overlap := w.opts.Overlap
	runes := []rune(text)

	if len(runes) <= target {
		w.emitProseChunk(strings.TrimRight(text, "\n"), w.proseStart, w.proseLines)
		return
	}

	// lineAt maps a rune offset to its 1-based source line, by counting
	// newlines preceding it in the original prose text.
	lineAt := func(offset int) int {
		if offset > len(runes) {
			offset = len(runes)
		}
		return w.proseStart + strings.Count(string(runes[:offset]), "\n")
	}

	advance := target - overlap
	if advance <= 0 {
		advance = target
	}

	pos := 0
	for pos < len(runes) {
		end := pos + target
		if end > len(runes) {
			end = len(runes)
		}
		segment := string(runes[pos:end])
		startLine := lineAt(pos)
		endLine := lineAt(end)
		if endLine > w.proseLines {
			endLine = w.proseLines
		}
		w.emitProseChunk(strings.TrimRight(segment, "\n"), startLine, endLine)

		if end >= len(runes) {
			break
		}
		pos += advance
	}
}

func (w *walker) emitProseChunk(content string, startLine, endLine int) {
	if strings.TrimSpace(content) == "" {
		return
	}
	c := w.newChunk(content, startLine, endLine)
	c.ContentType = chunk.ContentText
	w.chunks = append(w.chunks, c)
}

func (w *walker) newChunk(content string, startLine, endLine int) chunk.Chunk {
	if endLine < startLine {
		endLine = startLine
	}
	return chunk.Chunk{
		ID:          chunk.ID(w.filePath, startLine),
		Content:     content,
		FilePath:    w.filePath,
		LineStart:   startLine,
		LineEnd:     endLine,
		Language:    "markdown",
		Section:     w.currentSection(),
		DocType:     w.docType,
		ContentHash: chunk.ContentHash(content),
	}
}

func resolveDocType(normalizedPath string, mapping map[string]chunk.DocType) chunk.DocType {
	seg := normalizedPath
	if idx := strings.Index(seg, "/"); idx >= 0 {
		seg = seg[:idx]
	}
	if mapping != nil {
		if dt, ok := mapping[seg]; ok {
			return dt
		}
	}
	return chunk.DocOther
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		} else {
			sb.WriteString(extractText(c, source))
		}
	}
	return strings.TrimSpace(sb.String())
}

// lineRange returns the 1-based [start, end] source line range a node
// spans, derived from its first and last text segment.
func lineRange(n ast.Node, lines []string) (int, int) {
	start, sOK := firstLine(n)
	end, eOK := lastLine(n)
	if !sOK || !eOK {
		return 0, 0
	}
	// start and end are byte offsets into the source (end exclusive); map
	// each to the 1-based line holding it.
	toLine := func(offset int) int {
		pos := 0
		for i, l := range lines {
			pos += len(l) + 1
			if offset < pos {
				return i + 1
			}
		}
		return len(lines)
	}
	startLine, endLine := toLine(start), toLine(end-1)
	if endLine < startLine {
		endLine = startLine
	}
	return startLine, endLine
}

func firstLine(n ast.Node) (int, bool) {
	if l, ok := n.(*ast.FencedCodeBlock); ok && l.Lines().Len() > 0 {
		return l.Lines().At(0).Start, true
	}
	if lines := linesOf(n); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if ln, ok := firstLine(c); ok {
			return ln, true
		}
	}
	return 0, false
}

func lastLine(n ast.Node) (int, bool) {
	if lines := linesOf(n); lines != nil && lines.Len() > 0 {
		return lines.At(lines.Len() - 1).Stop, true
	}
	var last int
	var found bool
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if ln, ok := lastLine(c); ok {
			last = ln
			found = true
		}
	}
	return last, found
}

func linesOf(n ast.Node) *text.Segments {
	switch node := n.(type) {
	case *ast.FencedCodeBlock:
		return node.Lines()
	case *ast.Paragraph:
		return node.Lines()
	case *ast.TextBlock:
		return node.Lines()
	case *ast.Heading:
		return node.Lines()
	}
	return nil
}

func splitLinesKeepEnds(source []byte) []string {
	var out []string
	var cur strings.Builder
	for _, b := range source {
		if b == '\n' {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(b)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
