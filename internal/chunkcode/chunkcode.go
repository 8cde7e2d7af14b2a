// Package chunkcode splits a source file into one chunk per top-level
// function, method, or class. Go files use the standard library's
// go/parser and go/ast; every other language goes through a regex-based
// extractor that is invoked automatically so indexing never fails silently
// on a missing grammar.
package chunkcode

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/koopa0/ragserver/internal/chunk"
)

// Chunk splits source (a source file's full text) into code chunks.
// language names the source language (e.g. "go", "python", "typescript");
// filePath is normalized and recorded on every chunk.
func Chunk(source []byte, filePath, language string) ([]chunk.Chunk, error) {
	normalizedPath := chunk.NormalizePath(filePath)
	if len(strings.TrimSpace(string(source))) == 0 {
		return nil, nil
	}

	if language == "go" {
		chunks, err := chunkGo(source, normalizedPath)
		if err == nil {
			return chunks, nil
		}
		// Parse failure on the primary path: fall through to the regex
		// extractor rather than aborting the file.
	}
	return chunkRegex(source, normalizedPath, language), nil
}

// chunkGo parses source as Go and emits one chunk per top-level func decl
// (including methods) and one chunk per type declaration with no
// associated methods in this file.
func chunkGo(source []byte, filePath string) ([]chunk.Chunk, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("go/parser: %w", err)
	}

	imports := goImportLines(file, fset, source)
	lines := splitLines(source)

	methodsByType := map[string]bool{}
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Recv != nil {
			if name := receiverTypeName(fd.Recv); name != "" {
				methodsByType[name] = true
			}
		}
	}

	var chunks []chunk.Chunk
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			body := strings.Join(lines[clampStart(start, len(lines)):clampEnd(end, len(lines))], "\n")

			var className, name, codeType string
			name = d.Name.Name
			if d.Recv != nil {
				className = receiverTypeName(d.Recv)
				codeType = string(chunk.CodeMethod)
			} else {
				codeType = string(chunk.CodeFunction)
			}

			content := composeCodeChunk(imports, classDeclLine(file, fset, source, className), body)
			c := chunk.Chunk{
				ID:          chunk.ID(filePath, start),
				Content:     content,
				FilePath:    filePath,
				LineStart:   start,
				LineEnd:     end,
				ContentType: chunk.ContentCode,
				Language:    "go",
				CodeType:    chunk.CodeType(codeType),
				Name:        name,
				ClassName:   className,
				Imports:     imports,
				ContentHash: chunk.ContentHash(content),
			}
			chunks = append(chunks, c)

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if methodsByType[ts.Name.Name] {
					continue // emitted per-method above
				}
				start := fset.Position(d.Pos()).Line
				end := fset.Position(d.End()).Line
				body := strings.Join(lines[clampStart(start, len(lines)):clampEnd(end, len(lines))], "\n")
				content := composeCodeChunk(imports, "", body)
				c := chunk.Chunk{
					ID:          chunk.ID(filePath, start),
					Content:     content,
					FilePath:    filePath,
					LineStart:   start,
					LineEnd:     end,
					ContentType: chunk.ContentCode,
					Language:    "go",
					CodeType:    chunk.CodeClass,
					Name:        ts.Name.Name,
					Imports:     imports,
					ContentHash: chunk.ContentHash(content),
				}
				chunks = append(chunks, c)
			}
		}
	}

	return chunks, nil
}

func composeCodeChunk(imports []string, classDecl, body string) string {
	var sb strings.Builder
	for _, imp := range imports {
		sb.WriteString(imp)
		sb.WriteByte('\n')
	}
	if len(imports) > 0 {
		sb.WriteByte('\n')
	}
	if classDecl != "" {
		sb.WriteString(classDecl)
		sb.WriteByte('\n')
	}
	sb.WriteString(body)
	return sb.String()
}

func receiverTypeName(recv *ast.FieldList) string {
	if recv == nil || len(recv.List) == 0 {
		return ""
	}
	expr := recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if ident, ok := expr.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

func classDeclLine(file *ast.File, fset *token.FileSet, source []byte, className string) string {
	if className == "" {
		return ""
	}
	lines := splitLines(source)
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if ok && ts.Name.Name == className {
				line := fset.Position(ts.Pos()).Line
				if line >= 1 && line <= len(lines) {
					return strings.TrimRight(lines[line-1], " \t")
				}
			}
		}
	}
	return ""
}

func goImportLines(file *ast.File, fset *token.FileSet, source []byte) []string {
	lines := splitLines(source)
	var out []string
	for _, imp := range file.Imports {
		line := fset.Position(imp.Pos()).Line
		if line >= 1 && line <= len(lines) {
			out = append(out, strings.TrimSpace(lines[line-1]))
		}
	}
	return out
}

func clampStart(line, n int) int {
	if line < 1 {
		return 0
	}
	if line-1 > n {
		return n
	}
	return line - 1
}

func clampEnd(line, n int) int {
	if line > n {
		return n
	}
	if line < 0 {
		return 0
	}
	return line
}

func splitLines(source []byte) []string {
	return strings.Split(string(source), "\n")
}

// Regex fallback extractor, used for every non-Go language and for any Go
// file the AST path could not parse.

var headerPatterns = []struct {
	codeType chunk.CodeType
	re       *regexp.Regexp
}{
	{chunk.CodeClass, regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	{chunk.CodeFunction, regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)},
	{chunk.CodeFunction, regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)},
	{chunk.CodeFunction, regexp.MustCompile(`^\s*(?:public|private|protected|static|final|\s)*\b(?:[A-Za-z_<>\[\],.\s]+)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*\)\s*\{?\s*$`)},
}

var importLineRe = regexp.MustCompile(`^\s*(import\s|from\s.*\simport\b|#include\s|using\s|package\s)`)

// chunkRegex extracts def/class/function headers at any indentation via
// pattern matching and captures each header through the line before the
// next matching header (or the end of the file for the last one) — a
// coarse but dependable approximation of a block body when no grammar is
// available.
func chunkRegex(source []byte, filePath, language string) []chunk.Chunk {
	lines := splitLines(source)
	var imports []string
	for _, l := range lines {
		if importLineRe.MatchString(l) {
			imports = append(imports, strings.TrimRight(l, " \t\r"))
		}
	}

	type header struct {
		line     int
		name     string
		codeType chunk.CodeType
	}
	var headers []header
	for i, l := range lines {
		for _, p := range headerPatterns {
			if m := p.re.FindStringSubmatch(l); m != nil {
				headers = append(headers, header{line: i + 1, name: m[1], codeType: p.codeType})
				break
			}
		}
	}

	if len(headers) == 0 {
		return nil
	}

	var chunks []chunk.Chunk
	for i, h := range headers {
		end := len(lines)
		if i+1 < len(headers) {
			end = headers[i+1].line - 1
		}
		body := strings.Join(lines[clampStart(h.line, len(lines)):clampEnd(end, len(lines))], "\n")
		body = strings.TrimRight(body, "\n")
		content := composeCodeChunk(imports, "", body)
		chunks = append(chunks, chunk.Chunk{
			ID:          chunk.ID(filePath, h.line),
			Content:     content,
			FilePath:    filePath,
			LineStart:   h.line,
			LineEnd:     end,
			ContentType: chunk.ContentCode,
			Language:    language,
			CodeType:    h.codeType,
			Name:        h.name,
			Imports:     imports,
			ContentHash: chunk.ContentHash(content),
		})
	}
	return chunks
}
