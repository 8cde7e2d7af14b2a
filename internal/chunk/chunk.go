// Package chunk defines the shared storage unit produced by the chunkers
// (internal/chunkdoc, internal/chunkcode) and consumed by every downstream
// component: the embedder, the vector store adapter, the retriever, and the
// synthesizer.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"path"
	"strings"
)

// ContentType is the structural kind of a chunk's content.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentList  ContentType = "list"
	ContentTable ContentType = "table"
	ContentCode  ContentType = "code"
)

// CodeType classifies a code chunk's syntactic role.
type CodeType string

const (
	CodeFunction CodeType = "function"
	CodeMethod   CodeType = "method"
	CodeClass    CodeType = "class"
	CodeModule   CodeType = "module"
)

// DocType classifies a documentation chunk by its project area.
type DocType string

const (
	DocFlow           DocType = "flow"
	DocSDLC           DocType = "sdlc"
	DocPolicy         DocType = "policy"
	DocInfrastructure DocType = "infrastructure"
	DocOther          DocType = "other"
)

// Chunk is the unit of storage: an embeddable span of text plus the
// payload fields the vector store indexes and filters on.
type Chunk struct {
	ID         uint64      `json:"id"`
	Vector     []float32   `json:"vector,omitempty"`
	Content    string      `json:"content"`
	FilePath   string      `json:"file_path"`
	LineStart  int         `json:"line_start"`
	LineEnd    int         `json:"line_end"`
	ContentType ContentType `json:"content_type"`
	Language   string      `json:"language,omitempty"`
	Section    string      `json:"section,omitempty"`
	DocType    DocType      `json:"doc_type,omitempty"`
	CodeType   CodeType     `json:"code_type,omitempty"`
	Name       string       `json:"name,omitempty"`
	ClassName  string       `json:"class_name,omitempty"`
	Imports    []string     `json:"imports,omitempty"`
	ListLength int          `json:"list_length,omitempty"`
	IsComplete bool         `json:"is_complete,omitempty"`
	IsDeleted  bool         `json:"is_deleted"`
	ContentHash string      `json:"content_hash"`

	// Collection records which logical store ("cloud" or "local") a result
	// was retrieved from. Not persisted as payload; set by the retriever.
	Collection string `json:"collection,omitempty"`
	// Score is the ranking score from whichever stage last touched this
	// chunk (vector similarity, hybrid combination, or rerank).
	Score float64 `json:"score,omitempty"`
}

// NormalizePath converts a path to forward slashes, lowercases a leading
// drive letter if one is present, and cleans it with path.Clean. It does
// not make the path relative to any root.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return path.Clean(p)
}

// ID derives the deterministic chunk id from its key:
// H(file_path_normalized, line_start) mod (2^63 - 1).
func ID(filePath string, lineStart int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(NormalizePath(filePath)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(itoa(lineStart)))
	const modulus = (uint64(1) << 63) - 1
	return h.Sum64() % modulus
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ContentHash digests content to detect unchanged chunks across indexing
// runs (internal/index's three-way diff).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
