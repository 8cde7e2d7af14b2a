// Package manifest implements three-tier tool disclosure: a lightweight
// brief for every tool (always loaded), a full input schema and examples
// per tool (loaded on selection), and the tool execution itself (out of
// this package's scope).
package manifest

import (
	"fmt"
	"log/slog"
)

// Brief is the tier-1 disclosure for one tool: enough to decide whether to
// ask for its schema, nothing more.
type Brief struct {
	Name     string   `json:"name"`
	Text     string   `json:"brief"`
	Category string   `json:"category"`
	UseCases []string `json:"use_cases"`
}

// Schema is the tier-2 disclosure for one tool: its full input schema plus
// a handful of example invocations.
type Schema struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema any              `json:"input_schema"`
	Examples    []map[string]any `json:"examples"`
}

// maxBriefTokens is the soft budget a brief (plus its use cases) is
// expected to stay under.
const maxBriefTokens = 50

// Manifest holds the registered briefs and schemas for a tool surface.
type Manifest struct {
	briefs  map[string]Brief
	order   []string
	schemas map[string]Schema
	logger  *slog.Logger
}

// New builds an empty Manifest. Pass logger for startup brief-validation
// warnings; nil falls back to slog.Default().
func New(logger *slog.Logger) *Manifest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manifest{
		briefs:  map[string]Brief{},
		schemas: map[string]Schema{},
		logger:  logger,
	}
}

// RegisterBrief adds a tier-1 brief. Call once per tool at startup.
func (m *Manifest) RegisterBrief(b Brief) {
	if _, exists := m.briefs[b.Name]; !exists {
		m.order = append(m.order, b.Name)
	}
	m.briefs[b.Name] = b
}

// RegisterSchema adds a tier-2 schema. Call once per tool at startup,
// alongside RegisterBrief.
func (m *Manifest) RegisterSchema(s Schema) {
	m.schemas[s.Name] = s
}

// GetManifest returns every registered brief, in registration order.
func (m *Manifest) GetManifest() []Brief {
	out := make([]Brief, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.briefs[name])
	}
	return out
}

// GetToolBrief returns one tool's tier-1 brief.
func (m *Manifest) GetToolBrief(name string) (Brief, bool) {
	b, ok := m.briefs[name]
	return b, ok
}

// GetToolSchema returns one tool's tier-2 schema, loaded on demand when a
// caller has selected that tool.
func (m *Manifest) GetToolSchema(name string) (Schema, bool) {
	s, ok := m.schemas[name]
	return s, ok
}

// EstimateTokens gives a rough token count for text: one token per four
// characters, the same crude estimate used to size tool briefs.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ValidateBriefs checks every registered brief against maxBriefTokens.
// Over-budget briefs are logged as warnings, not rejected: a verbose brief
// degrades context efficiency but never breaks correctness, so startup
// should not fail because of it.
func (m *Manifest) ValidateBriefs() {
	for _, name := range m.order {
		b := m.briefs[name]
		text := b.Text
		for _, uc := range b.UseCases {
			text += " " + uc
		}
		tokens := EstimateTokens(text)
		if tokens > maxBriefTokens {
			m.logger.Warn("tool brief exceeds token budget",
				"tool", name, "tokens", tokens, "budget", maxBriefTokens)
		}
	}
}

// MustHaveBrief panics if name has no registered brief, which catches a
// tool schema registered without its brief.
func (m *Manifest) MustHaveBrief(name string) {
	if _, ok := m.briefs[name]; !ok {
		panic(fmt.Sprintf("manifest: tool %q has a schema but no brief", name))
	}
}
