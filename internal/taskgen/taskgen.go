// Package taskgen implements TaskGenerator: a macro/template expander over
// JSON trees, applied to a sequence description before the
// SequenceEngine constructs Targets and Tasks from it.
package taskgen

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// maxPasses bounds recursive expansion to defend against pathological
// self-reference.
const maxPasses = 8

// Macro is a named function (args) -> string. A plain string value is
// modeled as a zero-arg Macro that ignores its arguments.
type Macro func(args []string) (string, bool)

// Inspector is the live-sequence collaborator backing the built-in
// target.uuid/target.status/sequence.progress macros. It is
// injected rather than imported directly, since internal/sequence in turn
// has no need to depend on this package, and binding happens once an
// Engine exists — before that, these three macro names simply evaluate to
// "not found" and are left unexpanded with a warning.
type Inspector interface {
	TargetUUID(name string) (string, bool)
	TargetStatus(name string) (string, bool)
	SequenceProgress() float64
}

var tokenRe = regexp.MustCompile(`\{([A-Za-z_][\w.]*)(?::([^{}]*))?\}`)

// Generator holds the registered macro table.
type Generator struct {
	mu     sync.RWMutex
	macros map[string]Macro
}

// New constructs a Generator with no macros bound.
func New() *Generator {
	return &Generator{macros: make(map[string]Macro)}
}

// Register adds or replaces a user macro under name.
func (g *Generator) Register(name string, m Macro) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.macros[name] = m
}

// BindInspector (re)registers the built-in target.uuid, target.status, and
// sequence.progress macros against insp.
func (g *Generator) BindInspector(insp Inspector) {
	g.Register("target.uuid", func(args []string) (string, bool) {
		if len(args) != 1 {
			return "", false
		}
		id, ok := insp.TargetUUID(strings.TrimSpace(args[0]))
		return id, ok
	})
	g.Register("target.status", func(args []string) (string, bool) {
		if len(args) != 1 {
			return "", false
		}
		status, ok := insp.TargetStatus(strings.TrimSpace(args[0]))
		return status, ok
	})
	g.Register("sequence.progress", func(args []string) (string, bool) {
		return fmt.Sprintf("%.2f", insp.SequenceProgress()), true
	})
}

func (g *Generator) lookup(name string) (Macro, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.macros[name]
	return m, ok
}

// Expand walks v (the result of json.Unmarshal into any — maps, slices,
// strings, numbers, bools, nil) and replaces every `{name}`/
// `{name:arg1,arg2}` token found in a string leaf, iterating to a fixpoint
// capped at maxPasses. Unresolved tokens are left verbatim and logged as
// warnings, never treated as an error.
func (g *Generator) Expand(v any) any {
	current := v
	for pass := 0; pass < maxPasses; pass++ {
		next, changed := g.expandOnce(current)
		current = next
		if !changed {
			break
		}
	}
	return current
}

func (g *Generator) expandOnce(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		out, changed := g.expandString(val)
		return out, changed
	case map[string]any:
		out := make(map[string]any, len(val))
		anyChanged := false
		for k, child := range val {
			newChild, changed := g.expandOnce(child)
			out[k] = newChild
			anyChanged = anyChanged || changed
		}
		return out, anyChanged
	case []any:
		out := make([]any, len(val))
		anyChanged := false
		for i, child := range val {
			newChild, changed := g.expandOnce(child)
			out[i] = newChild
			anyChanged = anyChanged || changed
		}
		return out, anyChanged
	default:
		return v, false
	}
}

func (g *Generator) expandString(s string) (string, bool) {
	changed := false
	out := tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		name := m[1]
		var args []string
		if m[2] != "" {
			args = strings.Split(m[2], ",")
		}

		macro, ok := g.lookup(name)
		if !ok {
			logger.Engine().Warn().Str("macro", name).Msg("no macro registered for this name; token left unexpanded")
			return tok
		}
		value, ok := macro(args)
		if !ok {
			logger.Engine().Warn().Str("macro", name).Msg("macro evaluation failed; token left unexpanded")
			return tok
		}
		changed = true
		return value
	})
	return out, changed
}
