package taskgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lithium-sequencer/sequencer/internal/taskgen"
)

type fakeInspector struct{}

func (fakeInspector) TargetUUID(name string) (string, bool) {
	if name == "M42" {
		return "11111111-1111-1111-1111-111111111111", true
	}
	return "", false
}

func (fakeInspector) TargetStatus(name string) (string, bool) {
	if name == "M42" {
		return "Running", true
	}
	return "", false
}

func (fakeInspector) SequenceProgress() float64 { return 42.5 }

func TestExpandSimpleToken(t *testing.T) {
	g := taskgen.New()
	g.Register("greeting", func(args []string) (string, bool) { return "hello", true })

	out := g.Expand("say {greeting}")
	assert.Equal(t, "say hello", out)
}

func TestExpandWithArgs(t *testing.T) {
	g := taskgen.New()
	g.Register("join", func(args []string) (string, bool) { return args[0] + "-" + args[1], true })

	out := g.Expand("{join:a,b}")
	assert.Equal(t, "a-b", out)
}

func TestUnknownMacroLeftUnexpanded(t *testing.T) {
	g := taskgen.New()
	out := g.Expand("value is {nonexistent}")
	assert.Equal(t, "value is {nonexistent}", out)
}

func TestBuiltinInspectorMacros(t *testing.T) {
	g := taskgen.New()
	g.BindInspector(fakeInspector{})

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", g.Expand("{target.uuid:M42}"))
	assert.Equal(t, "Running", g.Expand("{target.status:M42}"))
	assert.Equal(t, "42.50", g.Expand("{sequence.progress}"))
}

func TestExpandWalksNestedTree(t *testing.T) {
	g := taskgen.New()
	g.Register("x", func(args []string) (string, bool) { return "X", true })

	tree := map[string]any{
		"name": "{x}-target",
		"tasks": []any{
			map[string]any{"path": "/bin/{x}"},
		},
	}
	out := g.Expand(tree).(map[string]any)
	assert.Equal(t, "X-target", out["name"])
	tasks := out["tasks"].([]any)
	assert.Equal(t, "/bin/X", tasks[0].(map[string]any)["path"])
}

func TestFixpointCapsAtEightPasses(t *testing.T) {
	g := taskgen.New()
	// self-referential macro: every expansion reintroduces its own token,
	// exercising the maxPasses=8 backstop rather than looping forever.
	g.Register("loop", func(args []string) (string, bool) { return "{loop}", true })

	out := g.Expand("{loop}")
	assert.Equal(t, "{loop}", out)
}
