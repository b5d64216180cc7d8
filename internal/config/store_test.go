package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithium-sequencer/sequencer/internal/config"
	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
)

func TestSetGet(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Set("site/location/latitude", 45.0))
	v, ok := s.Get("site/location/latitude")
	require.True(t, ok)
	assert.Equal(t, 45.0, v)
}

func TestSetThenRemove(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Set("a/b", 1.0))
	require.NoError(t, s.Remove("a/b"))
	assert.False(t, s.Has("a/b"))
}

func TestAppendCreatesArray(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Append("filters", "Ha"))
	require.NoError(t, s.Append("filters", "OIII"))
	v, _ := s.Get("filters")
	assert.Equal(t, []any{"Ha", "OIII"}, v)
}

func TestAppendOnScalarFails(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Set("x", 1.0))
	err := s.Append("x", 2.0)
	require.Error(t, err)
	assert.Equal(t, sequencererr.InvalidParameter, sequencererr.KindOf(err))
}

func TestMergeDeep(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Set("/", map[string]any{
		"site": map[string]any{"latitude": 10.0, "name": "A"},
	}))
	require.NoError(t, s.Merge(map[string]any{
		"site": map[string]any{"latitude": 20.0},
	}))
	v, _ := s.Get("site/latitude")
	assert.Equal(t, 20.0, v)
	name, _ := s.Get("site/name")
	assert.Equal(t, "A", name)
}

func TestSubscribeOrderingAndReentrancy(t *testing.T) {
	s := config.New()
	var events []config.EventKind
	s.Subscribe("/site", func(ev config.Event) {
		events = append(events, ev.Kind)
	})
	require.NoError(t, s.Set("/site/latitude", 45.0))
	require.NoError(t, s.Set("/site/longitude", -75.0))
	assert.Equal(t, []config.EventKind{config.ValueChanged, config.ValueChanged}, events)

	var reentrantErr error
	s.Subscribe("/site", func(ev config.Event) {
		reentrantErr = s.Set("/site/other", 1.0)
	})
	require.NoError(t, s.Set("/site/latitude", 46.0))
	require.Error(t, reentrantErr)
	assert.Equal(t, sequencererr.ReentrancyDenied, sequencererr.KindOf(reentrantErr))
}

func TestJSON5LoadMatchesStrictJSON(t *testing.T) {
	dir := t.TempDir()
	strict := `{"a": 1, "b": {"c": 2}}`
	json5 := "{\n  // comment\n  a: 1,\n  b: { c: 2 } /* trailing */\n}"

	require.NoError(t, os.WriteFile(filepath.Join(dir, "strict.json"), []byte(strict), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loose.json5"), []byte(json5), 0o644))

	s1 := config.New()
	require.NoError(t, s1.LoadFromFile(filepath.Join(dir, "strict.json")))
	s2 := config.New()
	require.NoError(t, s2.LoadFromFile(filepath.Join(dir, "loose.json5")))

	v1, _ := s1.Get("strict")
	v2, _ := s2.Get("loose")
	assert.Equal(t, v1, v2)
}

func TestLoadFromFileUnterminatedStringReportsLine(t *testing.T) {
	dir := t.TempDir()
	json5 := "{\n  a: 1,\n  b: \"unterminated\n}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json5"), []byte(json5), 0o644))

	s := config.New()
	err := s.LoadFromFile(filepath.Join(dir, "broken.json5"))
	require.Error(t, err)
	assert.Equal(t, sequencererr.InvalidParameter, sequencererr.KindOf(err))
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadFromFileUnterminatedBlockCommentReportsLine(t *testing.T) {
	dir := t.TempDir()
	json5 := "{\n  a: 1,\n  /* never closed\n  b: 2\n}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json5"), []byte(json5), 0o644))

	s := config.New()
	err := s.LoadFromFile(filepath.Join(dir, "broken.json5"))
	require.Error(t, err)
	assert.Equal(t, sequencererr.InvalidParameter, sequencererr.KindOf(err))
	assert.Contains(t, err.Error(), "line 3")
}

func TestTidyRebuildsFromFlatKeys(t *testing.T) {
	s := config.New()
	require.NoError(t, s.Set("/", map[string]any{
		"site/location/latitude": 45.0,
	}))
	require.NoError(t, s.Tidy())
	v, ok := s.Get("site/location/latitude")
	require.True(t, ok)
	assert.Equal(t, 45.0, v)
}
