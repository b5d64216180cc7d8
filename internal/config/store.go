// Package config implements ConfigStore: a hierarchical JSON tree keyed by
// slash-separated paths, with reader/writer locking, JSON5 ingestion,
// deep-merge, snapshot persistence, and change-notification subscriptions.
// Grounded on original_source/src/config/configor.cpp for the exact
// path-walk/create/merge/tidy semantics, re-expressed with Go's
// sync.RWMutex in place of std::shared_mutex and without the destructor-
// triggered autosave the original performs on teardown.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// EventKind is the kind of change-notification a subscriber receives.
type EventKind string

const (
	ValueChanged EventKind = "ValueChanged"
	ValueRemoved EventKind = "ValueRemoved"
	FileLoaded   EventKind = "FileLoaded"
	FileSaved    EventKind = "FileSaved"
	Cleared      EventKind = "Cleared"
	Merged       EventKind = "Merged"
)

// Event is delivered to subscribers after a write is visible.
type Event struct {
	Kind  EventKind
	Path  string
	Value any
}

// Callback is a change-notification handler. It must not call back into a
// mutating ConfigStore operation; doing so is rejected with ReentrancyDenied.
type Callback func(Event)

type subscription struct {
	id     int
	prefix string
	cb     Callback
}

// Store is the ConfigStore. Zero value is not usable; use New.
type Store struct {
	mu   sync.RWMutex
	tree any // root: map[string]any, or any JSON value when path "/" was used

	subsMu  sync.Mutex
	subs    []subscription
	nextSub int

	notifying atomic.Bool
}

// New returns an empty ConfigStore with an empty object as its root.
func New() *Store {
	return &Store{tree: map[string]any{}}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Get locates the value at path, walking the tree. Returns (nil, false) if
// any segment is missing or an intermediate node is not an object.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if path == "/" || path == "" {
		return s.tree, true
	}

	var cur any = s.tree
	for _, seg := range splitPath(path) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path resolves to a value.
func (s *Store) Has(path string) bool {
	_, ok := s.Get(path)
	return ok
}

func (s *Store) checkReentrant() *sequencererr.Error {
	if s.notifying.Load() {
		return sequencererr.New(sequencererr.ReentrancyDenied, "mutating call from within a subscriber callback")
	}
	return nil
}

// Set creates missing intermediate objects and replaces the value at path.
// If path is "/" the entire tree is replaced.
func (s *Store) Set(path string, value any) error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	if path == "/" || path == "" {
		s.tree = value
		s.mu.Unlock()
		s.notify(Event{Kind: ValueChanged, Path: "/", Value: value})
		return nil
	}

	segs := splitPath(path)
	root, ok := s.tree.(map[string]any)
	if !ok {
		root = map[string]any{}
		s.tree = root
	}
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = value
			break
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	s.mu.Unlock()
	s.notify(Event{Kind: ValueChanged, Path: path, Value: value})
	return nil
}

// Append pushes value onto the array at path, creating an empty array if
// the path is absent. Appending to an existing scalar or non-array object
// fails with InvalidParameter — a uniform rule, no root-path special case
// (see DESIGN.md's Open Question decisions).
func (s *Store) Append(path string, value any) error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	segs := splitPath(path)
	if len(segs) == 0 {
		s.mu.Unlock()
		return sequencererr.New(sequencererr.InvalidParameter, "append requires a non-root path")
	}

	root, ok := s.tree.(map[string]any)
	if !ok {
		root = map[string]any{}
		s.tree = root
	}
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			existing, present := cur[seg]
			if !present {
				cur[seg] = []any{value}
				break
			}
			arr, ok := existing.([]any)
			if !ok {
				s.mu.Unlock()
				return sequencererr.New(sequencererr.InvalidParameter, fmt.Sprintf("%s is not an array", path))
			}
			cur[seg] = append(arr, value)
			break
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	s.mu.Unlock()
	s.notify(Event{Kind: ValueChanged, Path: path, Value: value})
	return nil
}

// Remove deletes the final segment's key from its parent. Fails if any
// segment is missing.
func (s *Store) Remove(path string) error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	segs := splitPath(path)
	if len(segs) == 0 {
		s.mu.Unlock()
		return sequencererr.New(sequencererr.InvalidParameter, "remove requires a non-root path")
	}
	root, ok := s.tree.(map[string]any)
	if !ok {
		s.mu.Unlock()
		return sequencererr.New(sequencererr.InvalidParameter, "key not found: "+path)
	}
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			if _, present := cur[seg]; !present {
				s.mu.Unlock()
				return sequencererr.New(sequencererr.InvalidParameter, "key not found: "+path)
			}
			delete(cur, seg)
			break
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			s.mu.Unlock()
			return sequencererr.New(sequencererr.InvalidParameter, "key not found: "+path)
		}
		cur = next
	}
	s.mu.Unlock()
	s.notify(Event{Kind: ValueRemoved, Path: path})
	return nil
}

// Merge deep-merges src into the tree: objects recurse, scalars and arrays
// from src replace the target.
func (s *Store) Merge(src map[string]any) error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	root, ok := s.tree.(map[string]any)
	if !ok {
		root = map[string]any{}
		s.tree = root
	}
	mergeInto(src, root)
	s.mu.Unlock()
	s.notify(Event{Kind: Merged, Path: "/"})
	return nil
}

func mergeInto(src, target map[string]any) {
	for k, v := range src {
		if srcObj, ok := v.(map[string]any); ok {
			if tgtObj, ok := target[k].(map[string]any); ok {
				mergeInto(srcObj, tgtObj)
				continue
			}
		}
		target[k] = v
	}
}

// Clear empties the tree back to an empty object.
func (s *Store) Clear() error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tree = map[string]any{}
	s.mu.Unlock()
	s.notify(Event{Kind: Cleared, Path: "/"})
	return nil
}

// Tidy re-interprets every top-level key as a slash-path and rebuilds the
// tree from it, normalizing a flat top level produced by many individual
// Set calls, grounded on original_source/src/config/configor.cpp's tidy.
func (s *Store) Tidy() error {
	if err := s.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	root, ok := s.tree.(map[string]any)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	rebuilt := map[string]any{}
	for k, v := range root {
		segs := splitPath(k)
		if len(segs) == 0 {
			continue
		}
		cur := rebuilt
		for i, seg := range segs {
			if i == len(segs)-1 {
				cur[seg] = v
				break
			}
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[seg] = next
			}
			cur = next
		}
	}
	s.tree = rebuilt
	s.mu.Unlock()
	return nil
}

// Keys returns every leaf path in the tree, recursively.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	var walk func(v any, prefix string)
	walk = func(v any, prefix string) {
		obj, ok := v.(map[string]any)
		if !ok {
			paths = append(paths, prefix)
			return
		}
		for k, sub := range obj {
			walk(sub, prefix+"/"+k)
		}
	}
	if root, ok := s.tree.(map[string]any); ok {
		for k, v := range root {
			walk(v, "/"+k)
		}
	}
	sort.Strings(paths)
	return paths
}

// LoadFromFile parses a JSON or JSON5 file and inserts its tree under a key
// equal to the file's stem. Accepts .json/.lithium as
// strict JSON and .json5/.lithium5 through the ToJSON transform.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "failed to open config file", err)
	}
	text := string(data)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json5" || ext == ".lithium5" {
		converted, err := ToJSON(text)
		if err != nil {
			return sequencererr.Wrap(sequencererr.InvalidParameter, "failed to parse JSON5 in "+path, err)
		}
		text = converted
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "failed to parse config file "+path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := s.Set(stem, parsed); err != nil {
		return err
	}
	s.notify(Event{Kind: FileLoaded, Path: path})
	return nil
}

// LoadFromDir loads every regular file with a recognized extension from
// dir; individual file failures are logged and skipped, not fatal.
// Recurses into subdirectories when recursive is true.
func (s *Store) LoadFromDir(dir string, recursive bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "failed to read config directory", err)
	}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if recursive {
				if err := s.LoadFromDir(full, true); err != nil {
					logger.Config().Warn().Str("dir", full).Err(err).Msg("load from subdirectory failed")
				}
			}
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".json", ".lithium", ".json5", ".lithium5":
			if err := s.LoadFromFile(full); err != nil {
				logger.Config().Warn().Str("file", full).Err(err).Msg("load config file failed")
			}
		}
	}
	return nil
}

// Save serializes the subtree keyed by filePath's stem to filePath with
// two-space indentation.
func (s *Store) Save(filePath string) error {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	v, ok := s.Get(stem)
	if !ok {
		return sequencererr.New(sequencererr.InvalidParameter, "no config found for "+stem)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "failed to marshal config", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "failed to write config file", err)
	}
	s.notify(Event{Kind: FileSaved, Path: filePath})
	return nil
}

// SaveAll writes every top-level key to "{dir}/{key}.json".
func (s *Store) SaveAll(dir string) error {
	s.mu.RLock()
	root, ok := s.tree.(map[string]any)
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	for key := range root {
		if err := s.Save(filepath.Join(dir, key+".json")); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers cb for events whose path begins with prefix; returns
// an id usable with Unsubscribe.
func (s *Store) Subscribe(prefix string, cb Callback) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, prefix: prefix, cb: cb})
	return id
}

// Unsubscribe removes a prior subscription by id.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// notify fires matching subscribers after the write is already visible
// (the caller has released s.mu before calling this). Mutating calls made
// from within a callback are rejected with ReentrancyDenied.
func (s *Store) notify(ev Event) {
	s.subsMu.Lock()
	matches := make([]Callback, 0, len(s.subs))
	for _, sub := range s.subs {
		if strings.HasPrefix(ev.Path, sub.prefix) || strings.HasPrefix(sub.prefix, ev.Path) {
			matches = append(matches, sub.cb)
		}
	}
	s.subsMu.Unlock()

	if len(matches) == 0 {
		return
	}

	s.notifying.Store(true)
	defer s.notifying.Store(false)
	for _, cb := range matches {
		cb(ev)
	}
}
