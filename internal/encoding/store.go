// Package encoding loads and owns the enrolled set of face encodings.
//
// One JSON file per enrolled identity lives in a directory; the store scans
// it, skips whatever fails to parse, and exposes the valid remainder as an
// immutable snapshot with three index-aligned slices. Reload swaps the whole
// snapshot atomically so a concurrent matching pass never observes a
// half-updated set.
package encoding

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/your-org/faceroll/internal/observability"
)

// minEmbeddingLen rejects vectors too short to plausibly be a face encoding.
const minEmbeddingLen = 10

// Set is an immutable snapshot of the enrolled identities. The three slices
// are parallel: index i of each refers to the same identity. Order is
// lexicographic by source filename, stable across reloads.
type Set struct {
	Embeddings [][]float32
	IDs        []string
	Names      []string
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

func (s *Set) Empty() bool { return s.Len() == 0 }

// Diagnostic describes one skipped encoding file.
type Diagnostic struct {
	File   string
	Reason string
}

// Store owns the on-disk encoding directory and the current in-memory Set.
type Store struct {
	dir string
	set atomic.Pointer[Set]
}

func NewStore(dir string) *Store {
	s := &Store{dir: dir}
	s.set.Store(&Set{})
	return s
}

func (s *Store) Dir() string { return s.dir }

// Snapshot returns the current Set. Never nil; safe to read concurrently
// with Reload.
func (s *Store) Snapshot() *Set {
	return s.set.Load()
}

// Reload rescans the directory and atomically replaces the current Set.
// Corrupt or structurally invalid files are skipped with a diagnostic and a
// logged reason; only a missing/unreadable directory is an error. A missing
// directory yields an empty set, matching a deployment that has not enrolled
// anyone yet.
func (s *Store) Reload() (*Set, []Diagnostic, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			empty := &Set{}
			s.set.Store(empty)
			observability.EncodingsLoaded.Set(0)
			return empty, nil, nil
		}
		return nil, nil, fmt.Errorf("read encodings dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	next := &Set{
		Embeddings: make([][]float32, 0, len(names)),
		IDs:        make([]string, 0, len(names)),
		Names:      make([]string, 0, len(names)),
	}
	var skipped []Diagnostic

	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, Diagnostic{File: name, Reason: err.Error()})
			slog.Warn("skipping unreadable encoding file", "file", name, "error", err)
			observability.EncodingsSkipped.Inc()
			continue
		}
		rec, err := parseRecord(data)
		if err != nil {
			skipped = append(skipped, Diagnostic{File: name, Reason: err.Error()})
			slog.Warn("skipping corrupt encoding file", "file", name, "reason", err)
			observability.EncodingsSkipped.Inc()
			continue
		}
		next.Embeddings = append(next.Embeddings, rec.embedding)
		next.IDs = append(next.IDs, rec.token)
		next.Names = append(next.Names, rec.name)
	}

	s.set.Store(next)
	observability.EncodingsLoaded.Set(float64(next.Len()))
	return next, skipped, nil
}

// record is one successfully parsed encoding file.
type record struct {
	token     string
	name      string
	embedding []float32
}

// parseRecord accepts the two container shapes written over the life of the
// system: a JSON object with legacy field spellings, or a fixed-order array
// [token, name, [vector]].
func parseRecord(data []byte) (record, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return record{}, fmt.Errorf("invalid json: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return parseMapping(v)
	case []any:
		return parseSequence(v)
	default:
		return record{}, fmt.Errorf("unknown container shape %T", raw)
	}
}

func parseMapping(m map[string]any) (record, error) {
	token, ok := firstString(m, "token_no", "id", "token")
	if !ok {
		return record{}, fmt.Errorf("token missing")
	}
	name, ok := firstString(m, "name", "fullname", "student_name")
	if !ok {
		return record{}, fmt.Errorf("name missing")
	}
	var enc any
	for _, key := range []string{"encoding", "enc", "face_encoding"} {
		if v, present := m[key]; present && v != nil {
			enc = v
			break
		}
	}
	if enc == nil {
		return record{}, fmt.Errorf("encoding missing")
	}
	emb, err := toVector(enc)
	if err != nil {
		return record{}, err
	}
	return record{token: token, name: name, embedding: emb}, nil
}

func parseSequence(seq []any) (record, error) {
	if len(seq) < 3 {
		return record{}, fmt.Errorf("sequence form needs [token, name, encoding], got %d elements", len(seq))
	}
	token, ok := asString(seq[0])
	if !ok {
		return record{}, fmt.Errorf("token is not a string")
	}
	name, ok := asString(seq[1])
	if !ok {
		return record{}, fmt.Errorf("name is not a string")
	}
	emb, err := toVector(seq[2])
	if err != nil {
		return record{}, err
	}
	return record{token: token, name: name, embedding: emb}, nil
}

// toVector validates a 1-dimensional numeric vector of plausible length.
func toVector(v any) ([]float32, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("encoding is not an array")
	}
	if len(arr) < minEmbeddingLen {
		return nil, fmt.Errorf("encoding length %d below minimum %d", len(arr), minEmbeddingLen)
	}
	out := make([]float32, len(arr))
	for i, e := range arr {
		f, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("encoding element %d is not a number", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := asString(v); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		// tokens written as bare numbers by older registration code
		return strings.TrimSuffix(fmt.Sprintf("%v", s), ".0"), true
	default:
		return "", false
	}
}

// fileRecord is the canonical shape written for new registrations.
type fileRecord struct {
	TokenNo  string    `json:"token_no"`
	Name     string    `json:"name"`
	Encoding []float32 `json:"encoding"`
}

// WriteRecord persists a newly enrolled identity and returns the file path.
// The write goes through a temp file and rename so a concurrent Reload never
// sees a torn record.
func (s *Store) WriteRecord(token, name string, embedding []float32) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create encodings dir: %w", err)
	}

	data, err := json.Marshal(fileRecord{TokenNo: token, Name: name, Encoding: embedding})
	if err != nil {
		return "", fmt.Errorf("marshal encoding record: %w", err)
	}

	final := filepath.Join(s.dir, token+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write encoding record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize encoding record: %w", err)
	}
	return final, nil
}

// RemoveRecord deletes the encoding file for a deregistered identity.
// A file that is already gone is not an error.
func (s *Store) RemoveRecord(token string) error {
	err := os.Remove(filepath.Join(s.dir, token+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove encoding record: %w", err)
	}
	return nil
}
