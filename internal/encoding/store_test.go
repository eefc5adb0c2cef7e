package encoding

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func vecJSON(n int) string {
	s := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "0.25"
	}
	return s + "]"
}

func TestReloadLegacyShapes(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "a.json", `{"token_no":"101","name":"Alice","encoding":`+vecJSON(16)+`}`)
	writeFile(t, dir, "b.json", `{"id":"102","fullname":"Bob","enc":`+vecJSON(16)+`}`)
	writeFile(t, dir, "c.json", `{"token":"103","student_name":"Carol","face_encoding":`+vecJSON(16)+`}`)
	writeFile(t, dir, "d.json", `["104","Dan",`+vecJSON(16)+`]`)

	store := NewStore(dir)
	set, skipped, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	wantIDs := []string{"101", "102", "103", "104"}
	wantNames := []string{"Alice", "Bob", "Carol", "Dan"}
	if set.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", set.Len())
	}
	for i := range wantIDs {
		if set.IDs[i] != wantIDs[i] {
			t.Errorf("IDs[%d] = %q, want %q", i, set.IDs[i], wantIDs[i])
		}
		if set.Names[i] != wantNames[i] {
			t.Errorf("Names[%d] = %q, want %q", i, set.Names[i], wantNames[i])
		}
		if len(set.Embeddings[i]) != 16 {
			t.Errorf("Embeddings[%d] length = %d, want 16", i, len(set.Embeddings[i]))
		}
	}
}

func TestReloadSkipsInvalidFiles(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"garbage.json", `{{{not json`},
		{"no_token.json", `{"name":"X","encoding":` + vecJSON(16) + `}`},
		{"no_name.json", `{"token_no":"201","encoding":` + vecJSON(16) + `}`},
		{"no_encoding.json", `{"token_no":"202","name":"Y"}`},
		{"short_vector.json", `{"token_no":"203","name":"Z","encoding":[1,2,3]}`},
		{"nested_vector.json", `{"token_no":"204","name":"W","encoding":[[1,2],[3,4],[5,6],[7,8],[9,10],[11,12]]}`},
		{"scalar.json", `42`},
		{"short_sequence.json", `["205","V"]`},
	}

	dir := t.TempDir()
	writeFile(t, dir, "ok.json", `{"token_no":"100","name":"Good","encoding":`+vecJSON(16)+`}`)
	for _, c := range cases {
		writeFile(t, dir, c.name, c.content)
	}

	store := NewStore(dir)
	set, skipped, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if set.Len() != 1 || set.IDs[0] != "100" {
		t.Fatalf("set = %+v, want only token 100", set.IDs)
	}
	if len(skipped) != len(cases) {
		t.Fatalf("skipped %d files, want %d: %v", len(skipped), len(cases), skipped)
	}
	for _, d := range skipped {
		if d.Reason == "" {
			t.Errorf("skipped %s has empty reason", d.File)
		}
	}
}

func TestReloadOrderIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	// written out of order on purpose
	writeFile(t, dir, "30.json", `{"token_no":"30","name":"C","encoding":`+vecJSON(12)+`}`)
	writeFile(t, dir, "10.json", `{"token_no":"10","name":"A","encoding":`+vecJSON(12)+`}`)
	writeFile(t, dir, "20.json", `{"token_no":"20","name":"B","encoding":`+vecJSON(12)+`}`)

	store := NewStore(dir)
	for i := 0; i < 3; i++ {
		set, _, err := store.Reload()
		if err != nil {
			t.Fatal(err)
		}
		got := fmt.Sprintf("%v", set.IDs)
		if got != "[10 20 30]" {
			t.Fatalf("reload %d order = %s, want [10 20 30]", i, got)
		}
	}
}

func TestReloadMissingDirYieldsEmptySet(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"))
	set, skipped, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !set.Empty() || len(skipped) != 0 {
		t.Fatalf("want empty set and no diagnostics, got %d/%d", set.Len(), len(skipped))
	}
}

// Concurrent readers must always see a consistent snapshot: the three
// parallel slices must never have mismatched lengths.
func TestSnapshotConsistentDuringReload(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 30; i++ {
		writeFile(t, dir, fmt.Sprintf("%02d.json", i),
			fmt.Sprintf(`{"token_no":"%d","name":"S%d","encoding":%s}`, i, i, vecJSON(16)))
	}

	store := NewStore(dir)
	if _, _, err := store.Reload(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			set := store.Snapshot()
			if len(set.Embeddings) != len(set.IDs) || len(set.IDs) != len(set.Names) {
				t.Errorf("mismatched snapshot: %d/%d/%d",
					len(set.Embeddings), len(set.IDs), len(set.Names))
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, _, err := store.Reload(); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()
}

func TestWriteRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	emb := make([]float32, 16)
	for i := range emb {
		emb[i] = float32(i) / 16
	}
	path, err := store.WriteRecord("501", "Eve", emb)
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if filepath.Base(path) != "501.json" {
		t.Errorf("path = %s, want 501.json", path)
	}

	set, skipped, err := store.Reload()
	if err != nil || len(skipped) != 0 {
		t.Fatalf("Reload: err=%v skipped=%v", err, skipped)
	}
	if set.Len() != 1 || set.IDs[0] != "501" || set.Names[0] != "Eve" {
		t.Fatalf("set = %+v", set)
	}

	if err := store.RemoveRecord("501"); err != nil {
		t.Fatalf("RemoveRecord: %v", err)
	}
	if err := store.RemoveRecord("501"); err != nil {
		t.Fatalf("RemoveRecord of absent file should be nil, got %v", err)
	}
	set, _, _ = store.Reload()
	if !set.Empty() {
		t.Fatalf("set not empty after removal: %v", set.IDs)
	}
}
