package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/turnpikehq/turnpike/internal/store"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	st, err := NewQueueStore(path)
	if err != nil {
		t.Fatal(err)
	}

	state, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state.Version != 0 || len(state.Pending) != 0 {
		t.Fatalf("fresh state = %+v, want empty", state)
	}

	state.Pending = append(state.Pending, store.TurnItem{
		ID: "t1", SessionKey: "s", ChatID: "c", Text: "hello",
		Kind: store.TurnFollowup,
		Meta: map[string]string{"channel": "telegram"},
	})
	state.Processed = []string{"done1"}
	if err := st.Save(state); err != nil {
		t.Fatal(err)
	}

	// A second store over the same path sees the persisted document.
	st2, err := NewQueueStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := st2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if len(got.Pending) != 1 || got.Pending[0].ID != "t1" || got.Pending[0].Meta["channel"] != "telegram" {
		t.Errorf("pending = %+v", got.Pending)
	}
	if len(got.Processed) != 1 || got.Processed[0] != "done1" {
		t.Errorf("processed = %+v", got.Processed)
	}
}

func TestFileStoreConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	st, err := NewQueueStore(path)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := st.Load()
	b, _ := st.Load()

	a.Pending = append(a.Pending, store.TurnItem{ID: "from-a"})
	if err := st.Save(a); err != nil {
		t.Fatal(err)
	}

	b.Pending = append(b.Pending, store.TurnItem{ID: "from-b"})
	if err := st.Save(b); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale save err = %v, want ErrConflict", err)
	}
}

func TestFileStoreNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	st, err := NewQueueStore(path)
	if err != nil {
		t.Fatal(err)
	}

	state, _ := st.Load()
	state.Processed = []string{"x"}
	if err := st.Save(state); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after save")
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := NewQueueStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(); err == nil {
		t.Error("corrupt document should fail Load, not silently reset")
	}
}
