package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".history")
	h := Load(path)
	h.Add("first command")
	h.Add("second command")

	reloaded := Load(path)
	got := reloaded.Entries()
	if len(got) != 2 || got[0] != "first command" || got[1] != "second command" {
		t.Errorf("entries = %v", got)
	}
}

func TestAddSkipsBlankAndRepeats(t *testing.T) {
	h := Load("")
	h.Add("same")
	h.Add("   ")
	h.Add("same")
	h.Add("different")
	if h.Len() != 2 {
		t.Errorf("len = %d, want 2", h.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	h := Load(filepath.Join(t.TempDir(), "absent"))
	if h.Len() != 0 {
		t.Errorf("len = %d for missing file", h.Len())
	}
}

func TestLoadSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".history")
	if err := os.WriteFile(path, []byte("one\n\n  \ntwo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	h := Load(path)
	if got := h.Entries(); len(got) != 2 {
		t.Errorf("entries = %v", got)
	}
}
