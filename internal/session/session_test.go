package session

import (
	"os"
	"path/filepath"
	"testing"

	"sidekick/internal/llm"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("you are helpful", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestEnsureCreatesSequentialNames(t *testing.T) {
	m := newTestManager(t)

	first, err := m.Ensure("")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.Name() != "chat-1" {
		t.Errorf("name = %q, want chat-1", first.Name())
	}

	second, err := m.Create("")
	if err == nil && second.Name() == first.Name() {
		t.Error("Create reused an existing name")
	}
}

func TestNewSessionStartsWithSystemPrompt(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Ensure("work")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Role != "system" {
		t.Fatalf("messages = %+v, want single system message", msgs)
	}
}

func TestPersistAndReload(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager("sys", root, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sess, err := m.Ensure("work")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	sess.Append(llm.Message{Role: "user", Content: "hello"})
	sess.Append(llm.Message{Role: "assistant", Content: "hi"})
	if err := m.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewManager("sys", root, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.CurrentName(); got != "work" {
		t.Errorf("current after reload = %q, want work", got)
	}
	msgs := reloaded.Current().Messages()
	if len(msgs) != 3 {
		t.Fatalf("reloaded %d messages, want 3", len(msgs))
	}
	if msgs[2].Content != "hi" {
		t.Errorf("last message = %q", msgs[2].Content)
	}
}

func TestStorageIsDatePartitioned(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager("", root, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sess, err := m.Ensure("layout")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	rel, err := filepath.Rel(root, sess.StoragePath())
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	day := filepath.Dir(rel)
	if len(day) != len("2006-01-02") {
		t.Errorf("storage dir = %q, want a date partition", day)
	}
	if _, err := os.Stat(sess.StoragePath()); err != nil {
		t.Errorf("session file missing: %v", err)
	}
}

func TestUseUnknownSession(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Use("nope"); err == nil {
		t.Error("Use of unknown session succeeded")
	}
}

func TestDeleteRemovesFileAndState(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Ensure("gone")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	path := sess.StoragePath()
	if err := m.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("session file still on disk")
	}
	if _, err := m.Use("gone"); err == nil {
		t.Error("deleted session still usable")
	}
	if m.CurrentName() != "" {
		t.Errorf("current = %q after deleting active session", m.CurrentName())
	}
}

func TestClearCurrentKeepsSystemPrompt(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.Ensure("c")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	sess.Append(llm.Message{Role: "user", Content: "one"})
	if err := m.ClearCurrent(); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	msgs := m.Current().Messages()
	if len(msgs) != 1 || msgs[0].Role != "system" {
		t.Errorf("after clear: %+v", msgs)
	}
}

func TestSummariesSortedByRecency(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Ensure("old"); err != nil {
		t.Fatal(err)
	}
	newer, err := m.Ensure("new")
	if err != nil {
		t.Fatal(err)
	}
	newer.Append(llm.Message{Role: "user", Content: "bump"})

	sums := m.Summaries()
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	if sums[0].Name != "new" {
		t.Errorf("first summary = %q, want most recently updated", sums[0].Name)
	}
}
