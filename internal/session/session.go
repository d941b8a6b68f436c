// Package session manages named conversations persisted as JSON under a
// per-project storage root. Files are partitioned by creation date and
// written with an atomic rename so a crash never leaves a torn session.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"sidekick/internal/llm"
)

var (
	// ErrUnknownSession is returned when operations reference an undefined name.
	ErrUnknownSession = errors.New("unknown session")

	fileExtension = ".json"
	nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Session is a named, mutable list of chat messages with persistence metadata.
type Session struct {
	name        string
	messages    []llm.Message
	storagePath string
	createdAt   time.Time
	updatedAt   time.Time
}

// Name returns the identifier assigned to the session.
func (s *Session) Name() string {
	return s.name
}

// StoragePath returns the file path where this session is persisted.
func (s *Session) StoragePath() string {
	return s.storagePath
}

// Messages exposes the underlying history for serialization.
func (s *Session) Messages() []llm.Message {
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Append adds a new chat message to the history.
func (s *Session) Append(msg llm.Message) {
	s.messages = append(s.messages, msg)
	s.touch()
}

// Clear removes all history and reinstates the system prompt when given.
func (s *Session) Clear(systemPrompt string) {
	s.messages = s.messages[:0]
	if systemPrompt != "" {
		s.messages = append(s.messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	s.touch()
}

// ReplaceMessages swaps the current history with the provided slice.
func (s *Session) ReplaceMessages(messages []llm.Message) {
	s.messages = make([]llm.Message, len(messages))
	copy(s.messages, messages)
	s.touch()
}

// CreatedAt returns when the session was first persisted.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt returns when the session last changed.
func (s *Session) UpdatedAt() time.Time {
	return s.updatedAt
}

func (s *Session) touch() {
	now := time.Now()
	if s.createdAt.IsZero() {
		s.createdAt = now
	}
	s.updatedAt = now
}

// Manager orchestrates multiple named sessions backed by disk persistence.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	currentName  string
	systemPrompt string
	root         string
	logger       *log.Logger
}

// NewManager loads any stored sessions from root and prepares the container.
func NewManager(systemPrompt, root string, logger *log.Logger) (*Manager, error) {
	if root == "" {
		root = "sessions"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	mgr := &Manager{
		sessions:     make(map[string]*Session),
		systemPrompt: systemPrompt,
		root:         root,
		logger:       logger,
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// Ensure fetches or creates a session for the provided name and switches to it.
// An empty name picks the next free sequential name.
func (m *Manager) Ensure(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		name = m.nextNameLocked()
	}
	if sess, ok := m.sessions[name]; ok {
		m.currentName = name
		return sess, nil
	}
	return m.createLocked(name)
}

// Create makes a fresh session and errors if the name exists.
func (m *Manager) Create(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[name]; exists {
		return nil, fmt.Errorf("session %s already exists", name)
	}
	return m.createLocked(name)
}

func (m *Manager) createLocked(name string) (*Session, error) {
	sess := newSession(name, m.systemPrompt)
	if err := m.assignPathLocked(sess); err != nil {
		return nil, err
	}
	if err := m.persistLocked(sess); err != nil {
		return nil, err
	}
	m.sessions[name] = sess
	m.currentName = name
	return sess, nil
}

// Use switches to an existing session.
func (m *Manager) Use(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	m.currentName = name
	return sess, nil
}

// Delete removes a stored session from memory and disk.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	if sess.storagePath != "" {
		if err := os.Remove(sess.storagePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete session %s: %w", name, err)
		}
	}
	delete(m.sessions, name)
	if m.currentName == name {
		m.currentName = ""
	}
	return nil
}

// Current exposes the active session, creating a default one if needed.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCurrentLocked()
}

// CurrentName reveals which session is active.
func (m *Manager) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentName
}

// ListNames returns the known session identifiers, sorted.
func (m *Manager) ListNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for n := range m.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summary captures metadata about a stored session without exposing message content.
type Summary struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summaries returns lightweight details for each session, most recently updated first.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.sessions))
	for name, sess := range m.sessions {
		if sess == nil {
			continue
		}
		summaries = append(summaries, Summary{
			Name:         name,
			CreatedAt:    sess.CreatedAt(),
			UpdatedAt:    sess.UpdatedAt(),
			MessageCount: len(sess.messages),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// ClearCurrent wipes the active session's history.
func (m *Manager) ClearCurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.ensureCurrentLocked()
	sess.Clear(m.systemPrompt)
	return m.persistLocked(sess)
}

// SetSystemPrompt updates the default system prompt used for new sessions.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// Save writes the provided session to disk.
func (m *Manager) Save(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if _, ok := m.sessions[sess.name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sess.name)
	}
	return m.persistLocked(sess)
}

func (m *Manager) ensureCurrentLocked() *Session {
	if m.currentName == "" {
		m.currentName = m.nextNameLocked()
	}
	if sess, ok := m.sessions[m.currentName]; ok {
		return sess
	}
	sess := newSession(m.currentName, m.systemPrompt)
	if err := m.assignPathLocked(sess); err != nil {
		m.logger.Printf("assign storage path failed: %v", err)
	} else if err := m.persistLocked(sess); err != nil {
		m.logger.Printf("persist session failed: %v", err)
	}
	m.sessions[m.currentName] = sess
	return sess
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read session root: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dayDir := filepath.Join(m.root, entry.Name())
		files, err := os.ReadDir(dayDir)
		if err != nil {
			m.logger.Printf("skip %s: %v", dayDir, err)
			continue
		}
		for _, fileEntry := range files {
			if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) != fileExtension {
				continue
			}
			path := filepath.Join(dayDir, fileEntry.Name())
			sess, err := loadSession(path)
			if err != nil {
				m.logger.Printf("load %s failed: %v", path, err)
				continue
			}
			if existing, exists := m.sessions[sess.name]; exists && existing.updatedAt.After(sess.updatedAt) {
				continue
			}
			m.sessions[sess.name] = sess
			loaded++
		}
	}
	if loaded > 0 {
		m.logger.Printf("loaded %d stored sessions", loaded)
		var mostRecent *Session
		for _, sess := range m.sessions {
			if mostRecent == nil || sess.updatedAt.After(mostRecent.updatedAt) {
				mostRecent = sess
			}
		}
		if mostRecent != nil {
			m.currentName = mostRecent.name
		}
	}
	return nil
}

func loadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var persisted persistedSession
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, err
	}
	name := persisted.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), fileExtension)
	}
	sess := &Session{
		name:        name,
		messages:    persisted.Messages,
		storagePath: path,
		createdAt:   persisted.CreatedAt,
		updatedAt:   persisted.UpdatedAt,
	}
	if sess.createdAt.IsZero() {
		if info, statErr := os.Stat(path); statErr == nil {
			sess.createdAt = info.ModTime()
		} else {
			sess.createdAt = time.Now()
		}
	}
	if sess.updatedAt.IsZero() {
		sess.updatedAt = sess.createdAt
	}
	return sess, nil
}

func (m *Manager) assignPathLocked(sess *Session) error {
	if sess.storagePath != "" {
		return nil
	}
	folder := filepath.Join(m.root, sess.createdAt.Format("2006-01-02"))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	sess.storagePath = filepath.Join(folder, sanitizeName(sess.name)+fileExtension)
	return nil
}

func (m *Manager) persistLocked(sess *Session) error {
	if sess.storagePath == "" {
		if err := m.assignPathLocked(sess); err != nil {
			return err
		}
	}
	payload := persistedSession{
		Name:      sess.name,
		Messages:  sess.messages,
		CreatedAt: sess.createdAt,
		UpdatedAt: sess.updatedAt,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp := sess.storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session: %w", err)
	}
	if err := os.Rename(tmp, sess.storagePath); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func sanitizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "session"
	}
	sanitized := nameSanitizer.ReplaceAllString(trimmed, "_")
	sanitized = strings.Trim(sanitized, "_-")
	if sanitized == "" {
		sanitized = "session"
	}
	return sanitized
}

// nextNameLocked picks the next free sequential name (chat-1, chat-2, ...).
func (m *Manager) nextNameLocked() string {
	maxNum := 0
	for name := range m.sessions {
		var num int
		if _, err := fmt.Sscanf(name, "chat-%d", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return fmt.Sprintf("chat-%d", maxNum+1)
}

func newSession(name, systemPrompt string) *Session {
	now := time.Now()
	sess := &Session{name: name, createdAt: now, updatedAt: now}
	if systemPrompt != "" {
		sess.messages = append(sess.messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	return sess
}

// persistedSession mirrors the JSON schema stored on disk.
type persistedSession struct {
	Name      string        `json:"name"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
