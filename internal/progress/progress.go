// Package progress tracks the animated indicators shown while operations are
// in flight. Any number of spinners can run at once; each owns its own
// display line and timer, and updates to one never touch another.
package progress

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is an opaque token naming one active spinner. IDs are never reused.
type ID string

// LineRef is the UI's opaque handle for a rendered line.
type LineRef any

// UI is the output sink the service draws on. InsertLine and ReplaceLine
// must only be called from the UI-owning goroutine; RunOnUI marshals there.
type UI interface {
	InsertLine(content string) LineRef
	ReplaceLine(ref LineRef, content string)
	RunOnUI(fn func(), blocking bool)
}

// Type selects glyph set, animation interval, and default styling.
type Type int

const (
	Tool     Type = iota // main tool spinner
	Thinking             // model call in flight
	Todo                 // todo panel
	Nested               // subagent / nested tool
)

// Config is the immutable animation profile for a spinner type.
type Config struct {
	Frames     []string
	Interval   time.Duration
	Style      string
	MinVisible time.Duration
}

var brailleFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var configs = map[Type]Config{
	Tool:     {Frames: brailleFrames, Interval: 120 * time.Millisecond, Style: ansiCyan},
	Thinking: {Frames: brailleFrames, Interval: 120 * time.Millisecond, Style: ansiCyan, MinVisible: 300 * time.Millisecond},
	Nested:   {Frames: []string{"⏺", "○"}, Interval: 300 * time.Millisecond, Style: ansiGreen},
	Todo:     {Frames: []string{"←", "↖", "↑", "↗", "→", "↘", "↓", "↙"}, Interval: 150 * time.Millisecond, Style: ansiYellow},
}

// ConfigFor returns the animation profile for a spinner type.
func ConfigFor(t Type) Config {
	if cfg, ok := configs[t]; ok {
		return cfg
	}
	return configs[Tool]
}

const (
	ansiCyan   = "\x1b[96m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiGrey   = "\x1b[90m"
	ansiReset  = "\x1b[0m"

	successGlyph     = "⏺"
	failureGlyph     = "⏺"
	interruptedGlyph = "⊘"
	resultConnector  = "  ⎿  "
)

// tickInterval divides evenly into every spinner interval (120/150/300ms) so
// one shared ticker can advance all of them without drift.
const tickInterval = 60 * time.Millisecond

type spinner struct {
	id         ID
	typ        Type
	cfg        Config
	message    string
	minVisible time.Duration
	startedAt  time.Time
	lastFrame  time.Time
	frame      int
	line       LineRef
}

// Service is the registry of active spinners plus the animation loop that
// drives them. Construct once with NewService and share.
type Service struct {
	ui UI

	mu       sync.Mutex
	spinners map[ID]*spinner
	running  bool

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// NewService returns a service drawing on ui.
func NewService(ui UI) *Service {
	return &Service{
		ui:       ui,
		spinners: make(map[ID]*spinner),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Start registers a spinner and blocks until its line exists on screen.
// Callers routinely print nested output immediately after Start returns, so
// the hand-off to the UI goroutine is synchronous. The returned ID is fresh;
// minVisible below the type's own floor is raised to it.
func (s *Service) Start(message string, typ Type, minVisible time.Duration) ID {
	cfg := ConfigFor(typ)
	if minVisible < cfg.MinVisible {
		minVisible = cfg.MinVisible
	}
	sp := &spinner{
		id:         ID(uuid.NewString()[:8]),
		typ:        typ,
		cfg:        cfg,
		message:    message,
		minVisible: minVisible,
	}

	s.mu.Lock()
	sp.startedAt = s.now()
	sp.lastFrame = sp.startedAt
	s.spinners[sp.id] = sp
	if !s.running {
		s.running = true
		go s.animate()
	}
	s.mu.Unlock()

	s.ui.RunOnUI(func() {
		ref := s.ui.InsertLine(renderFrame(sp.cfg, 0, message))
		s.mu.Lock()
		if live, ok := s.spinners[sp.id]; ok {
			live.line = ref
		}
		s.mu.Unlock()
	}, true)

	return sp.id
}

// Update replaces the spinner's message without blocking. Updates to the
// same id render in call order; the last one wins if frames are dropped.
// The repaint is scheduled while the lock is still held so that two racing
// updates cannot enqueue their frames in the opposite order of their writes.
func (s *Service) Update(id ID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spinners[id]
	if !ok {
		return
	}
	sp.message = message
	if sp.line == nil {
		return
	}
	ref := sp.line
	content := renderFrame(sp.cfg, sp.frame, message)
	s.ui.RunOnUI(func() { s.ui.ReplaceLine(ref, content) }, false)
}

// Stop finalizes a spinner with a success or failure marker and an optional
// result line beneath it. Unknown ids are ignored, which makes double-stops
// from racing completions harmless. If the spinner has not yet met its
// minimum visible duration the remainder is slept on the calling goroutine
// before the final frame is scheduled.
func (s *Service) Stop(id ID, ok bool, resultMessage string) {
	glyph := ansiGreen + successGlyph + ansiReset
	if !ok {
		glyph = ansiRed + failureGlyph + ansiReset
	}
	s.finalize(id, glyph, resultMessage, true)
}

// Interrupt finalizes a spinner with the interrupted marker, distinct from
// the failure glyph; a user cancel is not an error. The minimum-visibility
// sleep is skipped so the UI reacts to the keypress at once.
func (s *Service) Interrupt(id ID) {
	s.finalize(id, ansiYellow+interruptedGlyph+ansiReset+" interrupted", "", false)
}

func (s *Service) finalize(id ID, glyph, resultMessage string, honorMinVisible bool) {
	s.mu.Lock()
	sp, ok := s.spinners[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.spinners, id)
	if len(s.spinners) == 0 {
		s.running = false
	}
	remaining := sp.minVisible - s.now().Sub(sp.startedAt)
	s.mu.Unlock()

	if honorMinVisible && remaining > 0 {
		s.sleep(remaining)
	}

	ref := sp.line
	message := sp.message
	s.ui.RunOnUI(func() {
		if ref != nil {
			s.ui.ReplaceLine(ref, glyph+" "+message)
		}
		if resultMessage != "" {
			s.ui.InsertLine(ansiGrey + resultConnector + resultMessage + ansiReset)
		}
	}, false)
}

// StopAll stops every active spinner; used for bulk cleanup on a global
// interrupt or fatal error.
func (s *Service) StopAll(ok bool) {
	for _, id := range s.activeIDs() {
		s.Stop(id, ok, "")
	}
}

// InterruptAll finalizes every active spinner with the interrupted marker.
func (s *Service) InterruptAll() {
	for _, id := range s.activeIDs() {
		s.Interrupt(id)
	}
}

// IsActive reports whether id names a running spinner.
func (s *Service) IsActive(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.spinners[id]
	return ok
}

// ActiveCount returns the number of running spinners.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spinners)
}

// activeIDs snapshots ids so bulk operations never hold the lock while
// touching the UI.
func (s *Service) activeIDs() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ID, 0, len(s.spinners))
	for id := range s.spinners {
		ids = append(ids, id)
	}
	return ids
}

// animate is the shared animation loop. It advances whichever spinners are
// due a frame each tick and exits once the registry drains.
func (s *Service) animate() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		type frameUpdate struct {
			ref     LineRef
			content string
		}
		var updates []frameUpdate

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		now := s.now()
		for _, sp := range s.spinners {
			if now.Sub(sp.lastFrame) < sp.cfg.Interval {
				continue
			}
			sp.frame = (sp.frame + 1) % len(sp.cfg.Frames)
			sp.lastFrame = now
			if sp.line != nil {
				updates = append(updates, frameUpdate{ref: sp.line, content: renderFrame(sp.cfg, sp.frame, sp.message)})
			}
		}
		s.mu.Unlock()

		for _, u := range updates {
			u := u
			s.ui.RunOnUI(func() { s.ui.ReplaceLine(u.ref, u.content) }, false)
		}
	}
}

func renderFrame(cfg Config, frame int, message string) string {
	var b strings.Builder
	b.WriteString(cfg.Style)
	b.WriteString(cfg.Frames[frame%len(cfg.Frames)])
	b.WriteString(ansiReset)
	b.WriteString(" ")
	b.WriteString(message)
	return b.String()
}
