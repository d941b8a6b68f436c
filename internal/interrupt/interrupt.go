// Package interrupt resolves cancel key-presses. Every ESC or Ctrl+C during
// a session funnels through one Stack, which decides the single thing that
// press affects: dismiss the completion popup, cancel a modal prompt, clear
// a pending exit confirmation, or tell the caller to abort the operation it
// is running.
package interrupt

import (
	"sync"

	"sidekick/internal/progress"
)

// State names what is currently blocking the user.
type State int

const (
	Idle State = iota
	ExitConfirmation
	ApprovalPrompt
	AskUserPrompt
	ModelPicker
	AgentWizard
	SkillWizard
	Autocomplete
	ProcessingThinking
	ProcessingTool
	ProcessingParallelTools
)

var stateNames = map[State]string{
	Idle:                    "idle",
	ExitConfirmation:        "exit_confirmation",
	ApprovalPrompt:          "approval_prompt",
	AskUserPrompt:           "ask_user_prompt",
	ModelPicker:             "model_picker",
	AgentWizard:             "agent_wizard",
	SkillWizard:             "skill_wizard",
	Autocomplete:            "autocomplete",
	ProcessingThinking:      "processing_thinking",
	ProcessingTool:          "processing_tool",
	ProcessingParallelTools: "processing_parallel_tools",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Processing reports whether s means an operation is in flight.
func (s State) Processing() bool {
	return s == ProcessingThinking || s == ProcessingTool || s == ProcessingParallelTools
}

// Controller is a modal UI component (approval prompt, picker, wizard) that
// can be in an active blocking state and cancelled independently of the
// stack. Controllers are cancelled directly, not through the stack, so a
// controller that never entered a state is still reachable by a keypress.
type Controller interface {
	Active() bool
	Cancel()
}

// Spinners is the slice of the progress service the stack needs for
// cleanup.
type Spinners interface {
	Stop(id progress.ID, ok bool, resultMessage string)
	Interrupt(id progress.ID)
}

// Context is one entry on the stack. Only the fields relevant to State are
// populated.
type Context struct {
	State      State
	ToolNames  []string
	SpinnerIDs []progress.ID
	Controller Controller
}

// EnterOption attaches variant-specific data to EnterState.
type EnterOption func(*Context)

// WithToolNames records the tools running under a processing state.
func WithToolNames(names ...string) EnterOption {
	return func(c *Context) { c.ToolNames = append(c.ToolNames, names...) }
}

// WithSpinnerIDs records spinner ids the state owns, so an interrupt can
// finalize them without the caller's help.
func WithSpinnerIDs(ids ...progress.ID) EnterOption {
	return func(c *Context) { c.SpinnerIDs = append(c.SpinnerIDs, ids...) }
}

// WithController associates the modal controller a prompt state belongs to.
func WithController(ctrl Controller) EnterOption {
	return func(c *Context) { c.Controller = ctrl }
}

// Stack is the interrupt coordinator. Construct with NewStack and share one
// instance per session; all methods are safe for concurrent use.
type Stack struct {
	mu       sync.Mutex
	current  Context
	previous []Context

	spinners    Spinners
	controllers []Controller

	autocompleteVisible func() bool
	autocompleteDismiss func()
	exitCleared         func()
}

// NewStack returns an idle stack that finalizes spinners through sp.
func NewStack(sp Spinners) *Stack {
	return &Stack{current: Context{State: Idle}, spinners: sp}
}

// SetAutocomplete wires the input widget's popup. visible is polled on each
// keypress; dismiss hides the popup.
func (s *Stack) SetAutocomplete(visible func() bool, dismiss func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autocompleteVisible = visible
	s.autocompleteDismiss = dismiss
}

// RegisterController appends ctrl to the cancellation order. Registration order is
// cancellation priority; register approval before ask-user before pickers.
func (s *Stack) RegisterController(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers = append(s.controllers, ctrl)
}

// OnExitConfirmationCleared registers fn to run after a keypress clears a
// pending exit confirmation, so the prompt prefix can be redrawn.
func (s *Stack) OnExitConfirmationCleared(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitCleared = fn
}

// EnterState pushes the current context and makes state current.
func (s *Stack) EnterState(state State, opts ...EnterOption) {
	ctx := Context{State: state}
	for _, opt := range opts {
		opt(&ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.State != Idle {
		s.previous = append(s.previous, s.current)
	}
	s.current = ctx
}

// ExitState restores the previous context, or Idle when the stack is empty.
// Calling it more times than EnterState is harmless.
func (s *Stack) ExitState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLocked()
}

func (s *Stack) exitLocked() {
	if n := len(s.previous); n > 0 {
		s.current = s.previous[n-1]
		s.previous = s.previous[:n-1]
		return
	}
	s.current = Context{State: Idle}
}

// CurrentState returns the state at the top of the stack.
func (s *Stack) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.State
}

// IsInState reports whether the current state is any of states.
func (s *Stack) IsInState(states ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if s.current.State == st {
			return true
		}
	}
	return false
}

// Depth returns the number of nested contexts beneath the current one.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.previous)
}

// HandleInterrupt resolves one cancel key-press to exactly one effect, in
// strict priority order. It returns true when the press was consumed by a
// UI surface, and false when the caller that started the current operation
// must abort it through its own cancellation channel. Repeated presses
// unwind nested contexts one at a time.
func (s *Stack) HandleInterrupt() bool {
	// The popup check never touches the stack.
	s.mu.Lock()
	visible := s.autocompleteVisible
	dismiss := s.autocompleteDismiss
	controllers := append([]Controller(nil), s.controllers...)
	s.mu.Unlock()

	if visible != nil && visible() {
		if dismiss != nil {
			dismiss()
		}
		return true
	}

	for _, ctrl := range controllers {
		if ctrl.Active() {
			ctrl.Cancel()
			return true
		}
	}

	s.mu.Lock()
	switch {
	case s.current.State == ExitConfirmation:
		s.exitLocked()
		cleared := s.exitCleared
		s.mu.Unlock()
		if cleared != nil {
			cleared()
		}
		return true

	case s.current.State.Processing():
		ids := s.takeSpinnerIDsLocked()
		s.mu.Unlock()
		s.interruptSpinners(ids)
		return false

	default:
		s.mu.Unlock()
		return false
	}
}

// AddSpinnerID tracks id under the current context so a later interrupt
// can finalize it.
func (s *Stack) AddSpinnerID(id progress.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.SpinnerIDs = append(s.current.SpinnerIDs, id)
}

// RemoveSpinnerID stops tracking id; callers do this after stopping a
// spinner themselves.
func (s *Stack) RemoveSpinnerID(id progress.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.current.SpinnerIDs
	for i, tracked := range ids {
		if tracked == id {
			s.current.SpinnerIDs = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// CleanupSpinners finalizes every spinner tracked by the current context
// with the interrupted marker and clears the tracking list.
func (s *Stack) CleanupSpinners() {
	s.mu.Lock()
	ids := s.takeSpinnerIDsLocked()
	s.mu.Unlock()
	s.interruptSpinners(ids)
}

// StopAllSpinners finalizes every tracked spinner with a success or failure
// marker instead of the interrupted one; used on fatal errors.
func (s *Stack) StopAllSpinners(ok bool) {
	s.mu.Lock()
	ids := s.takeSpinnerIDsLocked()
	s.mu.Unlock()
	if s.spinners == nil {
		return
	}
	for _, id := range ids {
		s.spinners.Stop(id, ok, "")
	}
}

// takeSpinnerIDsLocked snapshots and clears the current context's ids so
// the progress service is never called under the stack lock.
func (s *Stack) takeSpinnerIDsLocked() []progress.ID {
	ids := s.current.SpinnerIDs
	s.current.SpinnerIDs = nil
	return ids
}

func (s *Stack) interruptSpinners(ids []progress.ID) {
	if s.spinners == nil {
		return
	}
	for _, id := range ids {
		s.spinners.Interrupt(id)
	}
}
