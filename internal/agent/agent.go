// Package agent wires the REPL, the interrupt stack, the progress service,
// and the LLM provider into an interactive session.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"sidekick/internal/config"
	"sidekick/internal/history"
	"sidekick/internal/httpclient"
	"sidekick/internal/interrupt"
	"sidekick/internal/llm"
	"sidekick/internal/logging"
	"sidekick/internal/memory"
	"sidekick/internal/progress"
	"sidekick/internal/session"
	"sidekick/internal/termui"
	"sidekick/internal/tooling"
)

// interruptTracker detects a second Ctrl+C arriving within the exit window.
type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

// promptExit is panicked through go-prompt to leave its Run loop cleanly.
type promptExit struct{}

// abortMonitor is the poll target handed to the HTTP layer. Once tripped,
// the in-flight request force-closes its connection on the next poll.
type abortMonitor struct {
	tripped atomic.Bool
}

func (m *abortMonitor) ShouldInterrupt() bool { return m.tripped.Load() }
func (m *abortMonitor) Trip()                 { m.tripped.Store(true) }
func (m *abortMonitor) Reset()                { m.tripped.Store(false) }
func (m *abortMonitor) Tripped() bool         { return m.tripped.Load() }

// monitorChatter is implemented by provider clients that can poll an
// interrupt monitor while a request is in flight.
type monitorChatter interface {
	ChatWithMonitor(ctx context.Context, req llm.ChatRequest, monitor httpclient.Monitor) (llm.ChatResponse, error)
}

// terminalUI adapts the terminal to the progress service's drawing sink.
type terminalUI struct {
	t *termui.Terminal
}

func (u terminalUI) InsertLine(content string) progress.LineRef { return u.t.InsertLine(content) }

func (u terminalUI) ReplaceLine(ref progress.LineRef, content string) {
	if line, ok := ref.(*termui.Line); ok {
		u.t.ReplaceLine(line, content)
	}
}

func (u terminalUI) RunOnUI(fn func(), blocking bool) { u.t.RunOnUI(fn, blocking) }

// Agent owns one interactive session end to end.
type Agent struct {
	client   llm.Client
	cfg      config.Config
	sessions *session.Manager
	tools    *tooling.Registry
	memories *memory.Store
	logger   *log.Logger

	term     *termui.Terminal
	spinners *progress.Service
	stack    *interrupt.Stack
	hist     *history.History

	approval *approvalController
	askUser  *askUserController
	picker   *modelPickerController

	isTTY  bool
	render *glamour.TermRenderer

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc
	abort           abortMonitor

	watchMu   sync.Mutex
	watchStop func()

	completionsOn      atomic.Bool
	suppressCompletion atomic.Bool

	tokenMu     sync.Mutex
	totalTokens int

	resumeName string
	version    string
}

// Options carries the wiring main cannot express through config alone.
type Options struct {
	ResumeSession string
	Memories      *memory.Store
	Version       string
}

// New returns a fully wired Agent ready for the REPL loop. tools are
// registered together with the agent's own ask_user tool.
func New(client llm.Client, cfg config.Config, sessions *session.Manager, tools []tooling.Tool, logger *log.Logger, opts Options) *Agent {
	var renderer *glamour.TermRenderer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}

	terminal := termui.New(os.Stdout)
	spinners := progress.NewService(terminalUI{t: terminal})
	stack := interrupt.NewStack(spinners)

	a := &Agent{
		client:     client,
		cfg:        cfg,
		sessions:   sessions,
		memories:   opts.Memories,
		logger:     logger,
		term:       terminal,
		spinners:   spinners,
		stack:      stack,
		hist:       history.Load(cfg.HistoryPath),
		isTTY:      term.IsTerminal(int(os.Stdin.Fd())),
		render:     renderer,
		resumeName: strings.TrimSpace(opts.ResumeSession),
		version:    opts.Version,
	}

	a.approval = &approvalController{newLinePrompt(os.Stdin, os.Stdout)}
	a.askUser = &askUserController{newLinePrompt(os.Stdin, os.Stdout)}
	a.picker = &modelPickerController{newLinePrompt(os.Stdin, os.Stdout)}

	// Registration order is cancellation priority.
	stack.RegisterController(a.approval)
	stack.RegisterController(a.askUser)
	stack.RegisterController(a.picker)

	stack.SetAutocomplete(
		func() bool { return a.completionsOn.Load() },
		func() {
			a.completionsOn.Store(false)
			a.suppressCompletion.Store(true)
		},
	)
	stack.OnExitConfirmationCleared(func() {
		fmt.Println("\n(exit cancelled)")
	})

	a.tools = tooling.NewRegistry(append(tools, &AskUserTool{agent: a})...)

	return a
}

// Run starts the CLI prompt and blocks until the session finishes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.term.Close()

	go a.routeSignals(ctx)

	if err := a.ensureSession(); err != nil {
		return err
	}

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot executes a single prompt and returns once the turn completes.
func (a *Agent) RunOneShot(ctx context.Context, input string) error {
	defer a.term.Close()

	if err := a.ensureSession(); err != nil {
		return err
	}
	response, _, err := a.respond(ctx, input)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	if response != "" {
		a.printResponse(response)
	}
	return nil
}

func (a *Agent) ensureSession() error {
	if a.resumeName != "" {
		if _, err := a.sessions.Use(a.resumeName); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		a.resumeName = ""
		return nil
	}
	_, err := a.sessions.Ensure(a.sessions.CurrentName())
	return err
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	fmt.Printf("Sidekick %s ready. Type ':help' for commands; double Ctrl+C exits.\n", a.version)
	if msgs := a.sessions.Current().Messages(); len(msgs) > 1 {
		fmt.Printf("(resumed session %q with %d messages)\n", a.sessions.CurrentName(), len(msgs))
	}

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		if a.stack.IsInState(interrupt.ExitConfirmation) {
			a.stack.ExitState()
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		a.hist.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(a.hist.Entries()),
		prompt.OptionTitle("Sidekick"),
		prompt.OptionLivePrefix(func() (string, bool) {
			if a.stack.IsInState(interrupt.ExitConfirmation) {
				return fmt.Sprintf("[%s] (ctrl+c to exit) > ", a.sessions.CurrentName()), true
			}
			return fmt.Sprintf("[%s] > ", a.sessions.CurrentName()), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if a.cancelInFlightRequest() {
						fmt.Println("\n(request cancelled)")
						return
					}
					if tracker.secondPress() {
						fmt.Println("\nexiting")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					if !a.stack.IsInState(interrupt.ExitConfirmation) {
						a.stack.EnterState(interrupt.ExitConfirmation)
					}
					fmt.Println("\n(press ctrl+c again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
			prompt.KeyBind{
				Key: prompt.Escape,
				Fn: func(buf *prompt.Buffer) {
					if a.stack.HandleInterrupt() {
						return
					}
					if a.cancelInFlightRequest() {
						fmt.Println("\n(request cancelled)")
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		if a.suppressCompletion.Swap(false) {
			a.completionsOn.Store(false)
			return nil
		}
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			a.completionsOn.Store(false)
			return nil
		}
		matches := prompt.FilterHasPrefix(commandSuggestions, doc.GetWordBeforeCursor(), true)
		a.completionsOn.Store(len(matches) > 0)
		return matches
	}
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	scanner := newLineScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Printf("[%s] > ", a.sessions.CurrentName())
		line, err := scanner()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println()
			return nil
		}
		if exit := a.handleLine(ctx, strings.TrimSpace(line)); exit {
			cancel()
			return nil
		}
	}
}

// routeSignals funnels SIGINT through the interrupt stack for the phases in
// which neither go-prompt nor the raw-mode key watcher owns the terminal.
func (a *Agent) routeSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			a.routeKey(termui.KeyCtrlC)
		}
	}
}

// routeKey resolves one cancel key-press. A press the stack does not
// consume aborts the operation in flight; a press while idle does nothing.
func (a *Agent) routeKey(termui.Key) {
	if a.stack.HandleInterrupt() {
		return
	}
	if a.stack.CurrentState().Processing() {
		a.abort.Trip()
		a.cancelInFlightRequest()
	}
}

// startKeyWatch puts the terminal into raw mode and feeds ESC and Ctrl+C
// into routeKey until stopKeyWatch is called. It is a no-op without a TTY.
func (a *Agent) startKeyWatch() {
	if !a.isTTY {
		return
	}
	stop, err := termui.WatchKeys(int(os.Stdin.Fd()), a.routeKey)
	if err != nil {
		a.logger.Printf("[agent] key watcher unavailable: %v", err)
		return
	}
	a.watchMu.Lock()
	a.watchStop = stop
	a.watchMu.Unlock()
}

func (a *Agent) stopKeyWatch() {
	a.watchMu.Lock()
	stop := a.watchStop
	a.watchStop = nil
	a.watchMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (a *Agent) handleLine(ctx context.Context, input string) bool {
	if input == "" {
		return false
	}
	if strings.HasPrefix(input, ":") {
		return a.handleCommand(input)
	}

	logging.DevLog("dispatching prompt: %d chars", len(input))
	response, finishReason, err := a.respond(ctx, input)
	logging.DevLog("response received: err=%v finish=%s len=%d", err, finishReason, len(response))
	if err != nil {
		logging.ErrorLog("agent error: %v", err)
		fmt.Printf("error: %v\n", err)
		return false
	}
	if response != "" {
		a.printResponse(response)
	}
	return false
}

func (a *Agent) respond(ctx context.Context, userInput string) (string, string, error) {
	sess := a.sessions.Current()
	sess.Append(llm.Message{Role: "user", Content: userInput})
	if err := a.sessions.Save(sess); err != nil {
		return "", "", fmt.Errorf("save session: %w", err)
	}
	return a.respondLoop(ctx, sess)
}

// respondLoop drives one conversation turn: provider call, tool round,
// repeat until the model answers without tool calls or the user aborts.
func (a *Agent) respondLoop(ctx context.Context, sess *session.Session) (string, string, error) {
	for {
		req := llm.ChatRequest{
			Model:       a.model(),
			Messages:    sess.Messages(),
			Tools:       a.tools.Definitions(),
			Temperature: a.cfg.Temperature,
		}

		resp, err := a.callProvider(ctx, req)
		if err != nil {
			if errors.Is(err, llm.ErrInterrupted) || errors.Is(err, context.Canceled) {
				fmt.Println("(request cancelled)")
				return "", "", nil
			}
			return "", "", fmt.Errorf("chat completion: %w", err)
		}
		if resp.Usage != nil {
			logging.DevLog("token usage: prompt=%d completion=%d total=%d",
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
			a.addTokens(resp.Usage.TotalTokens)
		}
		if len(resp.Choices) == 0 {
			return "", "", fmt.Errorf("no choices returned")
		}

		choice := resp.Choices[0]
		sess.Append(choice.Message)
		if err := a.sessions.Save(sess); err != nil {
			return "", "", fmt.Errorf("save session: %w", err)
		}
		if len(choice.Message.ToolCalls) == 0 {
			return choice.Message.Content, choice.FinishReason, nil
		}

		aborted, err := a.runToolCalls(ctx, sess, choice.Message.ToolCalls)
		if err != nil {
			return "", "", err
		}
		if aborted {
			fmt.Println("(operation interrupted)")
			return "", "", nil
		}
	}
}

// callProvider issues one chat completion under the thinking state with its
// own spinner, cancellation context, and raw-mode key watcher.
func (a *Agent) callProvider(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	a.abort.Reset()
	a.stack.EnterState(interrupt.ProcessingThinking)
	defer a.stack.ExitState()

	spin, live := a.startSpinner("thinking", progress.Thinking, a.cfg.SpinnerMinVisible())

	a.startKeyWatch()
	defer a.stopKeyWatch()

	reqCtx, cancel := context.WithCancel(ctx)
	a.setInFlightCancel(cancel)
	start := time.Now()
	resp, err := a.chat(reqCtx, req)
	elapsed := time.Since(start).Round(time.Millisecond)
	a.clearInFlightCancel()
	cancel()

	if err != nil {
		if live {
			if errors.Is(err, llm.ErrInterrupted) || errors.Is(err, context.Canceled) {
				a.spinners.Interrupt(spin)
			} else {
				a.spinners.Stop(spin, false, trimError(err))
			}
			a.stack.RemoveSpinnerID(spin)
		}
		return llm.ChatResponse{}, err
	}

	if live {
		a.spinners.Stop(spin, true, fmt.Sprintf("response in %s", elapsed))
		a.stack.RemoveSpinnerID(spin)
	}
	logging.DevLog("provider call succeeded in %s", elapsed)
	return resp, nil
}

// chat hands the request to the provider. Clients that support monitored
// requests get the abort monitor so a tripped interrupt force-closes the
// connection instead of waiting out the response.
func (a *Agent) chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if mc, ok := a.client.(monitorChatter); ok {
		return mc.ChatWithMonitor(ctx, req, &a.abort)
	}
	return a.client.Chat(ctx, req)
}

func (a *Agent) startSpinner(message string, typ progress.Type, minVisible time.Duration) (progress.ID, bool) {
	if !a.isTTY {
		return "", false
	}
	id := a.spinners.Start(message, typ, minVisible)
	a.stack.AddSpinnerID(id)
	return id, true
}

func (a *Agent) setInFlightCancel(cancel context.CancelFunc) {
	a.requestCancelMu.Lock()
	a.requestCancel = cancel
	a.requestCancelMu.Unlock()
}

func (a *Agent) clearInFlightCancel() {
	a.requestCancelMu.Lock()
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
}

func (a *Agent) cancelInFlightRequest() bool {
	a.requestCancelMu.Lock()
	cancel := a.requestCancel
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

func (a *Agent) addTokens(tokens int) {
	a.tokenMu.Lock()
	a.totalTokens += tokens
	a.tokenMu.Unlock()
}

func (a *Agent) getTotalTokens() int {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	return a.totalTokens
}

func (a *Agent) model() string {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	return a.cfg.Model
}

func (a *Agent) setModel(model string) {
	a.tokenMu.Lock()
	a.cfg.Model = model
	a.tokenMu.Unlock()
}

func (a *Agent) printResponse(text string) {
	if a.render == nil || strings.TrimSpace(text) == "" {
		fmt.Printf("%s\n", text)
		return
	}
	rendered, err := a.render.Render(text)
	if err != nil {
		a.logger.Printf("markdown render failed: %v", err)
		fmt.Printf("%s\n", text)
		return
	}
	fmt.Print(strings.TrimRight(rendered, "\n") + "\n")
}

func newLineScanner(r io.Reader) func() (string, error) {
	reader := bufio.NewReader(r)
	return func() (string, error) { return reader.ReadString('\n') }
}

func trimError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 120 {
		msg = msg[:120] + "..."
	}
	return msg
}
