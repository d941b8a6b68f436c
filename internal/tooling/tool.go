// Package tooling defines the tools the model can call and the registry
// the agent dispatches through. Every file-touching tool resolves paths
// through a guard that confines it to the workspace root.
package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"sidekick/internal/logging"
)

var errEntryLimit = errors.New("entry limit reached")

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Tool interface {
	Definition() ToolDefinition
	Call(ctx context.Context, args map[string]any) (string, error)
}

type Registry struct {
	tools       map[string]Tool
	definitions []ToolDefinition
}

func NewRegistry(tools ...Tool) *Registry {
	bucket := make(map[string]Tool, len(tools))
	defs := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		def := tool.Definition()
		bucket[def.Function.Name] = tool
		defs = append(defs, def)
	}
	return &Registry{tools: bucket, definitions: defs}
}

func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

type Options struct {
	WorkspaceRoot string
	ShellTimeout  time.Duration
	FetchTimeout  time.Duration
}

// DefaultTools builds the standard tool set rooted at opts.WorkspaceRoot.
func DefaultTools(opts Options) ([]Tool, error) {
	guard, err := NewPathGuard(opts.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	shellTimeout := opts.ShellTimeout
	if shellTimeout <= 0 {
		shellTimeout = 60 * time.Second
	}
	return []Tool{
		ListDirTool{guard: guard},
		ReadFileTool{guard: guard},
		NewWriteFileTool(guard),
		NewGrepTool(guard),
		&ShellTool{guard: guard, timeout: shellTimeout},
		NewWebFetchTool(opts.FetchTimeout),
	}, nil
}

type ListDirTool struct {
	guard PathGuard
}

func (ListDirTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "list_dir",
			Description: "List files within a directory, optionally recursively. All paths are constrained inside the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path to list (default workspace root).",
					},
					"recursive": map[string]any{
						"type":        "boolean",
						"description": "Whether to walk subdirectories.",
					},
					"include_hidden": map[string]any{
						"type":        "boolean",
						"description": "Include entries whose names start with '.'.",
					},
					"max_entries": map[string]any{
						"type":        "integer",
						"description": "Maximum number of entries to return (default 200).",
					},
				},
			},
		},
	}
}

func (l ListDirTool) Call(ctx context.Context, args map[string]any) (string, error) {
	target, _ := stringArg(args, "path")
	root, err := l.guard.Resolve(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}
	includeHidden := boolArg(args, "include_hidden", false)
	recursive := boolArg(args, "recursive", false)
	maxEntries := intArg(args, "max_entries", 200)
	if maxEntries <= 0 {
		maxEntries = 200
	}

	type entry struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	results := make([]entry, 0, maxEntries)
	truncated := false

	addEntry := func(path string, isDir bool) bool {
		if len(results) >= maxEntries {
			truncated = true
			return false
		}
		rel := l.guard.Rel(path)
		if rel == "." {
			return true
		}
		if !includeHidden && strings.HasPrefix(filepath.Base(path), ".") {
			return true
		}
		kind := "file"
		if isDir {
			kind = "directory"
		}
		results = append(results, entry{Path: rel, Type: kind})
		return true
	}

	if recursive {
		walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if path == root {
				return nil
			}
			if !addEntry(path, d.IsDir()) {
				return errEntryLimit
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, errEntryLimit) {
			return "", walkErr
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if !addEntry(filepath.Join(root, e.Name()), e.IsDir()) {
				break
			}
		}
	}

	data, err := json.Marshal(map[string]any{
		"path":      root,
		"entries":   results,
		"truncated": truncated,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type ReadFileTool struct {
	guard PathGuard
}

func (ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "read_file",
			Description: "Read a UTF-8 text file and return its contents (optionally truncated). The path must stay within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to read, relative to the workspace root.",
					},
					"max_bytes": map[string]any{
						"type":        "integer",
						"description": "Maximum number of bytes to return (default 16384).",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (r ReadFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", errors.New("path is required")
	}
	abs, err := r.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	maxBytes := intArg(args, "max_bytes", 16384)
	if maxBytes <= 0 {
		maxBytes = 16384
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}
	out, err := json.Marshal(map[string]any{
		"path":      r.guard.Rel(abs),
		"bytes":     len(data),
		"truncated": truncated,
		"content":   string(data),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type ShellTool struct {
	guard   PathGuard
	timeout time.Duration
}

func (s *ShellTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "shell",
			Description: "Execute a command within the workspace root. All file operations must stay inside the workspace tree.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"description": "Command to execute, either an array of strings ['ls', '-la'] or a shell command string 'ls -la'.",
						"oneOf": []map[string]any{
							{"type": "array", "items": map[string]any{"type": "string"}},
							{"type": "string"},
						},
					},
					"workdir": map[string]any{
						"type":        "string",
						"description": "Working directory relative to the workspace root.",
					},
					"timeout_seconds": map[string]any{
						"type":        "number",
						"description": "Override the default timeout. Maximum 300 seconds.",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

const maxShellTimeout = 300 * time.Second

var blockedCommands = map[string]bool{"sudo": true, "su": true, "passwd": true}

func (s *ShellTool) Call(ctx context.Context, args map[string]any) (string, error) {
	rawCmd, err := commandArg(args)
	if err != nil {
		return "", err
	}
	if blockedCommands[filepath.Base(rawCmd[0])] {
		logging.ErrorLog("shell: blocked command %q", rawCmd[0])
		return "", fmt.Errorf("command %q requires interactive input and is not allowed", rawCmd[0])
	}

	workdir, _ := stringArg(args, "workdir")
	resolvedDir, err := s.guard.Resolve(workdir)
	if err != nil {
		return "", err
	}

	timeout := s.timeout
	if override := floatArg(args, "timeout_seconds", 0); override > 0 {
		timeout = time.Duration(override * float64(time.Second))
	}
	if timeout > maxShellTimeout {
		return "", fmt.Errorf("timeout_seconds cannot exceed %d", int(maxShellTimeout.Seconds()))
	}

	logging.DevLog("shell: executing %v in %s", rawCmd, resolvedDir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, rawCmd[0], rawCmd[1:]...)
	cmd.Dir = resolvedDir
	cmd.Stdin = nil // prevent hangs on interactive input
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)
	exitCode := 0
	if ps := cmd.ProcessState; ps != nil {
		exitCode = ps.ExitCode()
	}

	result := map[string]any{
		"workdir":     resolvedDir,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
	}
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logging.ErrorLog("shell: command timed out after %ds", int(timeout.Seconds()))
			result["error"] = fmt.Sprintf("command timed out after %d seconds and was killed", int(timeout.Seconds()))
			result["timed_out"] = true
		} else {
			result["error"] = runErr.Error()
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func commandArg(args map[string]any) ([]string, error) {
	raw, ok := args["command"]
	if !ok {
		return nil, errors.New("command is required")
	}
	switch v := raw.(type) {
	case []string:
		if len(v) == 0 {
			return nil, errors.New("command must not be empty")
		}
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command[%d] is not a string", i)
			}
			out = append(out, str)
		}
		if len(out) == 0 {
			return nil, errors.New("command must not be empty")
		}
		return out, nil
	case string:
		return parseShellCommand(v)
	default:
		return nil, errors.New("command must be an array of strings or a command string")
	}
}

// PathGuard confines file operations to a workspace root.
type PathGuard struct {
	root string
}

func NewPathGuard(root string) (PathGuard, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return PathGuard{}, err
	}
	return PathGuard{root: abs}, nil
}

// Root returns the absolute workspace root.
func (p PathGuard) Root() string {
	return p.root
}

// Resolve maps path inside the root and rejects anything escaping it.
func (p PathGuard) Resolve(path string) (string, error) {
	var target string
	switch {
	case path == "":
		target = p.root
	case filepath.IsAbs(path):
		target = path
	default:
		target = filepath.Join(p.root, path)
	}
	cleaned, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if cleaned != p.root && !strings.HasPrefix(cleaned, p.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes workspace root", path)
	}
	return cleaned, nil
}

func (p PathGuard) Rel(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return path
	}
	return rel
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	if s, ok := val.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", val), true
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultVal
	}
}

func floatArg(args map[string]any, key string, defaultVal float64) float64 {
	switch n := args[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return defaultVal
	}
}

func parseShellCommand(cmd string) ([]string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, errors.New("command string is empty")
	}

	var args []string
	var current strings.Builder
	var inQuote rune
	escaped := false

	for _, ch := range cmd {
		if escaped {
			current.WriteRune(ch)
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if inQuote != 0 {
			if ch == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(ch)
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			inQuote = ch
			continue
		}
		if ch == ' ' || ch == '\t' {
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteRune(ch)
	}

	if inQuote != 0 {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if len(args) == 0 {
		return nil, errors.New("no arguments parsed from command string")
	}
	return args, nil
}
