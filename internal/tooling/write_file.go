package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileTool creates or edits files within the workspace.
type WriteFileTool struct {
	guard PathGuard
}

func NewWriteFileTool(guard PathGuard) *WriteFileTool {
	return &WriteFileTool{guard: guard}
}

func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "write_file",
			Description: "Write text to a file. Mode 'overwrite' (default) replaces the file, 'append' adds to the end. Parent directories are created as needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file relative to the workspace root.",
					},
					"mode": map[string]any{
						"type":        "string",
						"description": "overwrite (default) or append.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Text to write. Use \n for new lines.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (t *WriteFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	path, ok := stringArg(args, "path")
	if !ok || strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return "", errors.New("content is required")
	}

	mode, _ := stringArg(args, "mode")
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "overwrite"
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}

	switch mode {
	case "overwrite":
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return "", err
		}
	case "append":
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", err
		}
		_, writeErr := f.WriteString(content)
		if closeErr := f.Close(); writeErr == nil {
			writeErr = closeErr
		}
		if writeErr != nil {
			return "", writeErr
		}
	default:
		return "", fmt.Errorf("unsupported mode %s", mode)
	}

	data, err := json.Marshal(map[string]any{
		"path":  t.guard.Rel(abs),
		"mode":  mode,
		"bytes": len(content),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
