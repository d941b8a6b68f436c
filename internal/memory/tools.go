package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sidekick/internal/tooling"
)

// SaveTool lets the model persist a note for later sessions.
type SaveTool struct {
	store *Store
}

func NewSaveTool(store *Store) *SaveTool {
	return &SaveTool{store: store}
}

func (t *SaveTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{
		Type: "function",
		Function: tooling.ToolFunction{
			Name:        "save_memory",
			Description: "Persist a short note that survives across sessions. Use for durable facts about the project or the user's preferences.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "Short label for the note.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "The fact to remember.",
					},
				},
				"required": []string{"content"},
			},
		},
	}
}

func (t *SaveTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	content, _ := argString(args, "content")
	if strings.TrimSpace(content) == "" {
		return "", errors.New("content is required")
	}
	topic, _ := argString(args, "topic")
	id, err := t.store.Save(topic, content)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(map[string]any{"id": id, "topic": topic})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RecallTool searches stored memories.
type RecallTool struct {
	store *Store
}

func NewRecallTool(store *Store) *RecallTool {
	return &RecallTool{store: store}
}

func (t *RecallTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{
		Type: "function",
		Function: tooling.ToolFunction{
			Name:        "recall_memory",
			Description: "Search previously saved memories by topic or content substring.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Substring to search for.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of entries to return (default 5).",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *RecallTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	query, _ := argString(args, "query")
	limit := 5
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	entries, err := t.store.Recall(query, limit)
	if err != nil {
		return "", err
	}
	type memoryOut struct {
		ID      string `json:"id"`
		Topic   string `json:"topic"`
		Content string `json:"content"`
		SavedAt string `json:"saved_at"`
	}
	out := make([]memoryOut, 0, len(entries))
	for _, e := range entries {
		out = append(out, memoryOut{
			ID:      e.ID,
			Topic:   e.Topic,
			Content: e.Content,
			SavedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	data, err := json.Marshal(map[string]any{"count": len(out), "memories": out})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func argString(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}
