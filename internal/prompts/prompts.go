// Package prompts holds the built-in system prompt and the environment
// metadata appended to it.
package prompts

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

//go:embed system_prompt.txt
var baseSystemPrompt string

var (
	metadataMu sync.RWMutex
	metadata   string
)

// Base returns the built-in system prompt.
func Base() string {
	return strings.TrimSpace(baseSystemPrompt)
}

// Combine joins the built-in prompt, the environment metadata, and an
// optional user-provided prompt.
func Combine(user string) string {
	sections := []string{Base()}
	if meta := getMetadata(); meta != "" {
		sections = append(sections, "## Environment Context\n"+meta)
	}
	if trimmed := strings.TrimSpace(user); trimmed != "" {
		sections = append(sections, trimmed)
	}
	return strings.Join(sections, "\n\n")
}

// SetMetadata defines the environment metadata appended to the system prompt.
func SetMetadata(info string) {
	metadataMu.Lock()
	defer metadataMu.Unlock()
	metadata = strings.TrimSpace(info)
}

// EnvironmentMetadata describes the runtime context for the model.
func EnvironmentMetadata(workspaceRoot string) string {
	return fmt.Sprintf("Workspace root: %s\nOperating system: %s/%s\nDate: %s",
		workspaceRoot, runtime.GOOS, runtime.GOARCH, time.Now().Format("2006-01-02"))
}

func getMetadata() string {
	metadataMu.RLock()
	defer metadataMu.RUnlock()
	return metadata
}
