package agent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"sidekick/internal/config"
	"sidekick/internal/logging"
	"sidekick/internal/session"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":sessions", Description: "list stored sessions"},
	{Text: ":use", Description: "switch to an existing session"},
	{Text: ":new", Description: "create and switch to a blank session"},
	{Text: ":clear", Description: "wipe the current session's history"},
	{Text: ":drop", Description: "delete a stored session"},
	{Text: ":tools", Description: "list registered tools"},
	{Text: ":model", Description: "show or switch the active model"},
	{Text: ":memories", Description: "inspect stored memories"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

// knownModels seeds the model picker; the configured model is always
// offered even when it is not on this list.
var knownModels = []string{
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4o",
	"gpt-4o-mini",
	"o4-mini",
}

func (a *Agent) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		fmt.Println(`Commands:
  :help           show this text
  :sessions       list stored sessions
  :use <name>     switch to an existing session
  :new [name]     create and switch to a blank session
  :clear          wipe the current session's history
  :drop <name>    delete a stored session
  :tools          list registered tools
  :model [name]   show or switch the active model
  :memories [n]   show up to n stored memories (default 5)
  :quit           exit the program`)
	case ":sessions":
		summaries := a.sessions.Summaries()
		if len(summaries) == 0 {
			fmt.Println("No sessions yet. Use :new to create one.")
			return false
		}
		current := a.sessions.CurrentName()
		for _, s := range summaries {
			marker := " "
			if s.Name == current {
				marker = "*"
			}
			fmt.Printf(" %s %s (%d messages, updated %s)\n", marker, s.Name, s.MessageCount, s.UpdatedAt.Format(time.RFC822))
		}
		if total := a.getTotalTokens(); total > 0 {
			fmt.Printf("(%d tokens used this run)\n", total)
		}
	case ":use":
		if len(parts) < 2 {
			fmt.Println(":use requires a session name")
			return false
		}
		if _, err := a.sessions.Use(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Switched to %s\n", parts[1])
	case ":new":
		var sess *session.Session
		var err error
		if len(parts) >= 2 {
			sess, err = a.sessions.Create(parts[1])
		} else {
			sess, err = a.sessions.Ensure("")
		}
		if err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Created session %s\n", sess.Name())
	case ":clear":
		if err := a.sessions.ClearCurrent(); err != nil {
			fmt.Printf("Clear failed: %v\n", err)
			return false
		}
		fmt.Println("Cleared current session.")
	case ":drop":
		if len(parts) < 2 {
			fmt.Println(":drop requires a session name")
			return false
		}
		if err := a.sessions.Delete(parts[1]); err != nil {
			fmt.Println(err)
			return false
		}
		fmt.Printf("Removed session %s\n", parts[1])
	case ":tools":
		defs := a.tools.Definitions()
		if len(defs) == 0 {
			fmt.Println("No tools registered.")
			return false
		}
		fmt.Println("Tools:")
		for _, def := range defs {
			fmt.Printf("  - %s: %s\n", def.Function.Name, def.Function.Description)
		}
	case ":model":
		if len(parts) >= 2 {
			a.applyModel(parts[1])
			return false
		}
		a.pickModel()
	case ":memories":
		if a.memories == nil {
			fmt.Println("Memory store is not configured.")
			return false
		}
		limit := 5
		if len(parts) >= 2 {
			val, err := strconv.Atoi(parts[1])
			if err != nil || val <= 0 {
				fmt.Println(":memories expects a positive integer limit (e.g. :memories 5).")
				return false
			}
			limit = val
		}
		entries, err := a.memories.List(limit)
		if err != nil {
			fmt.Printf("Memory listing failed: %v\n", err)
			return false
		}
		fmt.Printf("Memories: %d total\n", a.memories.Count())
		if len(entries) == 0 {
			fmt.Println("No stored memories.")
			return false
		}
		for _, entry := range entries {
			summary := entry.Content
			if len(summary) > 80 {
				summary = summary[:80] + "..."
			}
			fmt.Printf("- %s [%s] %s\n", entry.ID, entry.Topic, summary)
		}
	case ":quit", ":exit":
		fmt.Println("Exiting per user request.")
		return true
	default:
		fmt.Printf("Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

// pickModel opens the interactive picker over the known models plus the
// configured one.
func (a *Agent) pickModel() {
	current := a.model()
	models := make([]string, 0, len(knownModels)+1)
	seen := map[string]bool{}
	for _, m := range append([]string{current}, knownModels...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}

	choice, err := a.picker.Pick(a.stack, models, current)
	if err != nil {
		if !errors.Is(err, errPromptCancelled) {
			fmt.Printf("Model unchanged: %v\n", err)
		} else {
			fmt.Println("(model unchanged)")
		}
		return
	}
	a.applyModel(choice)
}

func (a *Agent) applyModel(model string) {
	a.setModel(model)
	if err := config.Save(a.cfg); err != nil {
		fmt.Printf("Failed to save config: %v\n", err)
	}
	logging.UserLog("model set to %s", model)
	fmt.Printf("Model set to %s\n", model)
}
