package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sidekick/internal/agent"
	"sidekick/internal/config"
	"sidekick/internal/llm"
	"sidekick/internal/llm/mockclient"
	"sidekick/internal/logging"
	"sidekick/internal/memory"
	"sidekick/internal/prompts"
	"sidekick/internal/provider"
	"sidekick/internal/session"
	"sidekick/internal/tooling"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		workspacePath = flag.String("workspace", "", "Override the workspace root directory")
		resumeName    = flag.String("resume", "", "Resume an existing session by name")
		listSessions  = flag.Bool("list-sessions", false, "List stored sessions and exit")
		promptFlag    = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		versionFlag   = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Sidekick version %s\n", Version)
		return
	}

	if err := config.EnsureDefaultConfig(); err != nil {
		log.Fatalf("Failed to ensure default config: %v", err)
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if workspace := strings.TrimSpace(*workspacePath); workspace != "" {
		cfg.OverrideWorkspaceRoot(workspace)
	}

	root := cfg.WorkspaceRoot
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}

	logger := logging.Setup(filepath.Join(config.GetConfigDir(), "sidekick.log"))
	prompts.SetMetadata(prompts.EnvironmentMetadata(absRoot))

	sessions, err := session.NewManager(prompts.Combine(cfg.SystemPrompt), cfg.SessionDir, logger)
	if err != nil {
		log.Fatalf("Failed to init session manager: %v", err)
	}

	if *listSessions {
		printSessionList(sessions.Summaries())
		return
	}

	client := buildClient(cfg, logger)

	tools, err := tooling.DefaultTools(tooling.Options{
		WorkspaceRoot: absRoot,
		ShellTimeout:  cfg.ShellTimeout(),
		FetchTimeout:  cfg.RequestTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to init tools: %v", err)
	}

	var memStore *memory.Store
	if cfg.MemoryStorePath != "" {
		memStore, err = memory.Open(cfg.MemoryStorePath)
		if err != nil {
			logger.Printf("memory store unavailable: %v", err)
		} else {
			defer memStore.Close()
			tools = append(tools, memory.NewSaveTool(memStore), memory.NewRecallTool(memStore))
		}
	}

	agentInstance := agent.New(client, cfg, sessions, tools, logger, agent.Options{
		ResumeSession: strings.TrimSpace(*resumeName),
		Memories:      memStore,
		Version:       Version,
	})

	if *promptFlag != "" {
		if err := agentInstance.RunOneShot(context.Background(), *promptFlag); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("Received shutdown signal, stopping")
		cancel()
	}()

	if err := agentInstance.Run(ctx); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func buildClient(cfg config.Config, logger *log.Logger) llm.Client {
	if os.Getenv("SIDEKICK_MOCK_LLM") == "1" {
		logger.Println("SIDEKICK_MOCK_LLM=1 detected; using mock LLM client")
		return mockclient.New()
	}
	apiKey := cfg.APIKey()
	if apiKey == "" {
		log.Fatalf("No API key found. Export %s or set api_key_env in the config.", cfg.APIKeyEnv)
	}
	client := provider.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
	client.SetRetryPolicy(cfg.RetryPolicy())
	logger.Printf("provider ready (model %s, endpoint %s)", cfg.Model, cfg.BaseURL)
	return client
}

func printSessionList(summaries []session.Summary) {
	if len(summaries) == 0 {
		fmt.Println("No stored sessions yet.")
		return
	}
	fmt.Printf("Stored sessions (%d):\n", len(summaries))
	for i, s := range summaries {
		fmt.Printf("  %d) %s (%d messages, updated %s)\n", i+1, s.Name, s.MessageCount, s.UpdatedAt.Format(time.RFC822))
	}
}
