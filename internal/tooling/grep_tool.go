package tooling

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// GrepTool searches file contents using regex patterns.
type GrepTool struct {
	guard PathGuard
}

// grepLine is a single line in content-mode output.
type grepLine struct {
	Line    int    `json:"line"`
	Type    string `json:"type"` // "match" or "context"
	Content string `json:"content"`
}

func NewGrepTool(guard PathGuard) *GrepTool {
	return &GrepTool{guard: guard}
}

func (GrepTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "grep",
			Description: "Search file contents using regex patterns. Output modes: 'files' (paths only, default), 'content' (matching lines with optional context), 'count' (match counts).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Regular expression pattern to search for.",
					},
					"path": map[string]any{
						"type":        "string",
						"description": "File or directory to search (default: workspace root).",
					},
					"glob": map[string]any{
						"type":        "string",
						"description": "Glob pattern to filter file names (e.g., '*.go').",
					},
					"case_insensitive": map[string]any{
						"type":        "boolean",
						"description": "Perform case-insensitive search (default: false).",
					},
					"output_mode": map[string]any{
						"type": "string",
						"enum": []string{"content", "files", "count"},
					},
					"context": map[string]any{
						"type":        "integer",
						"description": "Lines of context around each match (content mode only).",
					},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Maximum number of matches to return (default: 100).",
					},
				},
				"required": []string{"pattern"},
			},
		},
	}
}

func (g *GrepTool) Call(ctx context.Context, args map[string]any) (string, error) {
	patternStr, ok := stringArg(args, "pattern")
	if !ok || patternStr == "" {
		return "", errors.New("pattern is required")
	}
	if boolArg(args, "case_insensitive", false) {
		patternStr = "(?i)" + patternStr
	}
	pattern, err := regexp.Compile(patternStr)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern: %w", err)
	}

	searchPath, _ := stringArg(args, "path")
	root, err := g.guard.Resolve(searchPath)
	if err != nil {
		return "", err
	}
	globPattern, _ := stringArg(args, "glob")
	outputMode, _ := stringArg(args, "output_mode")
	if outputMode == "" {
		outputMode = "files"
	}
	contextLines := intArg(args, "context", 0)
	maxResults := intArg(args, "max_results", 100)
	if maxResults <= 0 {
		maxResults = 100
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}

	type fileMatch struct {
		Path    string       `json:"path"`
		Count   int          `json:"count"`
		Matches [][]grepLine `json:"matches,omitempty"`
	}
	var results []fileMatch
	total := 0

	searchOne := func(path string) {
		matches, count := g.grepFile(path, pattern, outputMode, contextLines, maxResults-total)
		if count == 0 {
			return
		}
		fm := fileMatch{Path: g.guard.Rel(path), Count: count}
		if outputMode == "content" {
			fm.Matches = matches
		}
		results = append(results, fm)
		total += count
	}

	if info.IsDir() {
		walkErr := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil // unreadable entries are skipped
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if info.IsDir() || isBinaryFile(path) {
				return nil
			}
			if globPattern != "" {
				matched, matchErr := filepath.Match(globPattern, filepath.Base(path))
				if matchErr != nil || !matched {
					return nil
				}
			}
			searchOne(path)
			if total >= maxResults {
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
			return "", walkErr
		}
	} else {
		searchOne(root)
	}

	if outputMode == "files" {
		paths := make([]string, len(results))
		for i, r := range results {
			paths[i] = r.Path
		}
		data, err := json.Marshal(map[string]any{"count": len(paths), "files": paths})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := json.Marshal(map[string]any{"count": len(results), "results": results})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *GrepTool) grepFile(path string, pattern *regexp.Regexp, outputMode string, contextLines, maxResults int) ([][]grepLine, int) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	if outputMode != "content" {
		count := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if pattern.MatchString(scanner.Text()) {
				count++
			}
		}
		return nil, count
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	var matches [][]grepLine
	count := 0
	for i, line := range lines {
		if !pattern.MatchString(line) {
			continue
		}
		var block []grepLine
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			block = append(block, grepLine{Line: j + 1, Type: "context", Content: lines[j]})
		}
		block = append(block, grepLine{Line: i + 1, Type: "match", Content: line})
		end := i + contextLines + 1
		if end > len(lines) {
			end = len(lines)
		}
		for j := i + 1; j < end; j++ {
			block = append(block, grepLine{Line: j + 1, Type: "context", Content: lines[j]})
		}
		matches = append(matches, block)
		count++
		if count >= maxResults {
			break
		}
	}
	return matches, count
}

func isBinaryFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	binaryExts := map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".bin": true, ".dat": true, ".db": true, ".sqlite": true,
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".pdf": true, ".zip": true, ".tar": true, ".gz": true,
		".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	}
	return binaryExts[ext]
}
