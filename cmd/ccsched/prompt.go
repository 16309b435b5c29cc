package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

const editorPlaceholder = "<!-- Please write your task prompt below this line. This comment will be automatically removed. -->"

// resolvePrompt produces the task prompt from, in order of preference: an
// explicit file, piped stdin, or an interactive editor session seeded with
// the existing prompt (or a placeholder for new tasks).
func resolvePrompt(promptFile, existing string) (string, error) {
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %q: %w", promptFile, err)
		}
		return string(data), nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt := string(data)
		if strings.TrimSpace(prompt) == "" {
			return "", fmt.Errorf("prompt cannot be empty")
		}
		return prompt, nil
	}

	return launchEditor(existing)
}

// launchEditor opens $VISUAL/$EDITOR on a temp markdown file and returns its
// trimmed content.
func launchEditor(existing string) (string, error) {
	seed := existing
	fresh := existing == ""
	if fresh {
		seed = editorPlaceholder + "\n\n"
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("ccsched_prompt_%d.md", os.Getpid()))
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		return "", err
	}
	defer os.Remove(path)

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to launch editor %q: %w", editor, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	content := string(data)
	if fresh {
		content = stripPlaceholder(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	return content, nil
}

func stripPlaceholder(content string) string {
	if !strings.HasPrefix(content, editorPlaceholder) {
		return content
	}
	lines := strings.Split(content, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" && !strings.HasPrefix(trimmed, "<!--") {
			break
		}
	}
	return strings.Join(lines[i:], "\n")
}
