package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoPrompt is returned when a directory holds none of the prompt files.
var ErrNoPrompt = errors.New("no prompt file found")

// DiscoverPrompt reads the first of names that exists in dir and returns its
// trimmed content and path.
func DiscoverPrompt(dir string, names []string) (string, string, error) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("read prompt: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return "", path, fmt.Errorf("prompt file %s is empty", path)
		}
		return prompt, path, nil
	}
	return "", "", fmt.Errorf("%w in %s (looked for %s)", ErrNoPrompt, dir, strings.Join(names, ", "))
}

// ReadPromptFile reads an explicit prompt file.
func ReadPromptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}
