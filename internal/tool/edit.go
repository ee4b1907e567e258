package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The file_path parameter must be an absolute path
- The old_string must exist in the file (exact match required)
- The new_string will replace old_string
- Use replace_all to replace all occurrences
- The edit will FAIL if old_string is not unique (unless using replace_all)`

// EditTool implements file editing.
type EditTool struct {
	workDir string
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string          { return "edit" }
func (t *EditTool) Description() string { return editDescription }

// NeedsConfirmation is true: edits mutate the workspace and require
// user approval before running.
func (t *EditTool) NeedsConfirmation() bool { return true }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("old_string and new_string must be different")
	}

	path := params.FilePath
	if !filepath.IsAbs(path) && t.workDir != "" {
		path = filepath.Join(t.workDir, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	before := string(content)

	text := before
	old := params.OldString
	count := strings.Count(text, old)
	if count == 0 {
		// Retry with normalized line endings before giving up.
		old = normalizeLineEndings(params.OldString)
		text = normalizeLineEndings(text)
		count = strings.Count(text, old)
	}
	if count == 0 {
		return nil, fmt.Errorf("old_string not found in file")
	}

	var after string
	if params.ReplaceAll {
		after = strings.ReplaceAll(text, old, params.NewString)
	} else {
		if count > 1 {
			return nil, fmt.Errorf("old_string appears %d times in file, use replace_all or provide more context", count)
		}
		after = strings.Replace(text, old, params.NewString, 1)
		count = 1
	}

	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	diff, additions, deletions := unifiedDiff(path, before, after)

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(path)),
		Output: fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: map[string]any{
			"file":         path,
			"replacements": count,
			"additions":    additions,
			"deletions":    deletions,
		},
		FileChanges: []FileChange{
			{Path: path, Before: before, Diff: diff},
		},
	}, nil
}

func (t *EditTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
