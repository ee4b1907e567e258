package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/oklog/ulid/v2"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/task"
)

const bgremoveDescription = `Removes the background from images matching a glob pattern.

Usage:
- The pattern is a glob relative to the workspace (supports ** recursion)
- Processed images are written next to the originals with a "_nobg" suffix,
  or into output_dir when provided
- Runs as a background task; progress is reported per file and the batch
  can be cancelled`

const bgremoveTaskType = "bgremove"

// BgRemoveTool runs batch background removal over matched image files.
type BgRemoveTool struct {
	workDir string
	engines map[string]Engine
	tasks   *task.Manager
	aborts  *abort.Registry
}

// BgRemoveInput represents the input for the bgremove tool.
type BgRemoveInput struct {
	Pattern   string `json:"pattern"`
	OutputDir string `json:"outputDir,omitempty"`
	Engine    string `json:"engine,omitempty"`
}

// NewBgRemoveTool creates the batch background-removal tool.
func NewBgRemoveTool(workDir string, engines map[string]Engine, tasks *task.Manager, aborts *abort.Registry) *BgRemoveTool {
	return &BgRemoveTool{
		workDir: workDir,
		engines: engines,
		tasks:   tasks,
		aborts:  aborts,
	}
}

func (t *BgRemoveTool) ID() string              { return "bgremove" }
func (t *BgRemoveTool) Description() string     { return bgremoveDescription }
func (t *BgRemoveTool) NeedsConfirmation() bool { return false }

func (t *BgRemoveTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "Glob pattern for input images, relative to the workspace"
			},
			"outputDir": {
				"type": "string",
				"description": "Directory for processed images (default: next to originals)"
			},
			"engine": {
				"type": "string",
				"description": "Engine name to use (default: first configured engine)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *BgRemoveTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BgRemoveInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	engine, err := t.selectEngine(params.Engine)
	if err != nil {
		return nil, err
	}

	files, err := t.matchFiles(params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if len(files) == 0 {
		return &Result{
			Title:  "Background removal",
			Output: fmt.Sprintf("No images matched %q", params.Pattern),
		}, nil
	}

	taskID := ulid.Make().String()
	token := t.aborts.Create(ctx, bgremoveTaskType+":"+taskID)
	defer t.aborts.Delete(token.Key())

	t.tasks.Register(taskID, bgremoveTaskType, token, len(files), map[string]any{
		"pattern": params.Pattern,
		"engine":  engine.Name(),
	})

	succeeded, failed := 0, 0
	cancelled := false
	var failures []string

	for _, file := range files {
		if token.Cancelled() {
			cancelled = true
			break
		}
		if toolCtx != nil && toolCtx.IsAborted() {
			cancelled = true
			break
		}

		outPath, err := t.processFile(token.Context(), engine, file, params.OutputDir)
		if err != nil {
			if token.Cancelled() {
				cancelled = true
				break
			}
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", file, err))
			t.tasks.Progress(taskID, "failure", map[string]any{"file": file, "error": err.Error()})
			continue
		}
		succeeded++
		t.tasks.Progress(taskID, "success", map[string]any{"file": file, "output": outPath})
		if toolCtx != nil {
			toolCtx.SetMetadata(fmt.Sprintf("Processed %s", filepath.Base(file)), map[string]any{
				"done":  succeeded + failed,
				"total": len(files),
			})
		}
	}

	switch {
	case cancelled:
		t.tasks.Unregister(taskID, task.StatusCancelled, nil)
	case failed > 0 && succeeded == 0:
		t.tasks.Unregister(taskID, task.StatusError, map[string]any{"error": strings.Join(failures, "; ")})
	default:
		t.tasks.Unregister(taskID, task.StatusCompleted, nil)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Processed %d of %d image(s)", succeeded, len(files))
	if failed > 0 {
		fmt.Fprintf(&sb, ", %d failed:\n%s", failed, strings.Join(failures, "\n"))
	}
	if cancelled {
		sb.WriteString("\n(batch cancelled)")
	}

	return &Result{
		Title:  fmt.Sprintf("Background removal (%s)", engine.Name()),
		Output: sb.String(),
		Metadata: map[string]any{
			"taskId":    taskID,
			"succeeded": succeeded,
			"failed":    failed,
			"cancelled": cancelled,
		},
	}, nil
}

func (t *BgRemoveTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

func (t *BgRemoveTool) selectEngine(name string) (Engine, error) {
	if len(t.engines) == 0 {
		return nil, fmt.Errorf("no background-removal engines configured")
	}
	if name == "" {
		for _, e := range t.engines {
			return e, nil
		}
	}
	e, ok := t.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return e, nil
}

func (t *BgRemoveTool) matchFiles(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(t.workDir), pattern)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		full := filepath.Join(t.workDir, m)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			files = append(files, full)
		}
	}
	return files, nil
}

func (t *BgRemoveTool) processFile(ctx context.Context, engine Engine, path, outputDir string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	out, err := engine.Remove(ctx, data)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	dir := filepath.Dir(path)
	if outputDir != "" {
		dir = outputDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(t.workDir, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	outPath := filepath.Join(dir, base+"_nobg.png")
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return "", err
	}
	return outPath, nil
}
