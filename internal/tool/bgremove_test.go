package tool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/task"
)

// fakeEngine flips the image bytes, or fails for matching paths.
type fakeEngine struct {
	failOn string
	calls  int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Remove(ctx context.Context, image []byte) ([]byte, error) {
	e.calls++
	if e.failOn != "" && strings.Contains(string(image), e.failOn) {
		return nil, errors.New("engine rejected image")
	}
	return append([]byte("nobg:"), image...), nil
}

func newBgRemoveFixture(t *testing.T, engine Engine) (*BgRemoveTool, string) {
	t.Helper()
	workDir := t.TempDir()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	tool := NewBgRemoveTool(workDir, map[string]Engine{"fake": engine}, task.NewManager(bus), abort.NewRegistry())
	return tool, workDir
}

func writeImage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
}

func TestBgRemoveProcessesMatchedFiles(t *testing.T) {
	engine := &fakeEngine{}
	tool, workDir := newBgRemoveFixture(t, engine)
	writeImage(t, workDir, "a.png", "imageA")
	writeImage(t, workDir, "b.png", "imageB")
	writeImage(t, workDir, "notes.txt", "not an image")

	input := json.RawMessage(`{"pattern": "*.png"}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if engine.calls != 2 {
		t.Errorf("engine calls = %d, want 2", engine.calls)
	}
	if result.Metadata["succeeded"] != 2 {
		t.Errorf("succeeded = %v, want 2", result.Metadata["succeeded"])
	}

	out, err := os.ReadFile(filepath.Join(workDir, "a_nobg.png"))
	if err != nil {
		t.Fatalf("processed file missing: %v", err)
	}
	if string(out) != "nobg:imageA" {
		t.Errorf("processed content = %q", string(out))
	}
}

func TestBgRemoveWritesToOutputDir(t *testing.T) {
	tool, workDir := newBgRemoveFixture(t, &fakeEngine{})
	writeImage(t, workDir, "a.png", "imageA")

	input := json.RawMessage(`{"pattern": "*.png", "outputDir": "out"}`)
	if _, err := tool.Execute(context.Background(), input, testContext()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(workDir, "out", "a_nobg.png")); err != nil {
		t.Errorf("output file missing in outputDir: %v", err)
	}
}

func TestBgRemoveReportsFailures(t *testing.T) {
	tool, workDir := newBgRemoveFixture(t, &fakeEngine{failOn: "bad"})
	writeImage(t, workDir, "good.png", "fine")
	writeImage(t, workDir, "broken.png", "bad data")

	input := json.RawMessage(`{"pattern": "*.png"}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Metadata["succeeded"] != 1 {
		t.Errorf("succeeded = %v, want 1", result.Metadata["succeeded"])
	}
	if result.Metadata["failed"] != 1 {
		t.Errorf("failed = %v, want 1", result.Metadata["failed"])
	}
	if !strings.Contains(result.Output, "engine rejected image") {
		t.Errorf("Output should list the failure, got: %s", result.Output)
	}
}

func TestBgRemoveNoMatches(t *testing.T) {
	tool, _ := newBgRemoveFixture(t, &fakeEngine{})

	input := json.RawMessage(`{"pattern": "*.png"}`)
	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "No images matched") {
		t.Errorf("Output = %q, want no-match notice", result.Output)
	}
}

func TestBgRemoveUnknownEngine(t *testing.T) {
	tool, workDir := newBgRemoveFixture(t, &fakeEngine{})
	writeImage(t, workDir, "a.png", "imageA")

	input := json.RawMessage(`{"pattern": "*.png", "engine": "nope"}`)
	if _, err := tool.Execute(context.Background(), input, testContext()); err == nil {
		t.Error("Execute should fail for an unknown engine")
	}
}

func TestBgRemoveNilContext(t *testing.T) {
	engine := &fakeEngine{}
	tool, workDir := newBgRemoveFixture(t, engine)
	writeImage(t, workDir, "a.png", "imageA")
	writeImage(t, workDir, "b.png", "imageB")

	input := json.RawMessage(`{"pattern": "*.png"}`)
	result, err := tool.Execute(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Metadata["succeeded"] != 2 {
		t.Errorf("succeeded = %v, want 2", result.Metadata["succeeded"])
	}
}

func TestBgRemoveAbortedBeforeStart(t *testing.T) {
	engine := &fakeEngine{}
	tool, workDir := newBgRemoveFixture(t, engine)
	writeImage(t, workDir, "a.png", "imageA")

	ch := make(chan struct{})
	close(ch)
	toolCtx := testContext()
	toolCtx.AbortCh = ch

	input := json.RawMessage(`{"pattern": "*.png"}`)
	result, err := tool.Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Metadata["cancelled"] != true {
		t.Error("batch should report cancellation")
	}
	if engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", engine.calls)
	}
}
