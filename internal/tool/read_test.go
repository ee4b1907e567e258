package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadTool_Execute(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "read.txt")
	if err := os.WriteFile(testFile, []byte("line one\nline two\nline three\n"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "` + testFile + `"}`)

	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, "    1| line one") {
		t.Errorf("Output missing numbered first line, got: %s", result.Output)
	}
	if !strings.Contains(result.Output, "    3| line three") {
		t.Errorf("Output missing numbered third line, got: %s", result.Output)
	}
	if result.Metadata["lines"] != 3 {
		t.Errorf("lines = %v, want 3", result.Metadata["lines"])
	}
}

func TestReadTool_RelativePath(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "rel.txt"), []byte("content"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "rel.txt"}`)

	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "content") {
		t.Errorf("Output should contain file content, got: %s", result.Output)
	}
}

func TestReadTool_OffsetAndLimit(t *testing.T) {
	tmpDir := t.TempDir()
	var sb strings.Builder
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	testFile := filepath.Join(tmpDir, "big.txt")
	if err := os.WriteFile(testFile, []byte(sb.String()), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "` + testFile + `", "offset": 10, "limit": 5}`)

	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result.Output, "   10| line 10") {
		t.Errorf("Output should start at line 10, got: %s", result.Output)
	}
	if strings.Contains(result.Output, "line 15") {
		t.Errorf("Output should stop after 5 lines, got: %s", result.Output)
	}
	if !strings.Contains(result.Output, "File has more lines") {
		t.Errorf("Output should hint at remaining lines, got: %s", result.Output)
	}
}

func TestReadTool_MissingFile(t *testing.T) {
	tool := NewReadTool(t.TempDir())
	input := json.RawMessage(`{"filePath": "missing.txt"}`)

	if _, err := tool.Execute(context.Background(), input, testContext()); err == nil {
		t.Error("Execute should fail for a missing file")
	}
}

func TestReadTool_RejectsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "` + tmpDir + `"}`)

	if _, err := tool.Execute(context.Background(), input, testContext()); err == nil {
		t.Error("Execute should fail for a directory")
	}
}

func TestReadTool_RejectsBinary(t *testing.T) {
	tmpDir := t.TempDir()
	binFile := filepath.Join(tmpDir, "data.bin")
	if err := os.WriteFile(binFile, []byte{0x89, 0x50, 0x4E, 0x47, 0x00, 0x01, 0x02}, 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "` + binFile + `"}`)

	if _, err := tool.Execute(context.Background(), input, testContext()); err == nil {
		t.Error("Execute should fail for a binary file")
	}
}

func TestReadTool_TruncatesLongLines(t *testing.T) {
	tmpDir := t.TempDir()
	longLine := strings.Repeat("x", readMaxLineLen+100)
	testFile := filepath.Join(tmpDir, "long.txt")
	if err := os.WriteFile(testFile, []byte(longLine+"\n"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tool := NewReadTool(tmpDir)
	input := json.RawMessage(`{"filePath": "` + testFile + `"}`)

	result, err := tool.Execute(context.Background(), input, testContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Output, "...") {
		t.Error("Long lines should be truncated with an ellipsis")
	}
	if strings.Contains(result.Output, longLine) {
		t.Error("Full long line should not appear in output")
	}
}
