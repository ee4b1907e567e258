package tool

import (
	"testing"
)

// testContext returns a tool context for tests.
func testContext() *Context {
	return &Context{
		ConversationID: "test-conversation",
		MessageID:      "test-message",
		CallID:         "test-call",
		WorkDir:        "",
		AbortCh:        make(chan struct{}),
	}
}

func TestIsAborted(t *testing.T) {
	ch := make(chan struct{})
	ctx := &Context{AbortCh: ch}

	if ctx.IsAborted() {
		t.Error("IsAborted should be false before the channel closes")
	}

	close(ch)
	if !ctx.IsAborted() {
		t.Error("IsAborted should be true after the channel closes")
	}
}

func TestSetMetadataWithoutCallback(t *testing.T) {
	ctx := &Context{}
	// Must not panic when no callback is registered.
	ctx.SetMetadata("title", map[string]any{"k": "v"})
}

func TestSetMetadataDelivers(t *testing.T) {
	var gotTitle string
	var gotMeta map[string]any
	ctx := &Context{
		OnMetadata: func(title string, meta map[string]any) {
			gotTitle = title
			gotMeta = meta
		},
	}

	ctx.SetMetadata("Processing", map[string]any{"done": 3})
	if gotTitle != "Processing" {
		t.Errorf("title = %q, want 'Processing'", gotTitle)
	}
	if gotMeta["done"] != 3 {
		t.Errorf("meta[done] = %v, want 3", gotMeta["done"])
	}
}

func TestToolInfoConversion(t *testing.T) {
	tool := NewReadTool("")
	info := toolInfo(tool)

	if info.Name != "read" {
		t.Errorf("Name = %q, want 'read'", info.Name)
	}
	if info.Desc == "" {
		t.Error("Desc should not be empty")
	}
	if info.ParamsOneOf == nil {
		t.Error("ParamsOneOf should not be nil")
	}
}
