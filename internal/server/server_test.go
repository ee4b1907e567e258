package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/chat"
	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/storage"
	"github.com/HCPTangHY/Lim-Code/internal/task"
	"github.com/HCPTangHY/Lim-Code/internal/tool"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

type fakeProvider struct{}

func (fakeProvider) ID() string   { return "test" }
func (fakeProvider) Name() string { return "Test" }

func (fakeProvider) Models() []types.Model {
	return []types.Model{{ID: "test-model", Name: "Test Model", ProviderID: "test", SupportsTools: true}}
}

func (fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	return nil, errors.New("not used in server tests")
}

// echoRunner completes every turn with a fixed reply.
type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, req chat.TurnRequest, emit func(chat.Chunk)) {
	send := func(c chat.Chunk) {
		c.ConversationID = req.Conversation.ID
		c.Turn = req.Turn
		emit(c)
	}
	send(chat.Chunk{Kind: chat.KindChunk, Delta: &chat.Delta{Text: "echo"}})
	send(chat.Chunk{Kind: chat.KindComplete})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := storage.NewConversationStore(storage.New(t.TempDir()))
	aborts := abort.NewRegistry()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	providers := provider.NewRegistry(&types.Config{Model: "test/test-model"})
	providers.Register(fakeProvider{})

	controller := chat.NewController(store, echoRunner{}, aborts, providers, bus, t.TempDir())
	tools := tool.NewRegistry(t.TempDir())
	tasks := task.NewManager(bus)

	appConfig := &types.Config{
		Model: "test/test-model",
		Provider: map[string]types.ProviderConfig{
			"test": {APIKey: "sk-secret"},
		},
	}

	return New(DefaultConfig(), appConfig, controller, providers, tools, tasks, bus, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func waitForIdle(t *testing.T, s *Server) stateResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, http.MethodGet, "/chat/state", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var state stateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		if state.Phase == "idle" && len(state.Messages) > 0 {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("conversation did not reach idle in time")
	return stateResponse{}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSendMessageFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat/message", `{"text":"Hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	state := waitForIdle(t, s)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, types.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "echo", state.Messages[1].Text())
}

func TestSendMessageRequiresText(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat/message", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCodeInvalidRequest)
}

func TestCancelWithoutStream(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":false`)
}

func TestRetryRequiresHistory(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeRetry))
}

func TestEditRetryValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat/edit-retry", `{"index":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/chat/edit-retry", `{"index":5,"text":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Persist a conversation by sending a message.
	rec := doJSON(t, s, http.MethodPost, "/chat/message", `{"text":"Hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	state := waitForIdle(t, s)
	firstID := state.Conversation.ID

	rec = doJSON(t, s, http.MethodGet, "/conversation/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*types.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, firstID, list[0].ID)

	// Open a fresh conversation, then switch back.
	rec = doJSON(t, s, http.MethodPost, "/conversation/", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/conversation/"+firstID+"/switch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var switched stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &switched))
	assert.Equal(t, firstID, switched.Conversation.ID)
	assert.Len(t, switched.Messages, 2)

	rec = doJSON(t, s, http.MethodDelete, "/conversation/"+firstID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/conversation/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestSwitchToMissingConversation(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/conversation/nope/switch", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeLoad))
}

func TestResolveUnknownToolCall(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat/tool-call/call-1", `{"approve":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUnknownTask(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/task/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProvidersAndModels(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/provider/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var providers []providerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "test", providers[0].ID)
	require.Len(t, providers[0].Models, 1)
	assert.Equal(t, "test-model", providers[0].Models[0].ID)

	rec = doJSON(t, s, http.MethodGet, "/provider/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var models []types.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Len(t, models, 1)
}

func TestConfigRedactsAPIKeys(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret")
	assert.Contains(t, rec.Body.String(), "(redacted)")
}

func TestEventStreamSendsConnectedAndChunks(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/event", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Router().ServeHTTP(rec, req)
	}()

	// Give the subscription time to register, then publish an event.
	time.Sleep(50 * time.Millisecond)
	s.bus.PublishSync(event.Event{
		Type: event.ConversationUpdated,
		Data: event.ConversationUpdatedData{Info: &types.Conversation{ID: "conv-1"}},
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "server.connected")
	assert.Contains(t, body, "conversation.updated")
	assert.Contains(t, body, "conv-1")
}
