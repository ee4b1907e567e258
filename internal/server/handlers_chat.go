package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/HCPTangHY/Lim-Code/internal/chat"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// stateResponse is the wire form of the current conversation state.
type stateResponse struct {
	Conversation       *types.Conversation      `json:"conversation"`
	Messages           []*types.Message         `json:"messages"`
	Checkpoints        []types.CheckpointRecord `json:"checkpoints"`
	Phase              string                   `json:"phase"`
	StreamingMessageID string                   `json:"streamingMessageID,omitempty"`
	Error              *types.ChatError         `json:"error,omitempty"`
}

func stateToResponse(s chat.State) stateResponse {
	return stateResponse{
		Conversation:       s.Conversation,
		Messages:           s.Messages,
		Checkpoints:        s.Checkpoints,
		Phase:              s.Phase.String(),
		StreamingMessageID: s.StreamingMessageID,
		Error:              s.Err,
	}
}

func (s *Server) currentState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Model string `json:"model,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	if err := s.controller.SendMessage(r.Context(), req.Text, req.Model); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) cancelStream(w http.ResponseWriter, r *http.Request) {
	cancelled := s.controller.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) retryLastMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RetryLastMessage(r.Context()); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) retryFromMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if err := s.controller.RetryFromMessage(r.Context(), req.Index); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) editAndRetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	if err := s.controller.EditAndRetry(r.Context(), req.Index, req.Text); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) deleteMessagesFrom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if err := s.controller.DeleteMessagesFrom(r.Context(), req.Index); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) deleteSingleMessage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "index must be an integer")
		return
	}

	if err := s.controller.DeleteSingleMessage(r.Context(), index); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) resolveToolCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	conversationID := s.controller.CurrentConversationID()
	if err := s.controller.ResolveToolCall(conversationID, callID, req.Approve); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}
