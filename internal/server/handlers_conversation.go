package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.controller.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) newConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.controller.NewConversation()
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) switchConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	if err := s.controller.SwitchConversation(r.Context(), id); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToResponse(s.controller.Snapshot()))
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	if err := s.controller.DeleteConversation(r.Context(), id); err != nil {
		writeChatError(w, err)
		return
	}
	writeSuccess(w)
}
