package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)

	// Conversation management
	r.Route("/conversation", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/", s.newConversation)
		r.Get("/current", s.currentState)

		r.Route("/{conversationID}", func(r chi.Router) {
			r.Post("/switch", s.switchConversation)
			r.Delete("/", s.deleteConversation)
		})
	})

	// Commands against the current conversation
	r.Route("/chat", func(r chi.Router) {
		r.Get("/state", s.currentState)
		r.Post("/message", s.sendMessage)
		r.Post("/cancel", s.cancelStream)
		r.Post("/retry", s.retryLastMessage)
		r.Post("/retry-from", s.retryFromMessage)
		r.Post("/edit-retry", s.editAndRetry)
		r.Post("/truncate", s.deleteMessagesFrom)
		r.Delete("/message/{index}", s.deleteSingleMessage)
		r.Post("/tool-call/{callID}", s.resolveToolCall)
	})

	// Providers and models
	r.Route("/provider", func(r chi.Router) {
		r.Get("/", s.listProviders)
		r.Get("/models", s.listModels)
	})

	// Tools
	r.Get("/tool", s.listTools)

	// Background tasks
	r.Route("/task", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/{taskID}/cancel", s.cancelTask)
	})

	// MCP servers
	r.Route("/mcp", func(r chi.Router) {
		r.Get("/", s.mcpStatus)
		r.Delete("/{name}", s.removeMCPServer)
	})

	// Configuration
	r.Get("/config", s.getConfig)
}
