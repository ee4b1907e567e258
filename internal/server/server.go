// Package server provides the HTTP server for the Lim-Code API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/HCPTangHY/Lim-Code/internal/chat"
	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/mcp"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/task"
	"github.com/HCPTangHY/Lim-Code/internal/tool"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Hostname     string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         7130,
		Hostname:     "127.0.0.1",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config     *Config
	router     *chi.Mux
	httpSrv    *http.Server
	appConfig  *types.Config
	controller *chat.Controller
	providers  *provider.Registry
	tools      *tool.Registry
	tasks      *task.Manager
	bus        *event.Bus
	mcpClient  *mcp.Client
}

// New creates a new Server instance.
func New(cfg *Config, appConfig *types.Config, controller *chat.Controller, providers *provider.Registry, tools *tool.Registry, tasks *task.Manager, bus *event.Bus, mcpClient *mcp.Client) *Server {
	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		appConfig:  appConfig,
		controller: controller,
		providers:  providers,
		tools:      tools,
		tasks:      tasks,
		bus:        bus,
		mcpClient:  mcpClient,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
