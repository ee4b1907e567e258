package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/chat"
	"github.com/HCPTangHY/Lim-Code/internal/config"
	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/internal/mcp"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/server"
	"github.com/HCPTangHY/Lim-Code/internal/storage"
	"github.com/HCPTangHY/Lim-Code/internal/task"
	"github.com/HCPTangHY/Lim-Code/internal/tool"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Lim-Code API server",
	Long: `Start Lim-Code as a headless server that exposes the conversation
API over HTTP. The editor extension connects to it for streaming chat,
tool confirmation and conversation management.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = appConfig.LogLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: true,
	})
	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("workDir", workDir).Msg("starting limcode server")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	bus := event.NewBus()

	store := storage.New(paths.StoragePath())
	conversations := storage.NewConversationStore(store)

	watcher, err := storage.NewDriftWatcher(store, bus)
	if err != nil {
		log.Warn().Err(err).Msg("storage drift watcher unavailable")
	} else {
		watcher.Start()
	}

	ctx := context.Background()
	providers := provider.Initialize(ctx, appConfig)

	aborts := abort.NewRegistry()
	tasks := task.NewManager(bus)

	tools := tool.DefaultRegistry(workDir, appConfig.Tools)
	engines := tool.BuildEngines(appConfig.Engine)
	tools.RegisterBgRemove(engines, tasks, aborts)

	mcpClient := mcp.NewClient(bus)
	mcpClient.ConnectAll(ctx, appConfig.MCP)
	mcpClient.RegisterTools(tools)

	session := chat.NewSession(providers, tools, aborts, nil, workDir)
	controller := chat.NewController(conversations, session, aborts, providers, bus, workDir)
	session.SetConfirmer(controller)

	serverConfig := server.DefaultConfig()
	if appConfig.Server != nil {
		if appConfig.Server.Port > 0 {
			serverConfig.Port = appConfig.Server.Port
		}
		if appConfig.Server.Hostname != "" {
			serverConfig.Hostname = appConfig.Server.Hostname
		}
	}
	if servePort > 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	srv := server.New(serverConfig, appConfig, controller, providers, tools, tasks, bus, mcpClient)

	go func() {
		log.Info().Str("addr", serverConfig.Hostname).Int("port", serverConfig.Port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Stop in-flight turns and background tasks before closing the
	// transport so terminal chunks still reach persistence.
	aborts.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	mcpClient.Close()
	if watcher != nil {
		watcher.Stop()
	}
	bus.Close()

	log.Info().Msg("server stopped")
	return nil
}
