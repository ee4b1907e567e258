package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Engine removes the background from one image. Implementations are
// opaque to the batch tool; it only sees bytes in, bytes out.
type Engine interface {
	Name() string
	Remove(ctx context.Context, image []byte) ([]byte, error)
}

// LocalEngine shells out to a local inference binary that reads the
// image on stdin and writes the processed image to stdout.
type LocalEngine struct {
	name      string
	modelPath string
}

// NewLocalEngine creates a local engine backed by the given model file.
func NewLocalEngine(name, modelPath string) *LocalEngine {
	return &LocalEngine{name: name, modelPath: modelPath}
}

func (e *LocalEngine) Name() string { return e.name }

func (e *LocalEngine) Remove(ctx context.Context, image []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "rembg", "i", "-m", e.modelPath, "-", "-")
	cmd.Stdin = bytes.NewReader(image)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("engine %s: %w: %s", e.name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// RemoteEngine posts images to an HTTP inference endpoint.
type RemoteEngine struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteEngine creates a remote engine for the given endpoint.
func NewRemoteEngine(name, endpoint, apiKey string) *RemoteEngine {
	return &RemoteEngine{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *RemoteEngine) Name() string { return e.name }

func (e *RemoteEngine) Remove(ctx context.Context, image []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine %s: status %d: %s", e.name, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// BuildEngines constructs engines from configuration. Invalid entries
// are skipped with a warning so one bad engine does not break the rest.
func BuildEngines(configs map[string]types.EngineConfig) map[string]Engine {
	log := logging.Component("engine")
	engines := make(map[string]Engine, len(configs))
	for name, cfg := range configs {
		switch cfg.Type {
		case "local":
			if cfg.ModelPath == "" {
				log.Warn().Str("engine", name).Msg("local engine missing modelPath, skipping")
				continue
			}
			engines[name] = NewLocalEngine(name, cfg.ModelPath)
		case "remote":
			if cfg.Endpoint == "" {
				log.Warn().Str("engine", name).Msg("remote engine missing endpoint, skipping")
				continue
			}
			engines[name] = NewRemoteEngine(name, cfg.Endpoint, cfg.APIKey)
		default:
			log.Warn().Str("engine", name).Str("type", cfg.Type).Msg("unknown engine type, skipping")
		}
	}
	return engines
}
