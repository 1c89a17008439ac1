package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"convoflow/runtime"
)

// ToolResult is the uniform result of a tool invocation. Success: false is
// a business outcome (address outside the serviceable zone, payment
// declined), not an error: the engine routes it through ordinary edges.
// The error return of Execute is reserved for transport-level failures.
type ToolResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolRegistry exposes named, versionless side-effecting operations.
type ToolRegistry interface {
	Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error)
}

// ToolFunc adapts a function into a locally registered tool.
type ToolFunc func(ctx context.Context, params map[string]any) (ToolResult, error)

// LocalToolRegistry executes tools in-process. It backs tests and
// deployments where tools are implemented in the same binary.
type LocalToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

var _ ToolRegistry = (*LocalToolRegistry)(nil)

func NewLocalToolRegistry() *LocalToolRegistry {
	return &LocalToolRegistry{tools: make(map[string]ToolFunc)}
}

func (r *LocalToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

func (r *LocalToolRegistry) Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
	r.mu.RLock()
	fn, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{}, runtime.NewPermanentError("", fmt.Errorf("tool %q is not registered", name))
	}
	return fn(ctx, params)
}

// ToolRegistryConfig configures the HTTP tool registry client.
type ToolRegistryConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" default:"15s" validate:"gte=1s"`
}

// HTTPToolRegistry invokes tools exposed by an external registry service
// at POST {base}/tools/{name}.
type HTTPToolRegistry struct {
	client *resty.Client
}

var _ ToolRegistry = (*HTTPToolRegistry)(nil)

func NewHTTPToolRegistry(config ToolRegistryConfig) (*HTTPToolRegistry, error) {
	if err := runtime.InitializeConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid tool registry config: %w", err)
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)
	return &HTTPToolRegistry{client: client}, nil
}

func (r *HTTPToolRegistry) Execute(ctx context.Context, name string, params map[string]any) (ToolResult, error) {
	var result ToolResult

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"params": params}).
		SetResult(&result).
		Post("/tools/" + name)
	if err != nil {
		return ToolResult{}, runtime.NewTransientError("", fmt.Errorf("tool %s request failed: %w", name, err))
	}
	if resp.IsError() {
		err := fmt.Errorf("tool registry returned %s for %s", resp.Status(), name)
		if resp.StatusCode() >= 500 {
			return ToolResult{}, runtime.NewTransientError("", err)
		}
		return ToolResult{}, runtime.NewPermanentError("", err)
	}
	return result, nil
}
