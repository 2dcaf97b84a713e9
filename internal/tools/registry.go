// Package tools holds the agent's callable functions and the registry that
// dispatches model tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// defaultInvokeTimeout bounds a single tool call.
const defaultInvokeTimeout = 15 * time.Second

var (
	// ErrToolNotFound is returned when a model call names an unknown tool.
	ErrToolNotFound = errors.New("tools: tool not found")
	// ErrIdentityMismatch is returned when a tool call names a user other
	// than the one the request is bound to.
	ErrIdentityMismatch = errors.New("tools: user identity mismatch")
)

// Args are the decoded arguments of one tool call.
type Args map[string]any

// String returns the named argument as a string.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

// Int returns the named argument as an int. JSON numbers decode as float64.
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number, got %T", key, v)
	}
}

// Handler executes one tool call and returns text for the model.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool is one callable function the model may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Definition
	Handler     Handler
}

// Failure is the structured result fed back to the model when a tool call
// fails. It is a value, not a Go error: the model is expected to read it
// and recover, so a broken tool never aborts the exchange.
type Failure struct {
	Tool    string `json:"tool"`
	Message string `json:"error"`
}

func (f Failure) Encode() string {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"error":"unencodable failure"}`, f.Tool)
	}
	return string(b)
}

// Registry holds the tools exposed to the model.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	log     zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: defaultInvokeTimeout,
		log:     log.With().Str("component", "tools").Logger(),
	}
}

// Register adds tools, rejecting unnamed, handlerless or duplicate entries.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t.Name == "" {
			return errors.New("tools: tool without a name")
		}
		if t.Handler == nil {
			return fmt.Errorf("tools: tool %q without a handler", t.Name)
		}
		if _, exists := r.tools[t.Name]; exists {
			return fmt.Errorf("tools: duplicate tool %q", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Definitions renders the registered tools for a chat completion request,
// in registration order.
func (r *Registry) Definitions() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Invoke runs the named tool with JSON-encoded arguments. Tool failures
// come back as an encoded Failure with a nil error so the caller can feed
// them to the model. An unknown tool name or an identity mismatch is a
// hard error: a call that names another user's data aborts the exchange
// and is never softened into a retryable result.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args := Args{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return Failure{Tool: name, Message: "invalid arguments: " + err.Error()}.Encode(), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := t.Handler(ctx, args)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ErrIdentityMismatch) {
			r.log.Error().Err(err).Str("tool", name).Msg("tool call crossed user identity")
			return "", err
		}
		r.log.Warn().Err(err).Str("tool", name).Dur("elapsed", elapsed).Msg("tool call failed")
		return Failure{Tool: name, Message: err.Error()}.Encode(), nil
	}

	r.log.Debug().Str("tool", name).Dur("elapsed", elapsed).Msg("tool call completed")
	return result, nil
}
