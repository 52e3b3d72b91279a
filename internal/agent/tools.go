package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/llm"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/soyeahso/veil/internal/metrics"
)

// ToolHandler runs a tool with arguments that already passed schema
// validation. A string result is passed to the model verbatim; anything
// else is JSON-encoded.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolOption customizes a registered tool.
type ToolOption func(*tool)

// WithTimeout overrides the registry's default timeout for one tool.
func WithTimeout(d time.Duration) ToolOption {
	return func(t *tool) { t.timeout = d }
}

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	resolved    *jsonschema.Resolved
	handler     ToolHandler
	timeout     time.Duration
}

const emptyObjectSchema = `{"type":"object"}`

// ToolRegistry holds the tools the model may call. Tools are registered at
// startup; dispatch is safe for concurrent use.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]*tool
	timeout time.Duration
	log     *logging.Logger
}

// NewToolRegistry creates an empty registry whose tools time out after
// defaultTimeout unless registered with WithTimeout.
func NewToolRegistry(defaultTimeout time.Duration, log *logging.Logger) *ToolRegistry {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &ToolRegistry{
		tools:   make(map[string]*tool),
		timeout: defaultTimeout,
		log:     log.Sub("tools"),
	}
}

// Register adds a tool. The input schema is compiled here, so a bad schema
// or a duplicate name fails at startup rather than at dispatch.
func (r *ToolRegistry) Register(name, description string, inputSchema json.RawMessage, handler ToolHandler, opts ...ToolOption) error {
	if name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if len(inputSchema) == 0 {
		inputSchema = json.RawMessage(emptyObjectSchema)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(inputSchema, &schema); err != nil {
		return fmt.Errorf("tool %s: parse schema: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolve schema: %w", name, err)
	}

	t := &tool{
		name:        name,
		description: description,
		schema:      inputSchema,
		resolved:    resolved,
		handler:     handler,
		timeout:     r.timeout,
	}
	for _, opt := range opts {
		opt(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.log.Debug().Str("tool", name).Dur("timeout", t.timeout).Msg("tool registered")
	return nil
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns model-facing tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch runs one tool call. It never returns an error: every failure
// (unknown tool, bad arguments, timeout, handler error or panic) comes back
// as a result with IsError set so the model can react to it.
func (r *ToolRegistry) Dispatch(ctx context.Context, call domain.ToolCallRequest) domain.ToolCallResult {
	res := domain.ToolCallResult{CallID: call.ID, Name: call.Name}
	status := "ok"
	defer func() {
		metrics.ToolDispatchTotal.WithLabelValues(metricToolName(r, call.Name), status).Inc()
	}()

	fail := func(st, format string, args ...any) domain.ToolCallResult {
		status = st
		res.IsError = true
		res.Error = fmt.Sprintf(format, args...)
		r.log.Warn().Str("tool", call.Name).Str("callId", call.ID).Str("error", res.Error).Msg("tool call failed")
		return res
	}

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fail("not_found", "tool not found: %s", call.Name)
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return fail("invalid", "invalid arguments: %v", err)
	}
	if err := t.resolved.Validate(args); err != nil {
		return fail("invalid", "invalid arguments: %v", err)
	}

	start := time.Now()
	out, err := t.run(ctx, args)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fail("timeout", "tool timed out after %s", t.timeout)
	case ctx.Err() != nil:
		return fail("canceled", "tool canceled: %v", ctx.Err())
	case err != nil:
		return fail("error", "%v", err)
	}

	text, err := encodeOutput(out)
	if err != nil {
		return fail("error", "encode result: %v", err)
	}
	res.Output = text
	r.log.Debug().Str("tool", call.Name).Dur("duration", time.Since(start)).Msg("tool call completed")
	return res
}

// run calls the handler under the tool's timeout. A handler that ignores its
// context is abandoned when the deadline passes.
func (t *tool) run(ctx context.Context, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := t.handler(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return o.out, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return args, nil
}

func encodeOutput(out any) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// metricToolName keeps label cardinality bounded: names the model invents
// are counted under one label.
func metricToolName(r *ToolRegistry, name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[name]; ok {
		return name
	}
	return "unknown"
}
