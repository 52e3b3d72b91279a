package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/soyeahso/veil/internal/cache"
	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/hooks"
	"github.com/soyeahso/veil/internal/llm"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/soyeahso/veil/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// IncompleteAnswer is the reply used when the tool loop hits its bound
// before the model produced any text.
const IncompleteAnswer = "I was unable to complete this request."

// roundSeparator joins text from successive model rounds.
const roundSeparator = "\n\n"

const (
	modeSync   = "sync"
	modeStream = "stream"
)

// Config holds the orchestrator's tunables.
type Config struct {
	SystemPrompt      string
	MaxToolRounds     int
	MaxParallelTools  int
	RetrievalBudget   int
	RetrievalMaxChars int
	WindowTurns       int
	WindowTokens      int
	MaxMessageChars   int
	CacheTTL          time.Duration
	KeyPrefix         string
	ModelTimeout      time.Duration
	RetrievalTimeout  time.Duration
	Temperature       *float64
	Tiers             Selector
}

// ConfigFrom derives orchestrator settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SystemPrompt:      cfg.Agent.SystemPrompt,
		MaxToolRounds:     cfg.Agent.MaxToolRounds,
		MaxParallelTools:  cfg.Agent.MaxParallelTools,
		RetrievalBudget:   cfg.Agent.RetrievalBudget,
		RetrievalMaxChars: cfg.Agent.RetrievalMaxChars,
		WindowTurns:       cfg.History.WindowTurns,
		WindowTokens:      cfg.History.WindowTokens,
		MaxMessageChars:   cfg.Server.MaxMessageChars,
		CacheTTL:          cfg.CacheTTL(),
		KeyPrefix:         cfg.Cache.KeyPrefix,
		ModelTimeout:      cfg.ModelTimeout(),
		RetrievalTimeout:  cfg.RetrievalTimeout(),
		Temperature:       cfg.Models.Temperature,
		Tiers:             NewSelector(cfg.Models),
	}
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = config.DefaultSystemPrompt
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 5
	}
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = 4
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 60 * time.Second
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 5 * time.Second
	}
}

// Deps are the orchestrator's collaborators. Models is required; the rest
// fall back to no-op or in-memory implementations.
type Deps struct {
	Models    *llm.Registry
	Cache     cache.Store
	History   HistoryStore
	Retriever Retriever
	Tools     *ToolRegistry
	Hooks     *hooks.Manager
}

// Orchestrator turns one user message into one assistant reply: cache
// check, context build, the bounded model/tool loop, then history and cache
// writes.
type Orchestrator struct {
	deps  Deps
	cfg   Config
	locks *sessionLocks
	log   *logging.Logger
	now   func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, log *logging.Logger) *Orchestrator {
	cfg.applyDefaults()
	if deps.Cache == nil {
		deps.Cache = cache.NopStore{}
	}
	if deps.History == nil {
		deps.History = NewMemoryHistoryStore()
	}
	if deps.Retriever == nil {
		deps.Retriever = NoRetrieval
	}
	return &Orchestrator{
		deps:  deps,
		cfg:   cfg,
		locks: newSessionLocks(),
		log:   log.Sub("orchestrator"),
		now:   time.Now,
	}
}

// History returns the history store the orchestrator writes to.
func (o *Orchestrator) History() HistoryStore { return o.deps.History }

// Chat handles a request and returns the complete reply. Model failures
// match ErrModelInvocation; input problems satisfy IsInputError.
func (o *Orchestrator) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}
	return o.handle(ctx, req, modeSync, nil)
}

func (o *Orchestrator) validate(req *domain.ChatRequest) error {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return ErrEmptyMessage
	}
	if limit := o.cfg.MaxMessageChars; limit > 0 {
		if n := utf8.RuneCountInString(msg); n > limit {
			return fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, limit)
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return nil
}

// request is the working state of one request. It is owned by the
// goroutine running handle and never shared.
type request struct {
	domain.ChatRequest
	mode    string
	start   time.Time
	key     string
	tier    Tier
	emit    func(domain.Chunk)
	pending []domain.Turn
	text    transcript
	usage   domain.Usage
	rounds  int
}

// transcript accumulates the visible reply. Text from each model round is
// separated from the previous round's text, and every piece written is
// forwarded to the stream so the streamed chunks concatenate to the reply.
type transcript struct {
	b       strings.Builder
	started bool
	emit    func(domain.Chunk)
}

func (t *transcript) beginRound() { t.started = false }

func (t *transcript) write(s string) {
	if s == "" {
		return
	}
	if !t.started {
		t.started = true
		if t.b.Len() > 0 {
			t.forward(roundSeparator)
		}
	}
	t.forward(s)
}

func (t *transcript) forward(s string) {
	t.b.WriteString(s)
	if t.emit != nil {
		t.emit(domain.Chunk{Type: domain.ChunkContent, Content: s})
	}
}

func (t *transcript) String() string { return t.b.String() }

func (o *Orchestrator) handle(ctx context.Context, cr domain.ChatRequest, mode string, emit func(domain.Chunk)) (resp *domain.ChatResponse, err error) {
	req := &request{ChatRequest: cr, mode: mode, start: o.now(), emit: emit}
	req.text.emit = emit
	log := o.log.With("sessionId", req.SessionID)

	o.deps.Hooks.Emit(ctx, hooks.EventChatReceived, map[string]any{
		"sessionId": req.SessionID,
		"mode":      mode,
	})

	defer func() {
		o.observe(ctx, req, resp, err, log)
	}()

	unlock, err := o.locks.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req.key = cache.Fingerprint(o.cfg.KeyPrefix, req.SessionID, req.Message)
	if entry, _ := o.deps.Cache.Get(ctx, req.key); entry != nil {
		return o.serveCached(ctx, req, entry)
	}

	history := o.window(ctx, req.SessionID, log)
	passages := o.retrieve(ctx, req.Message, log)

	features := o.cfg.Tiers.FeaturesOf(req.Message, passages)
	req.tier = o.cfg.Tiers.Select(features)
	metrics.TierSelectionsTotal.WithLabelValues(req.tier.Name).Inc()
	log.Debug().
		Str("tier", req.tier.Name).
		Str("model", req.tier.Model).
		Int("chars", features.MessageChars).
		Bool("question", features.HasQuestion).
		Int("passages", features.PassageCount).
		Msg("tier selected")

	client, err := o.deps.Models.Resolve(req.tier.Model)
	if err != nil {
		return nil, &ModelError{Stage: "resolve", Model: req.tier.Model, Err: err}
	}

	messages := append(turnsToMessages(history), llm.Message{Role: llm.RoleUser, Content: req.Message})
	creq := llm.CompletionRequest{
		Model:       req.tier.Model,
		System:      buildSystemPrompt(o.cfg.SystemPrompt, o.now(), passages),
		Messages:    messages,
		MaxTokens:   req.tier.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	if o.deps.Tools != nil {
		creq.Tools = o.deps.Tools.Definitions()
	}

	incomplete, lastText, err := o.loop(ctx, req, client, creq, log)
	if err != nil {
		return nil, err
	}
	return o.finalize(ctx, req, incomplete, lastText)
}

// loop runs model rounds until the model answers without tools or the round
// bound is hit. It returns whether the answer is incomplete and the text of
// the last round.
func (o *Orchestrator) loop(ctx context.Context, req *request, client llm.Client, creq llm.CompletionRequest, log *logging.Logger) (bool, string, error) {
	for {
		req.text.beginRound()
		mresp, err := o.callModel(ctx, req, client, creq)
		if err != nil {
			return false, "", err
		}
		req.usage = req.usage.Add(mresp.Usage)

		for _, call := range mresp.ToolCalls {
			if call.Name == "" {
				return false, "", &ModelError{Stage: "output", Model: req.tier.Model, Err: fmt.Errorf("%w: tool call without a name", ErrMalformedOutput)}
			}
		}
		if len(mresp.ToolCalls) == 0 {
			if strings.TrimSpace(mresp.Content) == "" && strings.TrimSpace(req.text.String()) == "" {
				return false, "", &ModelError{Stage: "output", Model: req.tier.Model, Err: fmt.Errorf("%w: empty reply", ErrMalformedOutput)}
			}
			return false, mresp.Content, nil
		}

		if req.rounds >= o.cfg.MaxToolRounds {
			log.Warn().Int("rounds", req.rounds).Msg("tool round limit reached, finalizing")
			return true, mresp.Content, nil
		}
		req.rounds++

		calls := make([]domain.ToolCallRequest, len(mresp.ToolCalls))
		for i, c := range mresp.ToolCalls {
			if c.ID == "" {
				c.ID = "call_" + uuid.NewString()
			}
			calls[i] = c
		}
		results := o.dispatch(ctx, req, calls)
		if err := ctx.Err(); err != nil {
			return false, "", err
		}

		req.pending = append(req.pending, domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   mresp.Content,
			ToolCalls: calls,
			Model:     req.tier.Model,
			Usage:     mresp.Usage,
			Timestamp: o.now(),
		})
		creq.Messages = append(creq.Messages, llm.Message{Role: llm.RoleAssistant, Content: mresp.Content, ToolCalls: calls})
		for i := range results {
			r := results[i]
			req.pending = append(req.pending, domain.Turn{
				Role:      domain.RoleTool,
				Content:   r.Text(),
				ToolCall:  &r,
				Timestamp: o.now(),
			})
			creq.Messages = append(creq.Messages, toolMessage(r))
		}
	}
}

// callModel runs one model round under the model timeout. In stream mode
// text deltas go straight to the transcript. Cancellation of the caller's
// context is returned as is; everything else is a ModelError.
func (o *Orchestrator) callModel(ctx context.Context, req *request, client llm.Client, creq llm.CompletionRequest) (*llm.CompletionResponse, error) {
	mctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	start := time.Now()
	var (
		resp  *llm.CompletionResponse
		err   error
		stage = "complete"
	)
	if req.mode == modeStream {
		stage = "stream"
		var events <-chan llm.StreamEvent
		events, err = client.Stream(mctx, creq)
		if err == nil {
			resp, err = llm.Collect(mctx, events, req.text.write)
		}
	} else {
		resp, err = client.Complete(mctx, creq)
		if err == nil {
			req.text.write(resp.Content)
		}
	}

	provider := client.Name()
	metrics.ModelLatency.WithLabelValues(provider, creq.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues(provider, creq.Model, "error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Error().Err(err).Str("provider", provider).Str("model", creq.Model).Msg("model call failed")
		return nil, &ModelError{Stage: stage, Model: creq.Model, Err: err}
	}
	metrics.ModelRequestsTotal.WithLabelValues(provider, creq.Model, "ok").Inc()
	metrics.ModelTokensTotal.WithLabelValues(creq.Model, "input").Add(float64(resp.Usage.InputTokens))
	metrics.ModelTokensTotal.WithLabelValues(creq.Model, "output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}

// dispatch runs one round's tool calls concurrently. Results keep the order
// of the calls.
func (o *Orchestrator) dispatch(ctx context.Context, req *request, calls []domain.ToolCallRequest) []domain.ToolCallResult {
	results := make([]domain.ToolCallResult, len(calls))
	for _, c := range calls {
		if req.emit != nil {
			req.emit(domain.Chunk{Type: domain.ChunkTool, Content: c.Name})
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			if o.deps.Tools == nil {
				results[i] = domain.ToolCallResult{CallID: call.ID, Name: call.Name, IsError: true, Error: "tool not found: " + call.Name}
			} else {
				results[i] = o.deps.Tools.Dispatch(ctx, call)
			}
			o.deps.Hooks.Emit(ctx, hooks.EventToolDispatched, map[string]any{
				"sessionId": req.SessionID,
				"tool":      call.Name,
				"callId":    call.ID,
				"isError":   results[i].IsError,
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// window reads the recent history for the prompt. A failed read degrades to
// an empty history.
func (o *Orchestrator) window(ctx context.Context, sessionID string, log *logging.Logger) []domain.Turn {
	turns, err := o.deps.History.RecentTurns(ctx, sessionID, o.cfg.WindowTurns)
	if err != nil {
		log.Warn().Err(err).Msg("history read failed, continuing without history")
		return nil
	}
	return trimWindow(turns, o.cfg.WindowTokens)
}

// retrieve fetches context under the retrieval timeout. Failures degrade to
// no context.
func (o *Orchestrator) retrieve(ctx context.Context, query string, log *logging.Logger) []domain.RetrievedPassage {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	passages, err := o.deps.Retriever.Retrieve(rctx, query, o.cfg.RetrievalBudget)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval failed, continuing without context")
		return nil
	}
	return capPassages(passages, o.cfg.RetrievalBudget, o.cfg.RetrievalMaxChars)
}

// serveCached answers from a cache entry. The exchange is still recorded so
// the conversation reads naturally on the next turn.
func (o *Orchestrator) serveCached(ctx context.Context, req *request, entry *cache.Entry) (*domain.ChatResponse, error) {
	now := o.now()
	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: req.Message, Timestamp: req.start},
		{Role: domain.RoleAssistant, Content: entry.Content, Model: entry.Model, Timestamp: now},
	}
	if err := o.commit(ctx, req.SessionID, turns); err != nil {
		return nil, err
	}
	req.text.write(entry.Content)

	o.deps.Hooks.Emit(ctx, hooks.EventCacheHit, map[string]any{
		"sessionId": req.SessionID,
		"model":     entry.Model,
	})
	return &domain.ChatResponse{
		SessionID:  req.SessionID,
		Response:   entry.Content,
		Model:      entry.Model,
		Tier:       entry.Tier,
		TokensUsed: entry.TokensUsed,
		Cached:     true,
	}, nil
}

// finalize commits the request's turns in order and caches a complete
// answer. A request whose context is already done is discarded.
func (o *Orchestrator) finalize(ctx context.Context, req *request, incomplete bool, lastText string) (*domain.ChatResponse, error) {
	if incomplete && strings.TrimSpace(req.text.String()) == "" {
		req.text.beginRound()
		req.text.write(IncompleteAnswer)
	}
	reply := req.text.String()

	final := lastText
	if strings.TrimSpace(final) == "" {
		final = reply
	}

	turns := make([]domain.Turn, 0, len(req.pending)+2)
	turns = append(turns, domain.Turn{Role: domain.RoleUser, Content: req.Message, Timestamp: req.start})
	turns = append(turns, req.pending...)
	turns = append(turns, domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   final,
		Model:     req.tier.Model,
		Usage:     req.usage,
		Timestamp: o.now(),
	})
	if err := o.commit(ctx, req.SessionID, turns); err != nil {
		return nil, err
	}

	resp := &domain.ChatResponse{
		SessionID:  req.SessionID,
		Response:   reply,
		Model:      req.tier.Model,
		Tier:       req.tier.Name,
		TokensUsed: req.usage.Total(),
		Incomplete: incomplete,
		CostUSD:    req.tier.Cost(req.usage),
		ToolRounds: req.rounds,
	}

	if !incomplete {
		entry := cache.Entry{
			Content:    reply,
			Model:      resp.Model,
			Tier:       resp.Tier,
			TokensUsed: resp.TokensUsed,
			CostUSD:    resp.CostUSD,
			CreatedAt:  o.now(),
		}
		_ = o.deps.Cache.Set(context.WithoutCancel(ctx), req.key, entry, o.cfg.CacheTTL)
	}
	return resp, nil
}

// commit appends turns to history in one step when the store supports it.
// It refuses to start once ctx is done, and once started it is not
// interrupted by cancellation.
func (o *Orchestrator) commit(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	if ba, ok := o.deps.History.(BatchAppender); ok {
		if err := ba.AppendTurns(wctx, sessionID, turns); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		return nil
	}
	for _, t := range turns {
		if err := o.deps.History.Append(wctx, sessionID, t); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}
	return nil
}

// observe records metrics, hooks and the completion log line.
func (o *Orchestrator) observe(ctx context.Context, req *request, resp *domain.ChatResponse, err error, log *logging.Logger) {
	elapsed := o.now().Sub(req.start)
	metrics.ChatDuration.WithLabelValues(req.mode).Observe(elapsed.Seconds())

	outcome := "ok"
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil:
		outcome = "aborted"
	case err != nil:
		outcome = "error"
	case resp.Cached:
		outcome = "cached"
	case resp.Incomplete:
		outcome = "incomplete"
	}
	metrics.ChatRequestsTotal.WithLabelValues(req.mode, outcome).Inc()

	bg := context.WithoutCancel(ctx)
	switch outcome {
	case "aborted":
		log.Info().Str("mode", req.mode).Dur("duration", elapsed).Msg("chat aborted by caller")
		if req.mode == modeStream {
			o.deps.Hooks.Emit(bg, hooks.EventStreamAborted, map[string]any{"sessionId": req.SessionID})
		}
		return
	case "error":
		log.Error().Err(err).Str("mode", req.mode).Dur("duration", elapsed).Msg("chat failed")
		o.deps.Hooks.Emit(bg, hooks.EventChatFailed, map[string]any{
			"sessionId": req.SessionID,
			"error":     err.Error(),
		})
		return
	}

	if !resp.Cached {
		metrics.ToolRounds.Observe(float64(resp.ToolRounds))
	}
	log.Info().
		Str("mode", req.mode).
		Str("model", resp.Model).
		Str("tier", resp.Tier).
		Int("tokens", resp.TokensUsed).
		Bool("cached", resp.Cached).
		Bool("incomplete", resp.Incomplete).
		Int("toolRounds", resp.ToolRounds).
		Dur("duration", elapsed).
		Msg("chat completed")
	o.deps.Hooks.EmitAsync(bg, hooks.EventChatCompleted, map[string]any{
		"sessionId":  req.SessionID,
		"model":      resp.Model,
		"tier":       resp.Tier,
		"tokensUsed": resp.TokensUsed,
		"cached":     resp.Cached,
		"incomplete": resp.Incomplete,
	})
}
