package cloudgpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default models per modality when a request omits one.
const (
	DefaultImageModel     = "flux"
	DefaultVideoModel     = "seedance"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Timeouts bounds upstream work.
type Timeouts struct {
	// Chat is the overall budget of a synchronous chat request.
	Chat time.Duration `yaml:"chat"`
	// Media is the overall budget of image and video requests.
	Media time.Duration `yaml:"media"`
	// Stream is the wall-clock cap of a streaming response.
	Stream time.Duration `yaml:"stream"`
	// Attempt caps a chat or embedding attempt that has other candidates
	// behind it. The last candidate may use whatever budget is left.
	Attempt time.Duration `yaml:"attempt"`
	// MediaAttempt is Attempt for image and video requests.
	MediaAttempt time.Duration `yaml:"media_attempt"`
	// Memory bounds memory retrieval before a chat.
	Memory time.Duration `yaml:"memory"`
}

// DefaultTimeouts returns the gateway defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Chat:         120 * time.Second,
		Media:        300 * time.Second,
		Stream:       10 * time.Minute,
		Attempt:      45 * time.Second,
		MediaAttempt: 150 * time.Second,
		Memory:       3 * time.Second,
	}
}

// Router resolves, authorizes and dispatches requests across providers,
// credential pools and cross-provider fallbacks.
type Router struct {
	registry   *Registry
	providers  map[string]Provider
	pools      map[string]*CredentialPool
	fallbacks  FallbackTable
	fastPath   FastPath
	policy     Policy
	meter      Meter
	health     *HealthTracker
	memory     Memory
	accountant *Accountant
	tasks      *TaskQueue
	ownsTasks  bool
	timeouts   Timeouts
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy sets the credential ordering policy.
func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithCredentials sets the key pool of a provider.
func WithCredentials(provider string, pool *CredentialPool) Option {
	return func(r *Router) { r.pools[provider] = pool }
}

// WithFallbackTable replaces the cross-provider compatibility table.
func WithFallbackTable(t FallbackTable) Option {
	return func(r *Router) { r.fallbacks = t }
}

// WithFastPath enables the fast path.
func WithFastPath(f FastPath) Option {
	return func(r *Router) { r.fastPath = f }
}

// WithMemory enables memory retrieval and remember side effects.
func WithMemory(m Memory) Option {
	return func(r *Router) { r.memory = m }
}

// WithAccountant enables usage accounting.
func WithAccountant(a *Accountant) Option {
	return func(r *Router) { r.accountant = a }
}

// WithTaskQueue sets the queue used for background side effects.
func WithTaskQueue(q *TaskQueue) Option {
	return func(r *Router) { r.tasks = q }
}

// WithTimeouts overrides the default timeouts. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(r *Router) {
		if t.Chat > 0 {
			r.timeouts.Chat = t.Chat
		}
		if t.Media > 0 {
			r.timeouts.Media = t.Media
		}
		if t.Stream > 0 {
			r.timeouts.Stream = t.Stream
		}
		if t.Attempt > 0 {
			r.timeouts.Attempt = t.Attempt
		}
		if t.MediaAttempt > 0 {
			r.timeouts.MediaAttempt = t.MediaAttempt
		}
		if t.Memory > 0 {
			r.timeouts.Memory = t.Memory
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router over registry and providers. A nil registry
// means the built-in catalog. Default components (health-first ordering,
// default fallback table, no meter) are used unless overridden via options.
func NewRouter(registry *Registry, providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("cloudgpt: at least one provider is required")
	}
	if registry == nil {
		registry = DefaultRegistry()
	}

	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := provMap[p.Name()]; dup {
			return nil, fmt.Errorf("cloudgpt: duplicate provider %q", p.Name())
		}
		provMap[p.Name()] = p
	}

	r := &Router{
		registry:  registry,
		providers: provMap,
		pools:     make(map[string]*CredentialPool),
		fallbacks: DefaultFallbackTable(),
		health:    NewHealthTracker(),
		timeouts:  DefaultTimeouts(),
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.policy == nil {
		r.policy = &defaultHealthFirstPolicy{}
	}
	if r.meter == nil {
		r.meter = &noopMeter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "router")
	if r.tasks == nil {
		r.tasks = NewTaskQueue(2, 256, WithTaskLogger(r.logger))
		r.ownsTasks = true
	}
	if r.fastPath.Timeout <= 0 {
		r.fastPath.Timeout = defaultFastPathTimeout
	}

	return r, nil
}

// Registry returns the model registry.
func (r *Router) Registry() *Registry { return r.registry }

// Health returns the credential health tracker.
func (r *Router) Health() *HealthTracker { return r.health }

// Close drains the router's own background queue, if it created one.
func (r *Router) Close(ctx context.Context) error {
	if r.ownsTasks {
		return r.tasks.Close(ctx)
	}
	return nil
}

// Authorize applies plan gates. Failures are terminal.
func Authorize(id Identity, m Model) error {
	if m.Modality == ModalityVideo && !id.Plan.AllowsVideo() {
		return fmt.Errorf("%w: model %s", ErrVideoPlanRequired, m.ID)
	}
	if m.Premium && !id.Plan.AllowsPremium() {
		return fmt.Errorf("%w: model %s", ErrPremiumRequired, m.ID)
	}
	return nil
}

// ChatCompletion performs a synchronous chat completion with automatic routing.
func (r *Router) ChatCompletion(ctx context.Context, caller Caller, req ChatRequest) (ChatResponse, error) {
	m, err := r.resolve(req.Model, DefaultChatModel, ModalityChat)
	if err != nil {
		return ChatResponse{}, err
	}
	if err := Authorize(caller.Identity, m); err != nil {
		return ChatResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Chat)
	defer cancel()

	messages := r.withMemory(ctx, caller, req.Messages)
	rr := newRoutedRequest(ctx, m, caller)
	base := providerRequest(req, messages)
	estimated := EstimateMessageTokens(messages)

	var resp ProviderResponse
	call := func(ctx context.Context, c Candidate) error {
		preq := base
		preq.Auth = Auth{APIKey: c.Credential.Key}
		preq.Model = c.Model
		var err error
		resp, err = c.Provider.ChatCompletion(ctx, preq)
		return err
	}

	c, ok := r.tryFastPath(ctx, rr, m, estimated, call)
	if !ok {
		chain, err := r.buildChain(m)
		if err != nil {
			return ChatResponse{}, err
		}
		var done context.CancelFunc
		c, done, err = r.execute(ctx, rr, chain, estimated, call)
		if err != nil {
			return ChatResponse{}, err
		}
		done()
	}

	out := normalizeChat(m, resp, estimated)
	out.Routing = routingInfo(c, rr)

	prompt := lastUserText(req.Messages)
	r.accountant.Record(caller, m, prompt+resp.Content, string(OutcomeSuccess))
	r.remember(caller, prompt, Reconstructed{Content: resp.Content})
	return out, nil
}

// RoutedStream is a streaming chat response. Bytes are the upstream SSE body,
// unmodified. Close must be called.
type RoutedStream struct {
	Model   Model
	Routing RoutingInfo

	transform *StreamTransform
	onClose   func()
	closeOnce sync.Once
}

func (s *RoutedStream) Read(p []byte) (int, error) {
	return s.transform.Read(p)
}

// Close releases the upstream connection and runs completion side effects.
func (s *RoutedStream) Close() error {
	err := s.transform.Close()
	s.closeOnce.Do(s.onClose)
	return err
}

// ChatCompletionStream opens a streaming chat completion. Fallback happens only
// before the first byte is returned.
func (r *Router) ChatCompletionStream(ctx context.Context, caller Caller, req ChatRequest) (*RoutedStream, error) {
	m, err := r.resolve(req.Model, DefaultChatModel, ModalityChat)
	if err != nil {
		return nil, err
	}
	if err := Authorize(caller.Identity, m); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Stream)

	messages := r.withMemory(ctx, caller, req.Messages)
	rr := newRoutedRequest(ctx, m, caller)
	base := providerRequest(req, messages)
	estimated := EstimateMessageTokens(messages)

	chain, err := r.buildChain(m)
	if err != nil {
		cancel()
		return nil, err
	}
	// The attempt context must outlive this call, so the per-attempt cap
	// does not apply to streams.
	rr.Stream = true

	var body io.ReadCloser
	call := func(ctx context.Context, c Candidate) error {
		preq := base
		preq.Auth = Auth{APIKey: c.Credential.Key}
		preq.Model = c.Model
		var err error
		body, err = c.Provider.ChatCompletionStream(ctx, preq)
		return err
	}

	c, done, err := r.execute(ctx, rr, chain, estimated, call)
	if err != nil {
		cancel()
		return nil, err
	}

	prompt := lastUserText(req.Messages)
	t := NewStreamTransform(body, func(rec Reconstructed) {
		r.remember(caller, prompt, rec)
	})

	return &RoutedStream{
		Model:     m,
		Routing:   routingInfo(c, rr),
		transform: t,
		onClose: func() {
			r.accountant.Record(caller, m, prompt+t.Result().Content, string(OutcomeSuccess))
			done()
			cancel()
		},
	}, nil
}

// GenerateImage routes an image generation request.
func (r *Router) GenerateImage(ctx context.Context, caller Caller, req MediaRequest) (MediaResponse, error) {
	return r.generate(ctx, caller, req, ModalityImage, DefaultImageModel)
}

// GenerateVideo routes a video generation request.
func (r *Router) GenerateVideo(ctx context.Context, caller Caller, req MediaRequest) (MediaResponse, error) {
	return r.generate(ctx, caller, req, ModalityVideo, DefaultVideoModel)
}

// CheckMediaRequest validates req against the model it will be routed to.
// Callers use it before charging quota. An unknown or mismatched model is not
// reported here; the generate call returns that error.
func (r *Router) CheckMediaRequest(req MediaRequest, modality Modality) error {
	def := DefaultImageModel
	if modality == ModalityVideo {
		def = DefaultVideoModel
	}
	m, err := r.resolve(req.Model, def, modality)
	if err != nil {
		return ValidatePrompt(req).Err()
	}
	return ValidateMediaRequest(req, m).Err()
}

func (r *Router) generate(ctx context.Context, caller Caller, req MediaRequest, modality Modality, def string) (MediaResponse, error) {
	m, err := r.resolve(req.Model, def, modality)
	if err != nil {
		return MediaResponse{}, err
	}
	if err := Authorize(caller.Identity, m); err != nil {
		return MediaResponse{}, err
	}
	if res := ValidateMediaRequest(req, m); !res.OK {
		return MediaResponse{}, res.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Media)
	defer cancel()

	rr := newRoutedRequest(ctx, m, caller)
	chain, err := r.buildChain(m)
	if err != nil {
		return MediaResponse{}, err
	}

	var resp MediaResponse
	call := func(ctx context.Context, c Candidate) error {
		preq := MediaProviderRequest{Auth: Auth{APIKey: c.Credential.Key}, Model: c.Model, MediaRequest: req}
		var err error
		if modality == ModalityVideo {
			resp, err = c.Provider.(VideoGenerator).GenerateVideo(ctx, preq)
		} else {
			resp, err = c.Provider.(ImageGenerator).GenerateImage(ctx, preq)
		}
		return err
	}

	c, done, err := r.execute(ctx, rr, chain, EstimateTokens(req.Prompt), call)
	if err != nil {
		return MediaResponse{}, err
	}
	done()

	if resp.Created == 0 {
		resp.Created = unixNow()
	}
	resp.Routing = routingInfo(c, rr)
	r.accountant.Record(caller, m, req.Prompt, string(OutcomeSuccess))
	return resp, nil
}

// CreateEmbedding routes an embeddings request.
func (r *Router) CreateEmbedding(ctx context.Context, caller Caller, req EmbeddingRequest) (EmbeddingResponse, error) {
	m, err := r.resolve(req.Model, DefaultEmbeddingModel, ModalityEmbedding)
	if err != nil {
		return EmbeddingResponse{}, err
	}
	if err := Authorize(caller.Identity, m); err != nil {
		return EmbeddingResponse{}, err
	}
	if len(req.Input) == 0 || string(req.Input) == "null" {
		return EmbeddingResponse{}, InvalidRequest("invalid_input", "input", "input is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Chat)
	defer cancel()

	rr := newRoutedRequest(ctx, m, caller)
	chain, err := r.buildChain(m)
	if err != nil {
		return EmbeddingResponse{}, err
	}

	var resp EmbeddingResponse
	call := func(ctx context.Context, c Candidate) error {
		var err error
		resp, err = c.Provider.(Embedder).CreateEmbedding(ctx, EmbeddingProviderRequest{
			Auth:           Auth{APIKey: c.Credential.Key},
			Model:          c.Model,
			Input:          req.Input,
			EncodingFormat: req.EncodingFormat,
			Dimensions:     req.Dimensions,
		})
		return err
	}

	c, done, err := r.execute(ctx, rr, chain, EstimateTokens(string(req.Input)), call)
	if err != nil {
		return EmbeddingResponse{}, err
	}
	done()

	resp.Object = "list"
	resp.Model = m.ID
	resp.Routing = routingInfo(c, rr)
	r.accountant.Record(caller, m, string(req.Input), string(OutcomeSuccess))
	return resp, nil
}

func (r *Router) resolve(requested, def string, want Modality) (Model, error) {
	if strings.TrimSpace(requested) == "" {
		requested = def
	}
	m, err := r.registry.Resolve(requested)
	if err != nil {
		return Model{}, err
	}
	if m.Modality != want {
		ge := InvalidRequest("model_not_supported", "model",
			fmt.Sprintf("model %s is a %s model and cannot serve %s requests", m.ID, m.Modality, want))
		var ids []string
		for _, other := range r.registry.List(want) {
			if len(ids) == maxSuggestions {
				break
			}
			ids = append(ids, other.ID)
		}
		ge.Suggestion = "Use a " + string(want) + " model such as: " + strings.Join(ids, ", ") + "."
		return Model{}, ge
	}
	return m, nil
}

func newRoutedRequest(ctx context.Context, m Model, caller Caller) *RoutedRequest {
	rr := &RoutedRequest{Model: m, Caller: caller}
	if d, ok := ctx.Deadline(); ok {
		rr.Deadline = d
	}
	return rr
}

type callFunc func(ctx context.Context, c Candidate) error

// execute walks the chain until one attempt succeeds. Retryable failures move
// on to the next candidate; anything else ends the request. On success the
// returned cancel func releases the winning attempt's context.
func (r *Router) execute(ctx context.Context, rr *RoutedRequest, chain []Candidate, estimated int64, call callFunc) (Candidate, context.CancelFunc, error) {
	var (
		lastErr error
		last    Candidate
	)

	for i, c := range chain {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: request deadline exceeded: %v", ErrTimeout, err)
			}
			lastErr = err
			break
		}

		attemptCtx, cancel := attemptContext(ctx, rr, c, i < len(chain)-1)
		name := c.Provider.Name()

		r.meter.OnRoute(RouteEvent{
			RequestID:    rr.Caller.RequestID,
			Provider:     name,
			CredentialID: c.Credential.ID,
			Model:        c.Model,
			Modality:     rr.Model.Modality,
			AttemptNum:   len(rr.Attempts) + 1,
			FastPath:     c.FastPath,
			Fallback:     c.Fallback,
			EstimatedIn:  estimated,
		})

		start := time.Now()
		err := call(attemptCtx, c)
		duration := time.Since(start)

		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %s: %v", ErrTimeout, name, err)
		}

		a := rr.record(c, err, duration)
		r.meter.OnResult(ResultEvent{
			RequestID:    rr.Caller.RequestID,
			Provider:     name,
			CredentialID: c.Credential.ID,
			Model:        c.Model,
			Success:      err == nil,
			Outcome:      a.Outcome,
			Status:       a.Status,
			Duration:     duration,
			Error:        err,
		})

		if err == nil {
			r.health.RecordSuccess(name, c.Credential.ID)
			return c, cancel, nil
		}
		cancel()

		last, lastErr = c, err
		if !IsRetryable(err) {
			break
		}
		r.health.RecordFailure(name, c.Credential.ID)
		r.logger.Debug("attempt failed, trying next candidate",
			"request_id", rr.Caller.RequestID,
			"provider", name,
			"credential", c.Credential.ID,
			"outcome", a.Outcome,
			"error", err,
		)
	}

	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	provider := ""
	if last.Provider != nil {
		provider = last.Provider.Name()
	}
	return last, nil, &RouterError{
		Err:      lastErr,
		Provider: provider,
		Model:    rr.Model.ID,
		Attempts: append([]Attempt(nil), rr.Attempts...),
	}
}

// tryFastPath makes the single fast-path attempt. A failure is only logged;
// the caller continues with the standard chain.
func (r *Router) tryFastPath(ctx context.Context, rr *RoutedRequest, m Model, estimated int64, call callFunc) (Candidate, bool) {
	upstream, ok := r.fastPath.Lookup(m.ID)
	if !ok {
		return Candidate{}, false
	}
	p, ok := r.providers[r.fastPath.Provider]
	if !ok {
		return Candidate{}, false
	}

	cred := r.pools[p.Name()].Sequence()[0]
	c := Candidate{
		Provider:   p,
		Credential: cred,
		Model:      upstream,
		Health:     r.health.Get(p.Name(), cred.ID),
		FastPath:   true,
		Timeout:    r.fastPath.Timeout,
	}

	won, done, err := r.execute(ctx, rr, []Candidate{c}, estimated, call)
	if err != nil {
		r.logger.Info("fast path failed, using standard dispatch",
			"request_id", rr.Caller.RequestID,
			"model", m.ID,
			"provider", p.Name(),
			"error", err,
		)
		return Candidate{}, false
	}
	done()
	return won, true
}

// attemptContext bounds one attempt. While other candidates remain (for the
// fast path, the whole standard chain), an attempt gets at most c.Timeout and
// at most half of the budget still left. The final attempt runs against the
// parent deadline.
func attemptContext(ctx context.Context, rr *RoutedRequest, c Candidate, more bool) (context.Context, context.CancelFunc) {
	if rr.Stream || !(more || c.FastPath) {
		return context.WithCancel(ctx)
	}
	d := c.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if half := time.Until(dl) / 2; half > 0 && (d <= 0 || half < d) {
			d = half
		}
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (r *Router) withMemory(ctx context.Context, caller Caller, messages []Message) []Message {
	if r.memory == nil || caller.EndUserID == "" {
		return messages
	}
	query := lastUserText(messages)
	if query == "" {
		return messages
	}

	mctx, cancel := context.WithTimeout(ctx, r.timeouts.Memory)
	defer cancel()

	text, err := r.memory.Retrieve(mctx, caller.EndUserID, query)
	if err != nil {
		r.logger.Warn("memory retrieve failed", "request_id", caller.RequestID, "error", err)
		return messages
	}
	if strings.TrimSpace(text) == "" {
		return messages
	}

	out := make([]Message, 0, len(messages)+1)
	out = append(out, TextMessage("system", "Relevant context remembered about this user:\n"+text))
	return append(out, messages...)
}

func (r *Router) remember(caller Caller, prompt string, rec Reconstructed) {
	if r.memory == nil || caller.EndUserID == "" || rec.Empty() {
		return
	}
	reply := rec.Summary()
	user := caller.EndUserID
	r.tasks.Submit("memory.remember", func(ctx context.Context) error {
		return r.memory.Remember(ctx, user, prompt, reply)
	})
}

func normalizeChat(m Model, resp ProviderResponse, promptTokens int64) ChatResponse {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.New().String()
	}
	created := resp.Created
	if created == 0 {
		created = unixNow()
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.PromptTokens = promptTokens
		usage.CompletionTokens = EstimateTokens(resp.Content)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   m.ID,
		Choices: []Choice{
			{
				Index: 0,
				Message: ResponseMessage{
					Role:      "assistant",
					Content:   resp.Content,
					ToolCalls: resp.ToolCalls,
				},
				FinishReason: finish,
			},
		},
		Usage: usage,
	}
}

func routingInfo(c Candidate, rr *RoutedRequest) RoutingInfo {
	return RoutingInfo{
		Provider:      c.Provider.Name(),
		CredentialID:  c.Credential.ID,
		UpstreamModel: c.Model,
		Attempts:      append([]Attempt(nil), rr.Attempts...),
		FastPath:      c.FastPath,
		Fallback:      c.Fallback,
	}
}
