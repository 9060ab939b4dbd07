package cloudgpt_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/CloudCompile/cloudgptapi-sub000/meter"
	"github.com/CloudCompile/cloudgptapi-sub000/policy"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var freeCaller = cloudgpt.Caller{
	Identity:  cloudgpt.Identity{Kind: cloudgpt.IdentitySession, UserID: "u1", Plan: cloudgpt.PlanFree},
	RequestID: "req-1",
}

func callerWithPlan(p cloudgpt.Plan) cloudgpt.Caller {
	c := freeCaller
	c.Identity.Plan = p
	return c
}

func hello() cloudgpt.ChatRequest {
	return cloudgpt.ChatRequest{Messages: []cloudgpt.Message{cloudgpt.TextMessage("user", "hello")}}
}

func newTestRouter(t *testing.T, providers []cloudgpt.Provider, opts ...cloudgpt.Option) *cloudgpt.Router {
	t.Helper()
	opts = append([]cloudgpt.Option{
		cloudgpt.WithPolicy(&policy.HealthFirstPolicy{}),
		cloudgpt.WithMeter(&meter.NoopMeter{}),
	}, opts...)
	r, err := cloudgpt.NewRouter(nil, providers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

// Test 1: an alias resolves and a 500 moves on to the next pooled key.
func TestChatCompletion_RetriesNextCredential(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStatusForKey("k1", http.StatusInternalServerError))
	r := newTestRouter(t, []cloudgpt.Provider{poll},
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2")))

	req := hello()
	req.Model = "gpt-4o"
	resp, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.Model)
	assert.Equal(t, "Hello from mock provider", resp.Choices[0].Message.Content)
	assert.Equal(t, "key-2", resp.Routing.CredentialID)
	assert.Len(t, resp.Routing.Attempts, 2)
	assert.Equal(t, cloudgpt.OutcomeUnavailable, resp.Routing.Attempts[0].Outcome)
	assert.Equal(t, []string{"k1", "k2"}, poll.Keys())
}

// Test 2: rate-limited keys are skipped until one succeeds.
func TestChatCompletion_RateLimitedKeysExhaustInOrder(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations),
		mock.WithStatusForKey("k1", http.StatusTooManyRequests),
		mock.WithStatusForKey("k2", http.StatusTooManyRequests),
		mock.WithStatusForKey("k3", http.StatusTooManyRequests),
	)
	r := newTestRouter(t, []cloudgpt.Provider{poll},
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2", "k3", "k4")))

	resp, err := r.ChatCompletion(context.Background(), freeCaller, hello())
	require.NoError(t, err)
	assert.Equal(t, "key-4", resp.Routing.CredentialID)
	require.Len(t, resp.Routing.Attempts, 4)
	for _, a := range resp.Routing.Attempts[:3] {
		assert.Equal(t, cloudgpt.OutcomeRateLimited, a.Outcome)
		assert.Equal(t, http.StatusTooManyRequests, a.Status)
	}
}

// Test 3: premium models are rejected before any upstream call.
func TestChatCompletion_PremiumGate(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	r := newTestRouter(t, []cloudgpt.Provider{poll})

	req := hello()
	req.Model = "openai-large"
	anon := cloudgpt.Caller{Identity: cloudgpt.AnonymousIdentity("192.0.2.1")}
	_, err := r.ChatCompletion(context.Background(), anon, req)
	require.ErrorIs(t, err, cloudgpt.ErrPremiumRequired)
	assert.Zero(t, poll.CallCount())

	_, err = r.ChatCompletion(context.Background(), callerWithPlan(cloudgpt.PlanDeveloper), req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, poll.CallCount())
}

// Test 4: a mapped model falls back to the compatible provider.
func TestChatCompletion_CrossProviderFallback(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStatusForKey("", http.StatusServiceUnavailable))
	or := mock.New(mock.WithName(cloudgpt.ProviderOpenRouter), mock.WithContent("from openrouter"))
	r := newTestRouter(t, []cloudgpt.Provider{poll, or},
		cloudgpt.WithCredentials(cloudgpt.ProviderOpenRouter, cloudgpt.NewCredentialPool("or-1")))

	req := hello()
	req.Model = "gemini"
	resp, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.NoError(t, err)

	assert.Equal(t, "gemini", resp.Model)
	assert.Equal(t, "from openrouter", resp.Choices[0].Message.Content)
	assert.Equal(t, cloudgpt.ProviderOpenRouter, resp.Routing.Provider)
	assert.Equal(t, "google/gemini-2.5-flash", resp.Routing.UpstreamModel)
	assert.True(t, resp.Routing.Fallback)
	require.Len(t, or.Calls(), 1)
	assert.Equal(t, "google/gemini-2.5-flash", or.Calls()[0].Model)
}

// Test 5: upstream auth failures stop the chain.
func TestChatCompletion_AuthFailureIsFatal(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStatusForKey("k1", http.StatusUnauthorized))
	or := mock.New(mock.WithName(cloudgpt.ProviderOpenRouter))
	r := newTestRouter(t, []cloudgpt.Provider{poll, or},
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2")))

	req := hello()
	req.Model = "gemini"
	_, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.ErrorIs(t, err, cloudgpt.ErrAuthFailed)

	var re *cloudgpt.RouterError
	require.True(t, errors.As(err, &re))
	assert.Len(t, re.Attempts, 1)
	assert.EqualValues(t, 1, poll.CallCount())
	assert.Zero(t, or.CallCount())
}

// Test 6: models without a fallback row stay on their provider.
func TestChatCompletion_NoFallbackForUnmappedModel(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStatusForKey("k1", http.StatusTeapot))
	or := mock.New(mock.WithName(cloudgpt.ProviderOpenRouter))
	r := newTestRouter(t, []cloudgpt.Provider{poll, or},
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1")))

	_, err := r.ChatCompletion(context.Background(), freeCaller, hello())
	require.ErrorIs(t, err, cloudgpt.ErrProviderUnavailable)
	assert.Zero(t, or.CallCount())

	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, http.StatusServiceUnavailable, ge.Status)
	assert.Equal(t, http.StatusTeapot, ge.OriginalStatus)
	assert.Equal(t, cloudgpt.ProviderPollinations, ge.Provider)
}

// Test 7: the fast path answers first and falls through when it fails.
func TestChatCompletion_FastPath(t *testing.T) {
	fast := cloudgpt.FastPath{Provider: cloudgpt.ProviderGitHub, Models: map[string]string{"openai": "openai/gpt-4o-mini"}}

	t.Run("hit", func(t *testing.T) {
		poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
		gh := mock.New(mock.WithName(cloudgpt.ProviderGitHub))
		r := newTestRouter(t, []cloudgpt.Provider{poll, gh}, cloudgpt.WithFastPath(fast))

		resp, err := r.ChatCompletion(context.Background(), freeCaller, hello())
		require.NoError(t, err)
		assert.True(t, resp.Routing.FastPath)
		assert.Equal(t, "openai/gpt-4o-mini", resp.Routing.UpstreamModel)
		assert.Zero(t, poll.CallCount())
	})

	t.Run("falls through", func(t *testing.T) {
		poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
		gh := mock.New(mock.WithName(cloudgpt.ProviderGitHub), mock.WithStatusForKey("", http.StatusBadGateway))
		r := newTestRouter(t, []cloudgpt.Provider{poll, gh}, cloudgpt.WithFastPath(fast))

		resp, err := r.ChatCompletion(context.Background(), freeCaller, hello())
		require.NoError(t, err)
		assert.False(t, resp.Routing.FastPath)
		assert.Equal(t, cloudgpt.ProviderPollinations, resp.Routing.Provider)
		require.Len(t, resp.Routing.Attempts, 2)
		assert.True(t, resp.Routing.Attempts[0].FastPath)
	})

	t.Run("streams skip it", func(t *testing.T) {
		poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
		gh := mock.New(mock.WithName(cloudgpt.ProviderGitHub))
		r := newTestRouter(t, []cloudgpt.Provider{poll, gh}, cloudgpt.WithFastPath(fast))

		s, err := r.ChatCompletionStream(context.Background(), freeCaller, hello())
		require.NoError(t, err)
		require.NoError(t, s.Close())
		assert.Zero(t, gh.CallCount())
	})
}

// Test 8: video needs a video-capable plan; veo also needs premium.
func TestGenerateVideo_PlanGate(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	r := newTestRouter(t, []cloudgpt.Provider{poll})
	req := cloudgpt.MediaRequest{Prompt: "a cat surfing"}

	_, err := r.GenerateVideo(context.Background(), callerWithPlan(cloudgpt.PlanPro), req)
	require.ErrorIs(t, err, cloudgpt.ErrVideoPlanRequired)

	resp, err := r.GenerateVideo(context.Background(), callerWithPlan(cloudgpt.PlanVideo), req)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Data[0].URL, "/video/seedance/")

	req.Model = "veo"
	_, err = r.GenerateVideo(context.Background(), callerWithPlan(cloudgpt.PlanVideo), req)
	require.ErrorIs(t, err, cloudgpt.ErrPremiumRequired)

	_, err = r.GenerateVideo(context.Background(), callerWithPlan(cloudgpt.PlanEnterprise), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, poll.CallCount())
}

type fakeMemory struct {
	context string

	mu         sync.Mutex
	remembered []string
}

func (m *fakeMemory) Retrieve(context.Context, string, string) (string, error) {
	return m.context, nil
}

func (m *fakeMemory) Remember(_ context.Context, userID, prompt, reply string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remembered = append(m.remembered, userID+"|"+prompt+"|"+reply)
	return nil
}

func (m *fakeMemory) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.remembered...)
}

// Test 9: memory context is injected and the exchange is remembered.
func TestChatCompletion_Memory(t *testing.T) {
	var seen []cloudgpt.Message
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations),
		mock.WithResponseFunc(func(req cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error) {
			seen = req.Messages
			return cloudgpt.ProviderResponse{Content: "meow"}, nil
		}))
	mem := &fakeMemory{context: "likes cats"}
	q := cloudgpt.NewTaskQueue(1, 8)
	r := newTestRouter(t, []cloudgpt.Provider{poll}, cloudgpt.WithMemory(mem), cloudgpt.WithTaskQueue(q))

	caller := freeCaller
	caller.EndUserID = "end-user"
	_, err := r.ChatCompletion(context.Background(), caller, hello())
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))

	require.Len(t, seen, 2)
	assert.Equal(t, "system", seen[0].Role)
	assert.Contains(t, seen[0].Text(), "likes cats")
	assert.Equal(t, []string{"end-user|hello|meow"}, mem.all())
}

// Test 10: without x-user-id memory is never consulted.
func TestChatCompletion_MemoryNeedsEndUser(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	mem := &fakeMemory{context: "likes cats"}
	q := cloudgpt.NewTaskQueue(1, 8)
	r := newTestRouter(t, []cloudgpt.Provider{poll}, cloudgpt.WithMemory(mem), cloudgpt.WithTaskQueue(q))

	_, err := r.ChatCompletion(context.Background(), freeCaller, hello())
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))
	assert.Empty(t, mem.all())
}

// Test 11: streams pass bytes through and remember the reconstructed reply.
func TestChatCompletionStream_PassThroughAndRemember(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStreamChunks("Hel", "lo"))
	mem := &fakeMemory{}
	q := cloudgpt.NewTaskQueue(1, 8)
	r := newTestRouter(t, []cloudgpt.Provider{poll}, cloudgpt.WithMemory(mem), cloudgpt.WithTaskQueue(q))

	caller := freeCaller
	caller.EndUserID = "end-user"
	s, err := r.ChatCompletionStream(context.Background(), caller, hello())
	require.NoError(t, err)
	assert.Equal(t, "openai", s.Model.ID)
	assert.Equal(t, cloudgpt.ProviderPollinations, s.Routing.Provider)

	body, err := io.ReadAll(s)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, q.Close(context.Background()))

	assert.Contains(t, string(body), `"content":"Hel"`)
	assert.Contains(t, string(body), "data: [DONE]")
	assert.Equal(t, []string{"end-user|hello|Hello"}, mem.all())
}

// Test 12: stream fallback happens before the first byte.
func TestChatCompletionStream_FallbackBeforeFirstByte(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations),
		mock.WithStatusForKey("k1", http.StatusServiceUnavailable))
	r := newTestRouter(t, []cloudgpt.Provider{poll},
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2")))

	s, err := r.ChatCompletionStream(context.Background(), freeCaller, hello())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "key-2", s.Routing.CredentialID)
	assert.Len(t, s.Routing.Attempts, 2)
}

type fakeSink struct {
	mu         sync.Mutex
	increments map[int64]float64
	records    []cloudgpt.UsageRecord
}

func (s *fakeSink) IncrementKeyUsage(_ context.Context, keyID int64, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.increments == nil {
		s.increments = make(map[int64]float64)
	}
	s.increments[keyID] += weight
	return nil
}

func (s *fakeSink) AppendUsage(_ context.Context, rec cloudgpt.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Test 13: successful requests are recorded, failed ones are not.
func TestAccounting_RecordsSuccessOnly(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStatusForKey("bad", http.StatusInternalServerError))
	sink := &fakeSink{}
	q := cloudgpt.NewTaskQueue(1, 8)
	r := newTestRouter(t, []cloudgpt.Provider{poll},
		cloudgpt.WithTaskQueue(q),
		cloudgpt.WithAccountant(cloudgpt.NewAccountant(sink, q, nil)),
		cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("bad")))

	caller := cloudgpt.Caller{
		Identity:  cloudgpt.Identity{Kind: cloudgpt.IdentityAPIKey, KeyID: 7, UserID: "u7", Plan: cloudgpt.PlanDeveloper},
		RequestID: "req-7",
	}
	_, err := r.ChatCompletion(context.Background(), caller, hello())
	require.Error(t, err)

	_, err = r.GenerateImage(context.Background(), caller, cloudgpt.MediaRequest{Model: "kontext", Prompt: "a red fox"})
	require.Error(t, err)

	r2 := newTestRouter(t, []cloudgpt.Provider{mock.New(mock.WithName(cloudgpt.ProviderPollinations))},
		cloudgpt.WithTaskQueue(q),
		cloudgpt.WithAccountant(cloudgpt.NewAccountant(sink, q, nil)))
	_, err = r2.GenerateImage(context.Background(), caller, cloudgpt.MediaRequest{Model: "kontext", Prompt: "a red fox"})
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "kontext", rec.ModelID)
	assert.Equal(t, cloudgpt.ModalityImage, rec.Modality)
	assert.Equal(t, "key:7", rec.BucketKey)
	assert.Equal(t, "req-7", rec.RequestID)
	assert.Equal(t, string(cloudgpt.OutcomeSuccess), rec.Status)
	assert.InDelta(t, 2.0, rec.WeightedCost, 0.0001)
	assert.InDelta(t, 2.0, sink.increments[7], 0.0001)
}

// Test 14: embeddings route to an embedding-capable provider.
func TestCreateEmbedding_DefaultModel(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	gh := mock.New(mock.WithName(cloudgpt.ProviderGitHub))
	r := newTestRouter(t, []cloudgpt.Provider{poll, gh})

	resp, err := r.CreateEmbedding(context.Background(), freeCaller, cloudgpt.EmbeddingRequest{Input: json.RawMessage(`"hello"`)})
	require.NoError(t, err)
	assert.Equal(t, "list", resp.Object)
	assert.Equal(t, "text-embedding-3-small", resp.Model)
	require.Len(t, resp.Data, 1)
	assert.JSONEq(t, `[0.1,0.2,0.3]`, string(resp.Data[0].Embedding))
	assert.Equal(t, "openai/text-embedding-3-small", gh.Calls()[0].Model)

	_, err = r.CreateEmbedding(context.Background(), freeCaller, cloudgpt.EmbeddingRequest{})
	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, "invalid_input", ge.Code)
}

// Test 15: a model of the wrong modality is rejected with a hint.
func TestGenerateImage_WrongModality(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	r := newTestRouter(t, []cloudgpt.Provider{poll})

	_, err := r.GenerateImage(context.Background(), freeCaller, cloudgpt.MediaRequest{Model: "openai", Prompt: "x"})
	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, "model_not_supported", ge.Code)
	assert.Equal(t, "model", ge.Param)
	assert.Contains(t, ge.Suggestion, "flux")
	assert.Zero(t, poll.CallCount())

	resp, err := r.GenerateImage(context.Background(), freeCaller, cloudgpt.MediaRequest{Prompt: "a red fox"})
	require.NoError(t, err)
	assert.Equal(t, "https://mock.invalid/image/flux/a_red_fox", resp.Data[0].URL)
}

// Test 16: a missing provider is reported, not retried.
func TestChatCompletion_NoProviderRegistered(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations))
	r := newTestRouter(t, []cloudgpt.Provider{poll})

	req := hello()
	req.Model = "llama"
	_, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.ErrorIs(t, err, cloudgpt.ErrNoProvider)
}

// Test 17: the chat budget turns a hung upstream into a timeout.
func TestChatCompletion_Timeout(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithLatency(time.Second))
	r := newTestRouter(t, []cloudgpt.Provider{poll},
		cloudgpt.WithTimeouts(cloudgpt.Timeouts{Chat: 50 * time.Millisecond}))

	_, err := r.ChatCompletion(context.Background(), freeCaller, hello())
	require.ErrorIs(t, err, cloudgpt.ErrTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, cloudgpt.AsGatewayError(err).Status)
}

// Test 18: unknown models come back with suggestions.
func TestChatCompletion_ModelNotFound(t *testing.T) {
	r := newTestRouter(t, []cloudgpt.Provider{mock.New(mock.WithName(cloudgpt.ProviderPollinations))})

	req := hello()
	req.Model = "openai-larg"
	_, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.ErrorIs(t, err, cloudgpt.ErrModelNotFound)

	var nf *cloudgpt.ModelNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, nf.Suggestions, "openai-large")
}

// Test 19: a hung key gives up part of the budget and the next key answers.
func TestChatCompletion_HungCredentialFallsThrough(t *testing.T) {
	t.Run("chat budget carved", func(t *testing.T) {
		poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithHangForKey("k1"))
		r := newTestRouter(t, []cloudgpt.Provider{poll},
			cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2")),
			cloudgpt.WithTimeouts(cloudgpt.Timeouts{Chat: 300 * time.Millisecond}))

		resp, err := r.ChatCompletion(context.Background(), freeCaller, hello())
		require.NoError(t, err)
		assert.Equal(t, "key-2", resp.Routing.CredentialID)
		require.Len(t, resp.Routing.Attempts, 2)
		assert.Equal(t, cloudgpt.OutcomeTimeout, resp.Routing.Attempts[0].Outcome)
		assert.Equal(t, []string{"k1", "k2"}, poll.Keys())
	})

	t.Run("attempt cap", func(t *testing.T) {
		poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithHangForKey("k1"))
		r := newTestRouter(t, []cloudgpt.Provider{poll},
			cloudgpt.WithCredentials(cloudgpt.ProviderPollinations, cloudgpt.NewCredentialPool("k1", "k2")),
			cloudgpt.WithTimeouts(cloudgpt.Timeouts{Chat: 10 * time.Second, Attempt: 50 * time.Millisecond}))

		start := time.Now()
		resp, err := r.ChatCompletion(context.Background(), freeCaller, hello())
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, "key-2", resp.Routing.CredentialID)
	})
}

// Test 20: a hung primary still leaves time for the cross-provider row.
func TestChatCompletion_HungProviderFallsBack(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithHangForKey(""))
	or := mock.New(mock.WithName(cloudgpt.ProviderOpenRouter), mock.WithContent("from openrouter"))
	r := newTestRouter(t, []cloudgpt.Provider{poll, or},
		cloudgpt.WithCredentials(cloudgpt.ProviderOpenRouter, cloudgpt.NewCredentialPool("or-1")),
		cloudgpt.WithTimeouts(cloudgpt.Timeouts{Chat: 300 * time.Millisecond}))

	req := hello()
	req.Model = "gemini"
	resp, err := r.ChatCompletion(context.Background(), freeCaller, req)
	require.NoError(t, err)
	assert.Equal(t, "from openrouter", resp.Choices[0].Message.Content)
	assert.True(t, resp.Routing.Fallback)
	assert.Equal(t, cloudgpt.OutcomeTimeout, resp.Routing.Attempts[0].Outcome)
}

// Test 21: a stream abandoned before its end is not remembered.
func TestChatCompletionStream_AbortedStreamNotRemembered(t *testing.T) {
	poll := mock.New(mock.WithName(cloudgpt.ProviderPollinations), mock.WithStreamChunks("Hello", " world"))
	mem := &fakeMemory{}
	q := cloudgpt.NewTaskQueue(1, 8)
	r := newTestRouter(t, []cloudgpt.Provider{poll}, cloudgpt.WithMemory(mem), cloudgpt.WithTaskQueue(q))

	caller := freeCaller
	caller.EndUserID = "end-user"
	s, err := r.ChatCompletionStream(context.Background(), caller, hello())
	require.NoError(t, err)

	buf := make([]byte, 60)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, q.Close(context.Background()))

	assert.Empty(t, mem.all())
}
