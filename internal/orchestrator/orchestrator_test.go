package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/candorhq/go-candor-ai/internal/cache"
	"github.com/candorhq/go-candor-ai/internal/fallback"
	"github.com/candorhq/go-candor-ai/internal/ledger"
	"github.com/candorhq/go-candor-ai/internal/ratelimit"
	"github.com/candorhq/go-candor-ai/internal/router"
	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/logger"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

// scriptedProvider replays a fixed response sequence, repeating the last
// entry once the script runs out.
type scriptedProvider struct {
	mu        sync.Mutex
	calls     int
	responses []scripted
}

type scripted struct {
	text string
	err  error
}

func respond(texts ...string) *scriptedProvider {
	p := &scriptedProvider{}
	for _, t := range texts {
		p.responses = append(p.responses, scripted{text: t})
	}
	return p
}

func fail(err error) *scriptedProvider {
	return &scriptedProvider{responses: []scripted{{err: err}}}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next() scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx]
}

func (p *scriptedProvider) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	r := p.next()
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Result{Text: r.text, Usage: message.TokenUsage{InputTokens: 5, OutputTokens: 10}}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, model, text string) ([]float64, error) {
	r := p.next()
	if r.err != nil {
		return nil, r.err
	}
	return []float64{0.5, 0.25, 0.25}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type captureSink struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (s *captureSink) Log(e ledger.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *captureSink) count(status ledger.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

func testTable(t *testing.T, alphaRPM int) *routing.Table {
	t.Helper()
	tiers := map[string]routing.ModelTier{
		"alpha": {Name: "alpha", Backend: "mock-a", Model: "model-a", RPM: alphaRPM},
		"beta":  {Name: "beta", Backend: "mock-b", Model: "model-b", RPM: 100},
	}
	route := func(debounce time.Duration) routing.Route {
		return routing.Route{
			Primary:   "alpha",
			Fallbacks: []string{"beta"},
			TTL:       routing.Duration(time.Hour),
			Debounce:  routing.Duration(debounce),
		}
	}
	routes := map[routing.TaskType]routing.Route{
		routing.TaskGenerateQuestions: route(0),
		routing.TaskEvaluateAnswer:    route(0),
		routing.TaskClassifyDocument:  route(0),
		routing.TaskSuggestSkills:     route(20 * time.Millisecond),
		routing.TaskEmbedText:         route(0),
	}
	table, err := routing.NewTable(tiers, routes)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

type harness struct {
	orch  *Orchestrator
	sink  *captureSink
	alpha *scriptedProvider
	beta  *scriptedProvider
}

func newHarness(t *testing.T, alpha, beta *scriptedProvider, alphaRPM int, span time.Duration) *harness {
	t.Helper()
	log := logger.NewLogger(logger.LogLevelError)
	table := testTable(t, alphaRPM)
	governor := ratelimit.NewGovernor(table.Tiers(), span, log)
	sink := &captureSink{}
	rt := router.New(
		map[string]llm.Provider{"mock-a": alpha, "mock-b": beta},
		governor, sink, log,
		router.Config{Timeout: time.Second, MaxRetries: 2, BackoffBase: time.Millisecond},
	)
	orch := New(table, rt, governor,
		cache.New(0, table.TTL),
		cache.NewPrefixCache(0, 0),
		nil, log)
	return &harness{orch: orch, sink: sink, alpha: alpha, beta: beta}
}

func TestExecuteCachesResponse(t *testing.T) {
	alpha := respond(`{"ok": true}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	first, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt-1", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt-1", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute (cached): %v", err)
	}
	if first != second {
		t.Errorf("cached response %q differs from original %q", second, first)
	}
	if got := alpha.callCount(); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}
	if stats := h.orch.GetStatus().Cache; stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("cache stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestExecuteFallsBackToSecondaryTier(t *testing.T) {
	alpha := fail(errors.New("upstream 500"))
	beta := respond(`{"source": "beta"}`)
	h := newHarness(t, alpha, beta, 100, time.Minute)

	got, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != `{"source": "beta"}` {
		t.Errorf("unexpected response %q", got)
	}

	// The fallback's answer is cached under the original task key.
	if _, ok := h.orch.cache.Get(routing.TaskGenerateQuestions, "prompt"); !ok {
		t.Error("response not cached under original key")
	}
	if beta.callCount() != 1 {
		t.Errorf("beta calls = %d, want 1", beta.callCount())
	}
}

func TestExecuteExhaustedChain(t *testing.T) {
	h := newHarness(t, fail(errors.New("down")), fail(errors.New("down")), 100, time.Minute)

	_, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt", router.CallOptions{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// One failure entry per tier attempted.
	if got := h.sink.count(ledger.StatusFailure); got != 2 {
		t.Errorf("failure ledger entries = %d, want 2", got)
	}
}

func TestExecuteRepairsProviderJSON(t *testing.T) {
	alpha := respond("```json\n{\"questions\": [{\"text\": \"Q1\", \"category\": \"experience\"},]}\n```")
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	got, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := `{"questions": [{"text": "Q1", "category": "experience"}]}`
	if got != want {
		t.Errorf("repaired output = %q, want %q", got, want)
	}
}

func TestExecuteAdvancesOnUnparseableOutput(t *testing.T) {
	alpha := respond("I'm sorry, I can't help with that.")
	beta := respond(`{"source": "beta"}`)
	h := newHarness(t, alpha, beta, 100, time.Minute)

	got, err := h.orch.Execute(context.Background(), routing.TaskGenerateQuestions, "prompt", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != `{"source": "beta"}` {
		t.Errorf("expected beta's response, got %q", got)
	}
}

func TestExecuteQueuesWhenAllTiersSaturated(t *testing.T) {
	alpha := respond(`{"queued": true}`)
	beta := respond(`{}`)
	// Window span of 50ms so the saturated slot frees up quickly.
	h := newHarness(t, alpha, beta, 1, 50*time.Millisecond)

	// Saturate both tiers.
	h.orch.governor.Record("alpha")
	for i := 0; i < 100; i++ {
		h.orch.governor.Record("beta")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := h.orch.Execute(ctx, routing.TaskGenerateQuestions, "prompt", router.CallOptions{})
	if err != nil {
		t.Fatalf("Execute via queue: %v", err)
	}
	if got != `{"queued": true}` {
		t.Errorf("unexpected queued response %q", got)
	}
	if alpha.callCount() != 1 {
		t.Errorf("alpha calls = %d, want 1", alpha.callCount())
	}
}

func TestExecuteDebouncedCoalesces(t *testing.T) {
	alpha := respond(`{"skills": ["Go"]}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.orch.ExecuteDebounced(context.Background(), routing.TaskSuggestSkills, "same prompt", router.CallOptions{})
			if err != nil {
				t.Errorf("ExecuteDebounced: %v", err)
				return
			}
			results <- got
		}()
	}
	wg.Wait()
	close(results)

	if alpha.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 after debounce", alpha.callCount())
	}
	for got := range results {
		if got != `{"skills": ["Go"]}` {
			t.Errorf("caller got %q", got)
		}
	}
}

func TestExecuteEmbedCachesVector(t *testing.T) {
	alpha := respond("unused")
	h := newHarness(t, alpha, respond(""), 100, time.Minute)

	vec, err := h.orch.ExecuteEmbed(context.Background(), routing.TaskEmbedText, "resume body", router.CallOptions{})
	if err != nil {
		t.Fatalf("ExecuteEmbed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector %v", vec)
	}

	again, err := h.orch.ExecuteEmbed(context.Background(), routing.TaskEmbedText, "resume body", router.CallOptions{})
	if err != nil {
		t.Fatalf("ExecuteEmbed (cached): %v", err)
	}
	if len(again) != 3 || again[0] != vec[0] {
		t.Errorf("cached vector %v differs from %v", again, vec)
	}
	if alpha.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", alpha.callCount())
	}
}

func TestGenerateQuestionsFallsBackWhenExhausted(t *testing.T) {
	h := newHarness(t, fail(errors.New("down")), fail(errors.New("down")), 100, time.Minute)

	qs := h.orch.GenerateQuestions(context.Background(), "Software Engineer", "", 3, router.CallOptions{})
	if len(qs) != 3 {
		t.Fatalf("expected 3 canned questions, got %d", len(qs))
	}
	for _, q := range qs {
		if q.Text == "" || q.Category == "" {
			t.Errorf("incomplete canned question %+v", q)
		}
	}
}

func TestGenerateQuestionsParsesProviderOutput(t *testing.T) {
	alpha := respond(`{"questions": [{"text": "Tell me about Go.", "category": "experience"}]}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	qs := h.orch.GenerateQuestions(context.Background(), "Backend Engineer", "Builds services in Go.", 5, router.CallOptions{})
	if len(qs) != 1 || qs[0].Text != "Tell me about Go." {
		t.Fatalf("unexpected questions %+v", qs)
	}
}

func TestEvaluateAnswerHeuristicOnFailure(t *testing.T) {
	h := newHarness(t, fail(errors.New("down")), fail(errors.New("down")), 100, time.Minute)

	score := h.orch.EvaluateAnswer(context.Background(), "Describe a project.", "yes", router.CallOptions{})
	if score.Score != 1 {
		t.Errorf("heuristic score = %d, want 1 for a two-word answer", score.Score)
	}
}

func TestEvaluateAnswerRejectsOutOfRangeScore(t *testing.T) {
	alpha := respond(`{"score": 11, "rationale": "very good"}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	score := h.orch.EvaluateAnswer(context.Background(), "Describe a project.", "yes", router.CallOptions{})
	if score.Score < 1 || score.Score > 5 {
		t.Errorf("score %d escaped the 1..5 range", score.Score)
	}
}

func TestClassifyDocumentNormalizesMarkup(t *testing.T) {
	alpha := respond(`{"doc_type": "resume", "confidence": 0.9}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	html := "<html><body><h1>Work Experience</h1><p>Education and skills</p></body></html>"
	plain := "Work Experience Education and skills"

	first := h.orch.ClassifyDocument(context.Background(), html, router.CallOptions{})
	second := h.orch.ClassifyDocument(context.Background(), plain, router.CallOptions{})

	if first.DocType != "resume" || second.DocType != "resume" {
		t.Errorf("classifications = %+v / %+v", first, second)
	}
	// Markup and plain variants normalize to the same prompt, so the second
	// call is a cache hit.
	if alpha.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (normalized cache hit)", alpha.callCount())
	}
}

// embedOnlyProvider serves embeddings but has no working chat backend,
// simulating an outage where only the embedding tier is reachable.
type embedOnlyProvider struct {
	embeds []embedding
}

type embedding struct {
	marker string
	vec    []float64
}

func (p *embedOnlyProvider) Name() string { return "embed-only" }

func (p *embedOnlyProvider) Chat(ctx context.Context, model string, messages []message.Message, opts llm.Options) (*llm.Result, error) {
	return nil, errors.New("chat backend down")
}

func (p *embedOnlyProvider) Embed(ctx context.Context, model, text string) ([]float64, error) {
	for _, e := range p.embeds {
		if strings.Contains(text, e.marker) {
			return e.vec, nil
		}
	}
	return []float64{0, 0, 1}, nil
}

func newEmbedHarness(t *testing.T, p llm.Provider) *Orchestrator {
	t.Helper()
	log := logger.NewLogger(logger.LogLevelError)
	table := testTable(t, 100)
	governor := ratelimit.NewGovernor(table.Tiers(), time.Minute, log)
	rt := router.New(
		map[string]llm.Provider{"mock-a": p, "mock-b": p},
		governor, &captureSink{}, log,
		router.Config{Timeout: time.Second, MaxRetries: 1, BackoffBase: time.Millisecond},
	)
	return New(table, rt, governor,
		cache.New(0, table.TTL),
		cache.NewPrefixCache(0, 0),
		nil, log)
}

func TestClassifyDocumentEmbeddingFallback(t *testing.T) {
	p := &embedOnlyProvider{embeds: []embedding{
		{marker: "roadmap", vec: []float64{0.9, 0.1, 0}},
	}}
	orch := newEmbedHarness(t, p)
	orch.RegisterDocPrototype(fallback.DocResume, []float64{1, 0, 0})
	orch.RegisterDocPrototype(fallback.DocJobPosting, []float64{0, 1, 0})

	// The input carries no classifier keywords, so only the embedding match
	// against the registered prototypes can label it.
	cls := orch.ClassifyDocument(context.Background(), "Quarterly roadmap notes for the platform team.", router.CallOptions{})
	if cls.DocType != fallback.DocResume {
		t.Errorf("classification = %+v, want %s via nearest prototype", cls, fallback.DocResume)
	}
	if cls.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", cls.Confidence)
	}
}

func TestClassifyDocumentKeywordsWithoutPrototypes(t *testing.T) {
	orch := newEmbedHarness(t, &embedOnlyProvider{})

	cls := orch.ClassifyDocument(context.Background(), "Work experience, education and skills.", router.CallOptions{})
	if cls.DocType != fallback.DocResume {
		t.Errorf("classification = %+v, want %s via keywords", cls, fallback.DocResume)
	}
}

func TestRegisterExemplarDocument(t *testing.T) {
	p := &embedOnlyProvider{embeds: []embedding{
		{marker: "pleasure to recommend", vec: []float64{0, 1, 0}},
		{marker: "collaboration", vec: []float64{0.1, 0.9, 0}},
	}}
	orch := newEmbedHarness(t, p)

	err := orch.RegisterExemplarDocument(context.Background(), fallback.DocReference,
		"It is my pleasure to recommend Jordan for the role.", router.CallOptions{})
	if err != nil {
		t.Fatalf("RegisterExemplarDocument: %v", err)
	}

	cls := orch.ClassifyDocument(context.Background(), "Our collaboration on the hiring platform was excellent.", router.CallOptions{})
	if cls.DocType != fallback.DocReference {
		t.Errorf("classification = %+v, want %s from exemplar prototype", cls, fallback.DocReference)
	}
}

func TestSuggestSkillsPrefixCache(t *testing.T) {
	alpha := respond(`{"skills": ["Python", "PyTorch"]}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	first := h.orch.SuggestSkills(context.Background(), "Py", 5, router.CallOptions{})
	if len(first) != 2 {
		t.Fatalf("unexpected suggestions %v", first)
	}

	// Same normalized prefix: served from the prefix cache, no dispatch.
	second := h.orch.SuggestSkills(context.Background(), "  py ", 5, router.CallOptions{})
	if len(second) != 2 || second[0] != first[0] {
		t.Errorf("prefix-cached suggestions %v differ from %v", second, first)
	}
	if alpha.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", alpha.callCount())
	}
}

func TestSuggestSkillsShortPrefix(t *testing.T) {
	alpha := respond(`{"skills": ["Go"]}`)
	h := newHarness(t, alpha, respond(`{}`), 100, time.Minute)

	if got := h.orch.SuggestSkills(context.Background(), "g", 5, router.CallOptions{}); got != nil {
		t.Errorf("single-character query should not dispatch, got %v", got)
	}
	if alpha.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", alpha.callCount())
	}
}

func TestSuggestSkillsFallbackVocabulary(t *testing.T) {
	h := newHarness(t, fail(errors.New("down")), fail(errors.New("down")), 100, time.Minute)

	got := h.orch.SuggestSkills(context.Background(), "kub", 5, router.CallOptions{})
	if len(got) != 1 || got[0] != "Kubernetes" {
		t.Errorf("fallback suggestions = %v, want [Kubernetes]", got)
	}
}

func TestGetStatusShape(t *testing.T) {
	h := newHarness(t, respond(`{}`), respond(`{}`), 100, time.Minute)

	status := h.orch.GetStatus()
	if len(status.RateLimits) != 2 {
		t.Errorf("rate limit snapshot has %d tiers, want 2", len(status.RateLimits))
	}
	if status.Cache.Capacity == 0 {
		t.Error("cache capacity missing from status")
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"already valid", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"bare fence", "```\n[1, 2]\n```", `[1, 2]`, true},
		{"trailing comma", `{"a": [1, 2,],}`, `{"a": [1, 2]}`, true},
		{"prose around object", `Here you go: {"a": 1} hope that helps!`, `{"a": 1}`, true},
		{"brace inside string", `noise {"a": "}"} tail`, `{"a": "}"}`, true},
		{"control characters", "{\"a\": \"x\x00y\"}", `{"a": "xy"}`, true},
		{"raw newline in string", "{\"a\": \"line1\nline2\"}", `{"a": "line1line2"}`, true},
		{"raw tab in string", "{\"a\": \"col1\tcol2\",\n\"b\": 2}", "{\"a\": \"col1col2\",\"b\": 2}", true},
		{"no json at all", "I cannot answer that.", "", false},
		{"unbalanced", `{"a": [1, 2`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RepairJSON(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("RepairJSON(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRepairJSONIdempotent(t *testing.T) {
	in := "```json\n{\"a\": [1,],}\n```"
	once, ok := RepairJSON(in)
	if !ok {
		t.Fatal("first repair failed")
	}
	twice, ok := RepairJSON(once)
	if !ok || twice != once {
		t.Errorf("repair not idempotent: %q -> %q", once, twice)
	}
}

func TestSchemaInstructionMentionsFields(t *testing.T) {
	suffix, err := schemaInstruction(&questionsResponse{})
	if err != nil {
		t.Fatalf("schemaInstruction: %v", err)
	}
	for _, want := range []string{"questions", "text", "category", "JSON"} {
		if !strings.Contains(suffix, want) {
			t.Errorf("schema instruction missing %q:\n%s", want, suffix)
		}
	}
}
