package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

var estimateTrimmer = splitter.NewTrimmer(splitter.CounterFunc(splitter.EstimateTokens))

type fakeModel struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	requests []llm.Request
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1].Prompt
}

func TestLLMPlannerPlan(t *testing.T) {
	m := &fakeModel{response: `{"queries":[
		{"query":"battery chemistry 2025","researchGoal":"find chemistries"},
		{"query":"battery chemistry 2025","researchGoal":"duplicate"},
		{"query":"  ","researchGoal":"blank"},
		{"query":"solid state battery startups","researchGoal":"find companies"},
		{"query":"sodium ion cost per kWh","researchGoal":"find prices"}
	]}`}
	p := &LLMPlanner{Model: m, Logger: quietLogger}

	got, err := p.Plan(context.Background(), "future of batteries", 2, nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 queries, got %+v", got)
	}
	if got[0].Query != "battery chemistry 2025" || got[1].Query != "solid state battery startups" {
		t.Fatalf("unexpected queries: %+v", got)
	}
	if got[1].ResearchGoal != "find companies" {
		t.Fatalf("research goal lost: %+v", got[1])
	}
	prompt := m.lastPrompt()
	if !strings.Contains(prompt, "<prompt>future of batteries</prompt>") || !strings.Contains(prompt, "maximum of 2 queries") {
		t.Fatalf("prompt missing query or count: %s", prompt)
	}
	if strings.Contains(prompt, "learnings from previous research") {
		t.Fatal("prompt should not mention learnings when none given")
	}
}

func TestLLMPlannerConditionsOnLearnings(t *testing.T) {
	m := &fakeModel{response: `{"queries":[{"query":"q","researchGoal":"g"}]}`}
	p := &LLMPlanner{Model: m, Logger: quietLogger}
	if _, err := p.Plan(context.Background(), "topic", 3, []string{"fact one", "fact two"}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	prompt := m.lastPrompt()
	if !strings.Contains(prompt, "fact one\nfact two") {
		t.Fatalf("prompt not conditioned on learnings: %s", prompt)
	}
}

func TestLLMPlannerInvalidCount(t *testing.T) {
	p := &LLMPlanner{Model: &fakeModel{}, Logger: quietLogger}
	if _, err := p.Plan(context.Background(), "topic", 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestLLMDistillerDistill(t *testing.T) {
	m := &fakeModel{response: "```json\n" + `{"learnings":["a","b","c","d"],"followUpQuestions":["x","y"]}` + "\n```"}
	d := &LLMDistiller{Model: m, Trimmer: estimateTrimmer, Logger: quietLogger}

	results := []search.Result{
		{Title: "T1", Body: "snippet one", Content: "full page one", URL: "https://one"},
		{Title: "T2", Body: "snippet two", URL: "https://two"},
		{Title: "T3", URL: "https://three"},
	}
	got, err := d.Distill(context.Background(), "topic", results, 3, 1)
	if err != nil {
		t.Fatalf("distill: %v", err)
	}
	if strings.Join(got.Learnings, ",") != "a,b,c" || strings.Join(got.FollowUpQuestions, ",") != "x" {
		t.Fatalf("limits not applied: %+v", got)
	}

	prompt := m.lastPrompt()
	for _, want := range []string{"<content>\nfull page one\n</content>", "<content>\nsnippet two\n</content>", "<content>\nT3\n</content>"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "snippet one") {
		t.Error("full content should take priority over the snippet")
	}
}

func TestLLMDistillerContents(t *testing.T) {
	d := &LLMDistiller{Trimmer: estimateTrimmer, ItemTokenBudget: 50}
	tests := []struct {
		name    string
		results []search.Result
		want    []string
	}{
		{"No results", nil, nil},
		{"Fallback synthesizes from url", []search.Result{{URL: "https://u"}}, []string{"\n\nSource: https://u"}},
		{"Empty items skipped", []search.Result{{}, {Body: " b "}}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.contents(tt.results)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("contents() = %q, want %q", got, tt.want)
			}
		})
	}

	long := strings.Repeat("word ", 1000)
	got := d.contents([]search.Result{{Content: long}})
	if len(got) != 1 || splitter.EstimateTokens(got[0]) > 50 {
		t.Fatalf("long content not trimmed to budget: %d tokens", splitter.EstimateTokens(got[0]))
	}
}

func TestLLMDistillerSentinel(t *testing.T) {
	m := &fakeModel{}
	d := &LLMDistiller{Model: m, Trimmer: estimateTrimmer, Logger: quietLogger}
	got, err := d.Distill(context.Background(), "obscure thing", []search.Result{{}}, 3, 2)
	if err != nil {
		t.Fatalf("distill: %v", err)
	}
	if len(got.Learnings) != 1 || got.Learnings[0] != "Unable to extract content for query: obscure thing" {
		t.Fatalf("learnings = %v", got.Learnings)
	}
	if len(got.FollowUpQuestions) != 1 || got.FollowUpQuestions[0] != "Retry search with different keywords for: obscure thing" {
		t.Fatalf("follow-ups = %v", got.FollowUpQuestions)
	}
	if len(m.requests) != 0 {
		t.Fatal("model should not be called without content")
	}
}

func TestLLMDistillerTimeout(t *testing.T) {
	d := &LLMDistiller{Model: &fakeModel{block: true}, Trimmer: estimateTrimmer, Timeout: 20 * time.Millisecond, Logger: quietLogger}
	_, err := d.Distill(context.Background(), "topic", []search.Result{{Content: "text"}}, 3, 2)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestComposerWriteReport(t *testing.T) {
	m := &fakeModel{response: `{"reportMarkdown":"# Report\n\nBody."}`}
	c := &Composer{Model: m, Trimmer: estimateTrimmer, Logger: quietLogger}

	got, err := c.WriteReport(context.Background(), "topic", []string{"L1", "L2"}, []string{"https://a", "https://b"})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	want := "# Report\n\nBody.\n\n## Sources\n\n- https://a\n- https://b\n"
	if got != want {
		t.Fatalf("report = %q, want %q", got, want)
	}
	if !strings.Contains(m.lastPrompt(), "<learning>\nL1\n</learning>\n<learning>\nL2\n</learning>") {
		t.Fatalf("learnings not tagged: %s", m.lastPrompt())
	}
}

func TestComposerWriteAnswer(t *testing.T) {
	m := &fakeModel{response: `{"exactAnswer":"42"}`}
	c := &Composer{Model: m, Trimmer: estimateTrimmer}
	got, err := c.WriteAnswer(context.Background(), "meaning of life?", []string{"L1"})
	if err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if got != "42" {
		t.Fatalf("answer = %q", got)
	}
}

func TestComposerTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	c := &Composer{Model: &fakeModel{block: true}, Trimmer: estimateTrimmer}
	if _, err := c.WriteAnswer(ctx, "q", nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSystemPromptDate(t *testing.T) {
	orig := now
	defer func() { now = orig }()
	now = func() time.Time { return time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC) }

	if got := systemPrompt(); !strings.Contains(got, "Today is 2025-03-09.") {
		t.Fatalf("system prompt missing date: %s", got)
	}
}
