package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/oakfieldlabs/advisorai/internal/llm"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, maxTokens int) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestRulePass(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"What did Sarah say about retirement?", []string{"Sarah"}},
		{"remind me what John said", []string{"John"}},
		{"schedule with John Doe and Jane", []string{"John Doe", "Jane"}},
		{"What did the market do today?", nil},
		{"Tell me about Monday's meeting", nil},
		{"summarize Sarah's portfolio notes", []string{"Sarah"}},
		{"He mentioned AAPL, what was that about?", nil},
		{"She asked about the rollover", nil},
		{"They want a meeting with Jane", []string{"Jane"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := rulePass(tc.query)
		if len(got) != len(tc.want) {
			t.Errorf("rulePass(%q) = %v, want %v", tc.query, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("rulePass(%q)[%d] = %q, want %q", tc.query, i, got[i], tc.want[i])
			}
		}
	}
}

func TestEmptyQuerySkipsModel(t *testing.T) {
	fake := &fakeLLM{response: `{"names":["Ghost"]}`}
	ext := NewExtractor(fake)

	spans, err := ext.Extract(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if spans != nil {
		t.Errorf("spans = %v, want nil", spans)
	}
	if fake.calls != 0 {
		t.Errorf("model called %d times for empty query", fake.calls)
	}
}

func TestRuleHitSkipsModel(t *testing.T) {
	fake := &fakeLLM{response: `{"names":["Someone Else"]}`}
	ext := NewExtractor(fake)

	spans, err := ext.Extract(context.Background(), "What did Sarah say?")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 1 || spans[0] != "Sarah" {
		t.Errorf("spans = %v", spans)
	}
	if fake.calls != 0 {
		t.Errorf("model called despite rule-pass hit")
	}
}

func TestModelPassVerbatimFilter(t *testing.T) {
	fake := &fakeLLM{response: `{"names":["sarah johnson","Bob Invented"]}`}
	ext := NewExtractor(fake)

	spans, err := ext.Extract(context.Background(), "did my client sarah johnson ask about bonds")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 1 || spans[0] != "sarah johnson" {
		t.Errorf("spans = %v, want [sarah johnson]", spans)
	}
	if fake.calls != 1 {
		t.Errorf("model calls = %d, want 1", fake.calls)
	}
}

func TestModelPassMalformedResponse(t *testing.T) {
	fake := &fakeLLM{response: `not json at all`}
	ext := NewExtractor(fake)

	spans, err := ext.Extract(context.Background(), "what did my client say about the estate plan")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if spans != nil {
		t.Errorf("spans = %v, want nil", spans)
	}
}

func TestModelPassErrorPropagates(t *testing.T) {
	fake := &fakeLLM{err: llm.ErrQuotaExceeded}
	ext := NewExtractor(fake)

	_, err := ext.Extract(context.Background(), "what did she say about the estate plan")
	if !errors.Is(err, llm.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestShortCuelessQuerySkipsModel(t *testing.T) {
	fake := &fakeLLM{response: `{"names":[]}`}
	ext := NewExtractor(fake)

	spans, err := ext.Extract(context.Background(), "summarize recent activity")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if spans != nil || fake.calls != 0 {
		t.Errorf("spans = %v, model calls = %d", spans, fake.calls)
	}
}

func TestHasPronounCue(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"he mentioned AAPL", true},
		{"what did she say", true},
		{"my client asked about bonds", true},
		{"the shenanigans continued", false},
		{"summarize recent activity", false},
	}
	for _, tc := range cases {
		if got := HasPronounCue(tc.query); got != tc.want {
			t.Errorf("HasPronounCue(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestImpliesAllClients(t *testing.T) {
	if !ImpliesAllClients("who mentioned baseball?") {
		t.Error("who mentioned baseball should imply all clients")
	}
	if ImpliesAllClients("what did Sarah say") {
		t.Error("named query should not imply all clients")
	}
}
