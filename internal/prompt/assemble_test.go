package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/store"
)

func turn(role store.Role, content string) store.Turn {
	return store.Turn{Role: role, Content: content}
}

func record(id, subject, body string, at time.Time) store.Interaction {
	return store.Interaction{ID: id, Source: store.SourceMail, Subject: subject, Body: body, OccurredAt: at}
}

func TestAssembleOrdering(t *testing.T) {
	a := NewAssembler(12, 100000)
	history := []store.Turn{
		turn(store.RoleUser, "what did Sarah say"),
		turn(store.RoleAssistant, "she asked about bonds"),
	}
	evidence := []store.Interaction{
		record("i-1", "retirement", "rollover details", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}

	msgs := a.Assemble(history, evidence, "and about stocks?")

	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first role = %s", msgs[0].Role)
	}
	if msgs[1].Content != "what did Sarah say" || msgs[2].Content != "she asked about bonds" {
		t.Errorf("history out of order: %q, %q", msgs[1].Content, msgs[2].Content)
	}
	final := msgs[3].Content
	if !strings.Contains(final, "[mail 2026-03-01] retirement: rollover details") {
		t.Errorf("evidence annotation missing: %q", final)
	}
	if !strings.HasSuffix(final, "and about stocks?") {
		t.Errorf("query not last: %q", final)
	}
	evidenceIdx := strings.Index(final, "retirement")
	queryIdx := strings.Index(final, "and about stocks?")
	if evidenceIdx > queryIdx {
		t.Error("evidence rendered after query")
	}
}

func TestAssembleHistoryWindow(t *testing.T) {
	a := NewAssembler(2, 100000)
	history := []store.Turn{
		turn(store.RoleUser, "oldest"),
		turn(store.RoleAssistant, "middle"),
		turn(store.RoleUser, "newest"),
	}

	msgs := a.Assemble(history, nil, "q")
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[1].Content != "middle" || msgs[2].Content != "newest" {
		t.Errorf("window kept wrong turns: %q, %q", msgs[1].Content, msgs[2].Content)
	}
}

func TestAssembleTruncatesHistoryBeforeEvidence(t *testing.T) {
	evidence := []store.Interaction{
		record("i-1", "", strings.Repeat("e", 200), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	history := []store.Turn{
		turn(store.RoleUser, strings.Repeat("h", 300)),
		turn(store.RoleAssistant, "kept maybe"),
	}

	budget := len(systemInstructions) + 300
	a := NewAssembler(12, budget)
	msgs := a.Assemble(history, evidence, "q")

	joined := ""
	for _, m := range msgs {
		joined += m.Content
	}
	if strings.Contains(joined, strings.Repeat("h", 300)) {
		t.Error("oversized history turn survived truncation")
	}
	if !strings.Contains(joined, strings.Repeat("e", 200)) {
		t.Error("evidence was dropped while history could still be cut")
	}
}

func TestAssembleBudgetLaw(t *testing.T) {
	histories := [][]store.Turn{
		nil,
		{turn(store.RoleUser, strings.Repeat("a", 500))},
		{turn(store.RoleUser, strings.Repeat("a", 500)), turn(store.RoleAssistant, strings.Repeat("b", 500))},
	}
	evidences := [][]store.Interaction{
		nil,
		{record("i-1", "s", strings.Repeat("x", 400), time.Now())},
		{
			record("i-1", "s", strings.Repeat("x", 400), time.Now()),
			record("i-2", "t", strings.Repeat("y", 400), time.Now()),
		},
	}
	budgets := []int{50, 400, 1200, 5000}

	for _, budget := range budgets {
		a := NewAssembler(12, budget)
		for _, h := range histories {
			for _, e := range evidences {
				msgs := a.Assemble(h, e, "what happened?")
				if size := payloadSize(msgs); size > budget {
					t.Errorf("budget %d exceeded: payload %d (history=%d evidence=%d)", budget, size, len(h), len(e))
				}
			}
		}
	}
}
