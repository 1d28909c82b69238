// Package prompt builds the bounded message payload sent to the
// language model: system instructions, condensed history, evidence
// records, then the current query. When the payload would overflow
// the budget, history is dropped before evidence, and always from
// the oldest end first.
package prompt

import (
	"fmt"
	"strings"

	"github.com/oakfieldlabs/advisorai/internal/llm"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

const systemInstructions = `You are an assistant for a financial advisor. Answer questions about the advisor's clients using only the client records provided in the conversation. If the records do not contain the answer, say so plainly. Never invent client details.`

type Assembler struct {
	historyWindow int
	budget        int
}

// NewAssembler configures the payload bounds. budget is measured in
// characters of message content, the same unit evidence retrieval
// budgets in.
func NewAssembler(historyWindow, budget int) *Assembler {
	return &Assembler{historyWindow: historyWindow, budget: budget}
}

// Assemble produces the model payload. The returned messages never
// exceed the configured budget in total content size.
func (a *Assembler) Assemble(history []store.Turn, evidence []store.Interaction, query string) []llm.Message {
	condensed := condenseHistory(history, a.historyWindow)

	for {
		msgs := build(condensed, evidence, query)
		if payloadSize(msgs) <= a.budget {
			return msgs
		}
		// History goes first, oldest turn first.
		if len(condensed) > 0 {
			condensed = condensed[1:]
			continue
		}
		// Then the lowest-ranked evidence records.
		if len(evidence) > 0 {
			evidence = evidence[:len(evidence)-1]
			continue
		}
		return clampFinal(msgs, a.budget)
	}
}

func build(history []store.Turn, evidence []store.Interaction, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemInstructions})

	for _, turn := range history {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}

	var final strings.Builder
	if len(evidence) > 0 {
		final.WriteString("Relevant client records:\n")
		for _, rec := range evidence {
			final.WriteString(renderRecord(rec))
			final.WriteString("\n")
		}
		final.WriteString("\n")
	}
	final.WriteString(query)
	msgs = append(msgs, llm.Message{Role: "user", Content: final.String()})
	return msgs
}

// renderRecord annotates a record with its source kind and timestamp
// so the model can cite where a fact came from.
func renderRecord(rec store.Interaction) string {
	header := fmt.Sprintf("[%s %s]", rec.Source, rec.OccurredAt.Format("2006-01-02"))
	if rec.Subject != "" {
		return fmt.Sprintf("%s %s: %s", header, rec.Subject, rec.Body)
	}
	return fmt.Sprintf("%s %s", header, rec.Body)
}

func condenseHistory(history []store.Turn, window int) []store.Turn {
	if window <= 0 || len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

func payloadSize(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total
}

// clampFinal is the last resort when instructions plus query alone
// overflow the budget: the final message is cut at the budget edge.
func clampFinal(msgs []llm.Message, budget int) []llm.Message {
	if budget <= 0 {
		return nil
	}
	out := make([]llm.Message, 0, len(msgs))
	used := 0
	for _, m := range msgs {
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		if len(m.Content) > remaining {
			m.Content = m.Content[:remaining]
		}
		used += len(m.Content)
		out = append(out, m)
	}
	return out
}
