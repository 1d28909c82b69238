// Package retrieve ranks a contact's interaction records against a
// query and returns the best ones within a character budget. Ranking
// is embedding cosine similarity when an embedder is configured,
// full-text keyword match otherwise, with recency breaking ties.
package retrieve

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/oakfieldlabs/advisorai/internal/store"
)

// keywordLimit caps the FTS candidate set before budget truncation.
const keywordLimit = 50

type Retriever struct {
	store    *store.Store
	embedder Embedder
}

// NewRetriever builds a retriever. embedder may be nil; retrieval
// then uses keyword search only.
func NewRetriever(st *store.Store, embedder Embedder) *Retriever {
	return &Retriever{store: st, embedder: embedder}
}

// Retrieve returns interaction records for the given contacts, ranked
// by relevance to query and truncated to budget characters. An empty
// contactIDs set means the whole interaction pool. A record that would
// overflow the budget is dropped whole rather than cut mid-sentence.
func (r *Retriever) Retrieve(ctx context.Context, contactIDs []string, query string, budget int) ([]store.Interaction, error) {
	ranked, err := r.rank(ctx, contactIDs, query)
	if err != nil {
		return nil, err
	}
	return truncateToBudget(ranked, budget), nil
}

func (r *Retriever) rank(ctx context.Context, contactIDs []string, query string) ([]store.Interaction, error) {
	if r.embedder != nil {
		ranked, err := r.rankByEmbedding(ctx, contactIDs, query)
		if err == nil {
			return ranked, nil
		}
		log.Printf("[retrieve] embedding ranking unavailable, falling back to keyword search: %v", err)
	}
	return r.rankByKeyword(contactIDs, query)
}

func (r *Retriever) rankByEmbedding(ctx context.Context, contactIDs []string, query string) ([]store.Interaction, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := r.store.ReadInteractionVectors(contactIDs)
	if err != nil {
		return nil, fmt.Errorf("read interaction vectors: %w", err)
	}

	type scored struct {
		rec      store.Interaction
		score    float64
		hasScore bool
	}
	items := make([]scored, 0, len(rows))
	for _, row := range rows {
		item := scored{rec: row.Interaction}
		if len(row.Embedding) > 0 {
			vec, err := DecodeVector(row.Embedding)
			if err == nil {
				if sim, err := CosineSimilarity(queryVec, vec); err == nil {
					item.score = sim
					item.hasScore = true
				}
			}
		}
		items = append(items, item)
	}

	// Scored records first by similarity; unscored records trail,
	// ordered by recency like everything else on a tie.
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.hasScore != b.hasScore {
			return a.hasScore
		}
		if a.hasScore && a.score != b.score {
			return a.score > b.score
		}
		if !a.rec.OccurredAt.Equal(b.rec.OccurredAt) {
			return a.rec.OccurredAt.After(b.rec.OccurredAt)
		}
		return a.rec.ID < b.rec.ID
	})

	out := make([]store.Interaction, len(items))
	for i, item := range items {
		out[i] = item.rec
	}
	return out, nil
}

func (r *Retriever) rankByKeyword(contactIDs []string, query string) ([]store.Interaction, error) {
	match := ftsQuery(query)
	if match != "" {
		hits, err := r.store.SearchInteractions(match, contactIDs, keywordLimit)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}

	// Nothing matched the query text; fall back to recency order.
	recent, err := r.store.ReadInteractions(contactIDs)
	if err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	if len(recent) > keywordLimit {
		recent = recent[:keywordLimit]
	}
	return recent, nil
}

func truncateToBudget(records []store.Interaction, budget int) []store.Interaction {
	if budget <= 0 {
		return nil
	}
	var out []store.Interaction
	used := 0
	for _, rec := range records {
		cost := recordCost(rec)
		if used+cost > budget {
			break
		}
		out = append(out, rec)
		used += cost
	}
	return out
}

// recordCost is the character charge for including a record, matching
// the unit the prompt assembler budgets in.
func recordCost(rec store.Interaction) int {
	return len(rec.Subject) + len(rec.Body)
}

// ftsQuery turns free text into a quoted OR query so user punctuation
// never reaches the FTS parser.
func ftsQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}
