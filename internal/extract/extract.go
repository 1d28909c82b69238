// Package extract finds candidate person-name spans in a user query.
// A deterministic rule pass always runs first; a model-assisted pass
// runs only when the rule pass comes up empty and the query carries
// cues suggesting a person is being referenced anyway.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/oakfieldlabs/advisorai/internal/llm"
)

const namePrompt = `You are a name extraction engine. Find substrings of the query that name a person.

Rules:
1. Return only substrings that appear verbatim in the query
2. Do not invent, expand, or correct names
3. Return an empty list if no person is named

Return strict JSON object: {"names":["..."]}

Query:
%s`

// minWordsForModelPass gates the model-assisted pass for queries with
// no pronoun cue: short queries without a capitalized token almost
// never hide a full name.
const minWordsForModelPass = 8

const modelPassMaxTokens = 256

// Capitalized words that start sentences and questions far more often
// than they name a person.
var stopwords = map[string]struct{}{
	"i": {}, "a": {}, "an": {}, "the": {}, "my": {}, "our": {},
	"he": {}, "she": {}, "him": {}, "hers": {}, "we": {}, "us": {},
	"they": {}, "them": {}, "his": {}, "her": {}, "their": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "it": {}, "its": {},
	"what": {}, "when": {}, "where": {}, "who": {}, "whom": {},
	"which": {}, "why": {}, "how": {},
	"did": {}, "does": {}, "do": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "can": {}, "could": {}, "should": {}, "would": {},
	"will": {}, "has": {}, "have": {}, "had": {},
	"please": {}, "tell": {}, "show": {}, "give": {}, "find": {},
	"remind": {}, "summarize": {}, "list": {},
	"and": {}, "or": {}, "but": {}, "if": {}, "in": {}, "on": {},
	"at": {}, "for": {}, "about": {}, "with": {}, "from": {},
	"to": {}, "of": {}, "by": {}, "any": {}, "all": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
	"january": {}, "february": {}, "march": {}, "april": {},
	"may": {}, "june": {}, "july": {}, "august": {},
	"september": {}, "october": {}, "november": {}, "december": {},
}

var pronounCues = []string{
	"he", "she", "him", "her", "his", "hers", "they", "them", "their",
}

var phraseCues = []string{
	"my client", "that client", "the client", "this client",
}

// allClientCues mark queries that plausibly reference any client at
// all rather than one person, e.g. "which clients mentioned baseball".
var allClientCues = []string{
	"any client", "all clients", "which clients", "any of my clients",
	"anyone", "who mentioned", "who talked", "who asked",
}

type Extractor struct {
	llm llm.Client
}

// NewExtractor builds an extractor. client may be nil, in which case
// the model-assisted pass is skipped and only rule results are used.
func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{llm: client}
}

// Extract returns candidate name spans in query order.
func (e *Extractor) Extract(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	spans := rulePass(query)
	if len(spans) > 0 {
		return spans, nil
	}
	if e.llm == nil || !needsModelPass(query) {
		return nil, nil
	}
	return e.modelPass(ctx, query)
}

// rulePass collects runs of adjacent capitalized tokens, dropping
// stoplisted words. "ask John Doe tomorrow" yields one span
// "John Doe".
func rulePass(query string) []string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var spans []string
	var run []string
	flush := func() {
		if len(run) > 0 {
			spans = append(spans, strings.Join(run, " "))
			run = nil
		}
	}
	for _, word := range words {
		word = strings.TrimSuffix(strings.TrimSuffix(word, "'s"), "'")
		if isNameToken(word) {
			run = append(run, word)
			continue
		}
		flush()
	}
	flush()
	return spans
}

func isNameToken(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLower(r) && r != '\'' {
			return false
		}
	}
	_, stopped := stopwords[strings.ToLower(word)]
	return !stopped
}

// needsModelPass decides whether a query with zero rule-pass spans
// still warrants a model call: it carries a pronoun or client-phrase
// cue, or is long enough to plausibly hide a name the rules missed.
func needsModelPass(query string) bool {
	if HasPronounCue(query) {
		return true
	}
	return len(strings.Fields(query)) >= minWordsForModelPass
}

// HasPronounCue reports whether the query references a person through
// a pronoun or a possessive client phrase rather than a name.
func HasPronounCue(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range phraseCues {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		for _, cue := range pronounCues {
			if word == cue {
				return true
			}
		}
	}
	return false
}

// ImpliesAllClients reports whether the query plausibly asks about
// the whole client base rather than a specific person.
func ImpliesAllClients(query string) bool {
	lower := strings.ToLower(query)
	for _, cue := range allClientCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func (e *Extractor) modelPass(ctx context.Context, query string) ([]string, error) {
	resp, err := e.llm.CompleteJSON(ctx, fmt.Sprintf(namePrompt, query), modelPassMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("model extraction: %w", err)
	}

	var out struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		log.Printf("[extract] discarding malformed extraction response: %v", err)
		return nil, nil
	}

	lowerQuery := strings.ToLower(query)
	var spans []string
	for _, name := range out.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !strings.Contains(lowerQuery, strings.ToLower(name)) {
			log.Printf("[extract] discarding name not present in query: %q", name)
			continue
		}
		spans = append(spans, name)
	}
	return spans, nil
}
