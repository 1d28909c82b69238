// Package chat drives one user message through extraction,
// disambiguation, retrieval, and composition, and persists exactly
// one assistant turn in reply. It is the only component that keeps
// cross-call state, and that state is the per-session serialization
// it enforces.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakfieldlabs/advisorai/internal/contacts"
	"github.com/oakfieldlabs/advisorai/internal/extract"
	"github.com/oakfieldlabs/advisorai/internal/llm"
	"github.com/oakfieldlabs/advisorai/internal/prompt"
	"github.com/oakfieldlabs/advisorai/internal/resolve"
	"github.com/oakfieldlabs/advisorai/internal/retrieve"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

type State string

const (
	StateIdle                  State = "idle"
	StateExtracting            State = "extracting"
	StateResolving             State = "resolving"
	StateAwaitingClarification State = "awaiting_clarification"
	StateRetrieving            State = "retrieving"
	StateComposing             State = "composing"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

const (
	titleWordLimit = 6
	titleMaxLen    = 48

	// One retry after a short pause when reading the interaction
	// store fails; persistent failure becomes a failure turn.
	retrievalRetryBackoff = 500 * time.Millisecond
)

const (
	msgSpecifyClient   = "I couldn't tell which client you mean. Could you name the client you're asking about?"
	msgNoContactFound  = "I couldn't find a matching client in your contacts. Could you check the name?"
	msgServiceFailure  = "I couldn't generate an answer right now because the language service is unavailable. Please try again shortly."
	msgQuotaFailure    = "I couldn't generate an answer right now because the language service quota is exhausted. Please try again later."
	msgRetrievalFailed = "I couldn't read the client records needed to answer. Please try again shortly."
)

// Reply is the outcome of one submitted message.
type Reply struct {
	SessionID        string
	SessionTitle     string
	AssistantText    string
	ResolvedContacts []string
}

type Orchestrator struct {
	store     *store.Store
	index     *contacts.Index
	extractor *extract.Extractor
	retriever *retrieve.Retriever
	assembler *prompt.Assembler
	llm       llm.Client

	maxAnswerTokens int
	evidenceBudget  int

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

func NewOrchestrator(st *store.Store, index *contacts.Index, extractor *extract.Extractor, retriever *retrieve.Retriever, assembler *prompt.Assembler, client llm.Client, maxAnswerTokens, evidenceBudget int) *Orchestrator {
	return &Orchestrator{
		store:           st,
		index:           index,
		extractor:       extractor,
		retriever:       retriever,
		assembler:       assembler,
		llm:             client,
		maxAnswerTokens: maxAnswerTokens,
		evidenceBudget:  evidenceBudget,
		sessions:        make(map[string]*sync.Mutex),
	}
}

// SubmitMessage processes one user message. An empty sessionID creates
// a new session titled from the first words of the text. Messages in
// the same session are serialized; a later message never resolves
// against a still-in-flight earlier turn.
func (o *Orchestrator) SubmitMessage(ctx context.Context, sessionID, userID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}

	session, err := o.ensureSession(sessionID, userID, text)
	if err != nil {
		return nil, err
	}

	lock := o.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	// The user's turn is durable before any processing so a crash
	// never loses their input.
	userTurn, err := o.store.AppendTurn(store.Turn{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   text,
	})
	if err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	history, err := o.historyBefore(session.ID, userTurn.Seq)
	if err != nil {
		return o.fail(session, userTurn, StateIdle, msgRetrievalFailed, err)
	}

	return o.process(ctx, session, userTurn, history, text)
}

func (o *Orchestrator) process(ctx context.Context, session store.Session, userTurn store.Turn, history []store.Turn, query string) (*Reply, error) {
	state := transition(session.ID, StateIdle, StateExtracting)

	spans, err := o.extractor.Extract(ctx, query)
	if err != nil {
		return o.failClassified(session, userTurn, state, err)
	}

	state = transition(session.ID, state, StateResolving)
	snap := o.index.Snapshot()
	candidates := resolve.Resolve(snap, spans, history)

	if ambiguous := ambiguousCandidates(candidates); len(ambiguous) > 0 {
		transition(session.ID, state, StateAwaitingClarification)
		return o.clarify(session, userTurn, snap, ambiguous)
	}

	contactIDs, outcome := o.chooseContacts(candidates, spans, query, history)
	switch outcome {
	case outcomeNoContact:
		transition(session.ID, state, StateDone)
		return o.respond(session, userTurn, msgNoContactFound, nil)
	case outcomeNeedClient:
		transition(session.ID, state, StateAwaitingClarification)
		return o.respond(session, userTurn, msgSpecifyClient, nil)
	}

	state = transition(session.ID, state, StateRetrieving)
	evidence, err := o.retrieveWithRetry(ctx, contactIDs, query)
	if err != nil {
		return o.fail(session, userTurn, state, msgRetrievalFailed, err)
	}

	state = transition(session.ID, state, StateComposing)
	msgs := o.assembler.Assemble(history, evidence, query)
	answer, err := o.llm.Complete(ctx, msgs, o.maxAnswerTokens)
	if err != nil {
		return o.failClassified(session, userTurn, state, err)
	}

	transition(session.ID, state, StateDone)
	return o.respond(session, userTurn, answer, contactIDs)
}

type contactOutcome int

const (
	outcomeResolved contactOutcome = iota
	outcomeNoContact
	outcomeNeedClient
)

// chooseContacts turns resolution candidates into the contact scope
// for retrieval. Empty ids with outcomeResolved means the whole
// client base.
func (o *Orchestrator) chooseContacts(candidates []resolve.Candidate, spans []string, query string, history []store.Turn) ([]string, contactOutcome) {
	var ids []string
	seen := make(map[string]struct{})
	resolvedAny := false
	for _, cand := range candidates {
		switch cand.Confidence {
		case resolve.ConfidenceExact, resolve.ConfidencePartial, resolve.ConfidenceHistory:
			resolvedAny = true
			for _, id := range cand.ContactIDs {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	if resolvedAny {
		return ids, outcomeResolved
	}

	if len(spans) > 0 {
		// Names were extracted but none matched a contact.
		return nil, outcomeNoContact
	}

	if extract.ImpliesAllClients(query) {
		return nil, outcomeResolved
	}
	if id, ok := resolve.FromHistory(history); ok {
		return []string{id}, outcomeResolved
	}
	if extract.HasPronounCue(query) {
		return nil, outcomeNeedClient
	}
	// No person reference at all; answer over the whole record pool.
	return nil, outcomeResolved
}

func (o *Orchestrator) retrieveWithRetry(ctx context.Context, contactIDs []string, query string) ([]store.Interaction, error) {
	evidence, err := o.retriever.Retrieve(ctx, contactIDs, query, o.evidenceBudget)
	if err == nil {
		return evidence, nil
	}
	log.Printf("[chat] retrieval failed, retrying once: %v", err)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retrievalRetryBackoff):
	}
	return o.retriever.Retrieve(ctx, contactIDs, query, o.evidenceBudget)
}

// clarify emits a question enumerating the ambiguous names. The
// assistant turn carries no resolved contacts, so the user's next
// message threads back through the history-match path.
func (o *Orchestrator) clarify(session store.Session, userTurn store.Turn, snap *contacts.Snapshot, ambiguous []resolve.Candidate) (*Reply, error) {
	names := make([]string, 0, 4)
	seen := make(map[string]struct{})
	for _, cand := range ambiguous {
		for _, id := range cand.ContactIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if c, ok := snap.ByID(id); ok {
				names = append(names, c.Name)
			}
		}
	}
	question := fmt.Sprintf("I found more than one matching client: %s. Which one do you mean?", strings.Join(names, ", "))
	return o.respond(session, userTurn, question, nil)
}

// respond persists the assistant turn and builds the reply. The
// unique reply index in the store guarantees a user turn is never
// answered twice even under a caller race.
func (o *Orchestrator) respond(session store.Session, userTurn store.Turn, text string, contactIDs []string) (*Reply, error) {
	_, err := o.store.AppendTurn(store.Turn{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		Role:             store.RoleAssistant,
		Content:          text,
		ResolvedContacts: contactIDs,
		ReplyTo:          userTurn.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	return &Reply{
		SessionID:        session.ID,
		SessionTitle:     session.Title,
		AssistantText:    text,
		ResolvedContacts: contactIDs,
	}, nil
}

// fail persists a user-visible failure turn instead of inventing an
// answer. The user's message stays persisted untouched.
func (o *Orchestrator) fail(session store.Session, userTurn store.Turn, from State, message string, cause error) (*Reply, error) {
	log.Printf("[chat] session %s: %s -> %s: %v", session.ID, from, StateFailed, cause)
	return o.respond(session, userTurn, message, nil)
}

func (o *Orchestrator) failClassified(session store.Session, userTurn store.Turn, from State, cause error) (*Reply, error) {
	message := msgServiceFailure
	if errors.Is(cause, llm.ErrQuotaExceeded) {
		message = msgQuotaFailure
	}
	return o.fail(session, userTurn, from, message, cause)
}

func (o *Orchestrator) ensureSession(sessionID, userID, text string) (store.Session, error) {
	if sessionID != "" {
		session, err := o.store.GetSession(sessionID)
		if err != nil {
			return store.Session{}, fmt.Errorf("load session: %w", err)
		}
		return session, nil
	}
	session := store.Session{
		ID:      uuid.NewString(),
		OwnerID: userID,
		Title:   titleFromText(text),
	}
	if err := o.store.CreateSession(session); err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// historyBefore returns the session's turns preceding the given
// sequence number, so the turn being processed is not its own
// context.
func (o *Orchestrator) historyBefore(sessionID string, seq int64) ([]store.Turn, error) {
	history, err := o.store.ReadHistory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := history[:0]
	for _, turn := range history {
		if turn.Seq < seq {
			out = append(out, turn)
		}
	}
	return out, nil
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.sessions[sessionID] = lock
	}
	return lock
}

func ambiguousCandidates(candidates []resolve.Candidate) []resolve.Candidate {
	var out []resolve.Candidate
	for _, cand := range candidates {
		if cand.Confidence == resolve.ConfidenceNoneUnique {
			out = append(out, cand)
		}
	}
	return out
}

func transition(sessionID string, from, to State) State {
	log.Printf("[chat] session %s: %s -> %s", sessionID, from, to)
	return to
}

func titleFromText(text string) string {
	words := strings.Fields(text)
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	title := strings.Join(words, " ")
	if len(title) > titleMaxLen {
		title = strings.TrimSpace(title[:titleMaxLen])
	}
	return title
}
