package retrieve

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/store"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedInteraction(t *testing.T, st *store.Store, id, contactID, subject, body string, at time.Time, vec []float32) {
	t.Helper()
	rec := store.Interaction{
		ID:         id,
		ContactID:  contactID,
		Source:     store.SourceMail,
		SourceRef:  "ref-" + id,
		OccurredAt: at,
		Subject:    subject,
		Body:       body,
	}
	if err := st.UpsertInteraction(rec); err != nil {
		t.Fatalf("upsert interaction %s: %v", id, err)
	}
	if vec != nil {
		blob, err := EncodeVector(vec)
		if err != nil {
			t.Fatalf("encode vector: %v", err)
		}
		if err := st.SetInteractionEmbedding(id, blob, len(vec)); err != nil {
			t.Fatalf("set embedding: %v", err)
		}
	}
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// i-far is newest but least similar to the query vector.
	seedInteraction(t, st, "i-near", "c-1", "retirement plan", "talked about retirement", base, []float32{1, 0, 0})
	seedInteraction(t, st, "i-mid", "c-1", "portfolio", "portfolio rebalance", base.Add(time.Hour), []float32{0.5, 0.5, 0})
	seedInteraction(t, st, "i-far", "c-1", "golf", "tee time", base.Add(2*time.Hour), []float32{0, 1, 0})

	emb := &fakeEmbedder{vectors: map[string][]float32{"retirement": {1, 0, 0}}}
	r := NewRetriever(st, emb)

	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "retirement", 10000)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].ID != "i-near" || got[1].ID != "i-mid" || got[2].ID != "i-far" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRetrieveRecencyBreaksTies(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	same := []float32{1, 0, 0}
	seedInteraction(t, st, "i-old", "c-1", "a", "same topic", base, same)
	seedInteraction(t, st, "i-new", "c-1", "b", "same topic", base.Add(time.Hour), same)

	emb := &fakeEmbedder{vectors: map[string][]float32{"topic": {1, 0, 0}}}
	r := NewRetriever(st, emb)

	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "topic", 10000)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got[0].ID != "i-new" {
		t.Errorf("first record = %s, want i-new", got[0].ID)
	}
}

func TestRetrieveBudgetDropsWholeRecords(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedInteraction(t, st, "i-1", "c-1", "ab", "cdefgh", base, []float32{1, 0, 0})          // cost 8
	seedInteraction(t, st, "i-2", "c-1", "ab", "cdefgh", base.Add(time.Hour), []float32{0.9, 0.1, 0}) // cost 8

	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(st, emb)

	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "q", 12)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "i-1" {
		t.Errorf("records = %+v, want only i-1", got)
	}

	if got, _ := r.Retrieve(context.Background(), []string{"c-1"}, "q", 0); got != nil {
		t.Errorf("zero budget returned %d records", len(got))
	}
}

func TestRetrieveScopedToContacts(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedInteraction(t, st, "i-mine", "c-1", "s", "mine", base, []float32{1, 0, 0})
	seedInteraction(t, st, "i-other", "c-2", "s", "other", base, []float32{1, 0, 0})

	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(st, emb)

	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "q", 10000)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "i-mine" {
		t.Errorf("records = %+v", got)
	}

	// Empty contact set means the full pool.
	got, err = r.Retrieve(context.Background(), nil, "q", 10000)
	if err != nil {
		t.Fatalf("Retrieve all: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("all-clients pool = %d records, want 2", len(got))
	}
}

func TestRetrieveKeywordFallback(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedInteraction(t, st, "i-hit", "c-1", "retirement account", "rollover details", base, nil)
	seedInteraction(t, st, "i-miss", "c-1", "golf outing", "tee time", base.Add(time.Hour), nil)

	// Embedder fails; ranking should degrade to keyword search.
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	r := NewRetriever(st, emb)

	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "retirement rollover", 10000)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].ID != "i-hit" {
		t.Errorf("records = %+v, want i-hit first", got)
	}
}

func TestRetrieveNoEmbedderRecencyFallback(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedInteraction(t, st, "i-old", "c-1", "s", "alpha", base, nil)
	seedInteraction(t, st, "i-new", "c-1", "s", "beta", base.Add(time.Hour), nil)

	r := NewRetriever(st, nil)

	// Query words match nothing; result is recency-ordered.
	got, err := r.Retrieve(context.Background(), []string{"c-1"}, "zzz qqq", 10000)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 || got[0].ID != "i-new" {
		t.Errorf("records = %+v", got)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75}
	blob, err := EncodeVector(vec)
	if err != nil {
		t.Fatalf("EncodeVector: %v", err)
	}
	got, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value[%d] = %f, want %f", i, got[i], vec[i])
		}
	}

	if _, err := DecodeVector(blob[:len(blob)-1]); err == nil {
		t.Error("truncated blob decoded without error")
	}
	if _, err := EncodeVector(nil); err == nil {
		t.Error("empty vector encoded without error")
	}

	huge := make([]byte, blobHeaderSize)
	binary.LittleEndian.PutUint32(huge, ^uint32(0))
	if _, err := DecodeVector(huge); err == nil {
		t.Error("oversized dimension header decoded without error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); err != nil || s < 0.999 {
		t.Errorf("identical vectors: s=%f err=%v", s, err)
	}
	if s, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); err != nil || s > 0.001 {
		t.Errorf("orthogonal vectors: s=%f err=%v", s, err)
	}
	if _, err := CosineSimilarity([]float32{1, 0}, []float32{1}); err == nil {
		t.Error("dimension mismatch accepted")
	}
	if _, err := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); err == nil {
		t.Error("zero vector accepted")
	}
}
