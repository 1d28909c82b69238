package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/config"
)

const sourceRequestTimeout = 30 * time.Second

// NewSources builds the configured source clients. A source with no
// URL comes back nil and the sync pass skips it.
func NewSources(cfg config.SourcesConfig) (CRMSource, MailSource, CalendarSource) {
	var crm CRMSource
	var mail MailSource
	var calendar CalendarSource
	if cfg.CRMURL != "" {
		crm = &httpCRMSource{httpSource{baseURL: cfg.CRMURL, apiKey: cfg.APIKey}}
	}
	if cfg.MailURL != "" {
		mail = &httpMailSource{httpSource{baseURL: cfg.MailURL, apiKey: cfg.APIKey}}
	}
	if cfg.CalendarURL != "" {
		calendar = &httpCalendarSource{httpSource{baseURL: cfg.CalendarURL, apiKey: cfg.APIKey}}
	}
	return crm, mail, calendar
}

type httpSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (h *httpSource) get(ctx context.Context, path string, query url.Values, out any) error {
	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build source request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	client := h.client
	if client == nil {
		client = &http.Client{Timeout: sourceRequestTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetch %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type contactPayload struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	PrimaryEmail    string   `json:"primaryEmail"`
	SecondaryEmails []string `json:"secondaryEmails,omitempty"`
}

func (p contactPayload) record() ContactRecord {
	return ContactRecord{
		ID:              p.ID,
		Name:            p.Name,
		PrimaryEmail:    p.PrimaryEmail,
		SecondaryEmails: p.SecondaryEmails,
	}
}

type recordPayload struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurredAt"`
	Sender       string    `json:"sender,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
}

func (p recordPayload) record() SourceRecord {
	return SourceRecord{
		SourceRef:    p.ID,
		OccurredAt:   p.OccurredAt,
		Sender:       p.Sender,
		Participants: p.Participants,
		Subject:      p.Subject,
		Body:         p.Body,
	}
}

type httpCRMSource struct {
	httpSource
}

func (s *httpCRMSource) FetchContacts(ctx context.Context) ([]ContactRecord, error) {
	var payload struct {
		Contacts []contactPayload `json:"contacts"`
	}
	if err := s.get(ctx, "/contacts", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]ContactRecord, 0, len(payload.Contacts))
	for _, c := range payload.Contacts {
		out = append(out, c.record())
	}
	return out, nil
}

type httpMailSource struct {
	httpSource
}

func (s *httpMailSource) FetchMessages(ctx context.Context, since time.Time) ([]SourceRecord, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	var payload struct {
		Messages []recordPayload `json:"messages"`
	}
	if err := s.get(ctx, "/messages", query, &payload); err != nil {
		return nil, err
	}
	out := make([]SourceRecord, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		out = append(out, m.record())
	}
	return out, nil
}

type httpCalendarSource struct {
	httpSource
}

func (s *httpCalendarSource) FetchEvents(ctx context.Context, since time.Time) ([]SourceRecord, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	var payload struct {
		Events []recordPayload `json:"events"`
	}
	if err := s.get(ctx, "/events", query, &payload); err != nil {
		return nil, err
	}
	out := make([]SourceRecord, 0, len(payload.Events))
	for _, e := range payload.Events {
		out = append(out, e.record())
	}
	return out, nil
}

// FileCRMSource reads contacts from a local JSON file, for onboarding
// a contact book without a live CRM endpoint. The file holds either a
// bare array of contacts or an object with a "contacts" key.
type FileCRMSource struct {
	Path string
}

func (s *FileCRMSource) FetchContacts(ctx context.Context) ([]ContactRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read contact file: %w", err)
	}

	var wrapped struct {
		Contacts []contactPayload `json:"contacts"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.Contacts == nil {
		var bare []contactPayload
		if err := json.Unmarshal(data, &bare); err != nil {
			return nil, fmt.Errorf("parse contact file: %w", err)
		}
		wrapped.Contacts = bare
	}

	out := make([]ContactRecord, 0, len(wrapped.Contacts))
	for _, c := range wrapped.Contacts {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("parse contact file: contact missing id or name")
		}
		out = append(out, c.record())
	}
	return out, nil
}
