// Package gateway wires the whole service together: store, contact
// index, model client, retrieval, the chat orchestrator, the source
// sync scheduler, and the message channels.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oakfieldlabs/advisorai/internal/bus"
	"github.com/oakfieldlabs/advisorai/internal/channel"
	"github.com/oakfieldlabs/advisorai/internal/chat"
	"github.com/oakfieldlabs/advisorai/internal/config"
	"github.com/oakfieldlabs/advisorai/internal/contacts"
	"github.com/oakfieldlabs/advisorai/internal/extract"
	"github.com/oakfieldlabs/advisorai/internal/llm"
	"github.com/oakfieldlabs/advisorai/internal/prompt"
	"github.com/oakfieldlabs/advisorai/internal/retrieve"
	"github.com/oakfieldlabs/advisorai/internal/store"
	sourcesync "github.com/oakfieldlabs/advisorai/internal/sync"
)

// Options for creating a Gateway. Client replaces the default model
// client in tests; SignalChan replaces the OS signal subscription.
type Options struct {
	Client     llm.Client
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg          *config.Config
	store        *store.Store
	index        *contacts.Index
	bus          *bus.MessageBus
	orchestrator *chat.Orchestrator
	channels     *channel.ChannelManager
	syncer       *sourcesync.Syncer
	scheduler    *sourcesync.Scheduler

	// sessionKeys maps a channel conversation to its chat session so
	// follow-ups from the same conversation thread into one session.
	// Only processLoop touches it.
	sessionKeys map[string]string

	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, sessionKeys: make(map[string]string)}

	st, err := store.Open(DBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	g.index = contacts.NewIndex()
	if known, err := st.ReadContacts(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load contacts: %w", err)
	} else if len(known) > 0 {
		g.index.Rebuild(known)
	}

	client := opts.Client
	if client == nil {
		client = llm.NewClient(cfg)
	}
	embedder := retrieve.NewEmbedder(cfg)

	retriever := retrieve.NewRetriever(st, embedder)
	assembler := prompt.NewAssembler(cfg.Advisor.HistoryWindow, cfg.Advisor.ContextBudget)
	extractor := extract.NewExtractor(client)
	g.orchestrator = chat.NewOrchestrator(st, g.index, extractor, retriever, assembler,
		client, cfg.Advisor.MaxAnswerTokens, cfg.Advisor.EvidenceBudget)

	crm, mail, calendar := sourcesync.NewSources(cfg.Sources)
	g.syncer = sourcesync.NewSyncer(st, g.index, crm, mail, calendar, embedder)
	g.scheduler = sourcesync.NewScheduler(g.syncer, cfg.Sync.Schedule)

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus, g.orchestrator, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.signalChan = opts.SignalChan
	return g, nil
}

// DBPath resolves the store location, defaulting under the config
// dir.
func DBPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Advisor.DBPath); p != "" {
		return p
	}
	return filepath.Join(config.ConfigDir(), "data", "advisor.db")
}

// Orchestrator exposes the chat pipeline for the CLI commands that
// drive it directly.
func (g *Gateway) Orchestrator() *chat.Orchestrator {
	return g.orchestrator
}

// Store exposes the persistence layer for the status command.
func (g *Gateway) Store() *store.Store {
	return g.store
}

// SyncOnce runs a single source sync pass outside the schedule.
func (g *Gateway) SyncOnce(ctx context.Context) error {
	return g.syncer.Run(ctx)
}

// ImportContacts loads a contact book from a local JSON file into the
// store and refreshes the contact index. Returns the total contact
// count after the import.
func (g *Gateway) ImportContacts(ctx context.Context, path string) (int, error) {
	src := &sourcesync.FileCRMSource{Path: path}
	syncer := sourcesync.NewSyncer(g.store, g.index, src, nil, nil, nil)
	if err := syncer.Run(ctx); err != nil {
		return 0, err
	}
	known, err := g.store.ReadContacts()
	if err != nil {
		return 0, err
	}
	return len(known), nil
}

// Run starts all components and blocks until an interrupt arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.scheduler.Start(ctx); err != nil {
		log.Printf("[gateway] sync scheduler start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop consumes inbound channel messages and routes each
// through the chat pipeline. Conversations keep their session across
// messages via sessionKeys.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			key := msg.SessionKey()
			reply, err := g.orchestrator.SubmitMessage(ctx, g.sessionKeys[key], msg.SenderID, msg.Content)
			if err != nil {
				log.Printf("[gateway] submit error: %v", err)
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: "Sorry, I could not process that message.",
				}
				continue
			}
			g.sessionKeys[key] = reply.SessionID

			g.bus.Outbound <- bus.OutboundMessage{
				Channel:          msg.Channel,
				ChatID:           msg.ChatID,
				Content:          reply.AssistantText,
				SessionID:        reply.SessionID,
				ResolvedContacts: reply.ResolvedContacts,
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.scheduler.Stop()
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
