package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestDispatchOutboundRoutes(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}

	select {
	case msg := <-got:
		if msg.ChatID != "42" || msg.Content != "hi" {
			t.Errorf("routed message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message was not routed")
	}
}

func TestDispatchOutboundDropsUnknownChannel(t *testing.T) {
	b := NewMessageBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// Must not panic or block.
	b.Outbound <- OutboundMessage{Channel: "nobody", Content: "hi"}
	time.Sleep(50 * time.Millisecond)
}
