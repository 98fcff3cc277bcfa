package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/cradoe/lendflow/internal/notification"
)

type SentNotification struct {
	Kind      notification.Kind
	Recipient string
	Data      map[string]any
}

// Notifier records every message instead of delivering it.
type Notifier struct {
	mu   sync.Mutex
	sent []SentNotification

	// Fail makes every send of the listed kinds report failure.
	Fail map[notification.Kind]bool
}

func (n *Notifier) Send(ctx context.Context, kind notification.Kind, recipient string, data map[string]any) notification.Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Fail[kind] {
		return notification.Result{Err: errors.New("mock delivery failure")}
	}

	n.sent = append(n.sent, SentNotification{Kind: kind, Recipient: recipient, Data: data})
	return notification.Result{Success: true}
}

func (n *Notifier) Sent() []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]SentNotification, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *Notifier) Count(kind notification.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			count++
		}
	}
	return count
}

func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}
