package qstash

import (
	"context"

	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

// Notifier publishes pending-decision notices to the configured destination.
// The call id doubles as the deduplication id, so a notice re-sent after a
// retried invocation is delivered once.
type Notifier struct {
	client *Client
}

var _ contractx.DecisionNotifier = (*Notifier)(nil)

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) NotifyPendingDecision(ctx context.Context, notice contractx.PendingDecision) error {
	if !n.client.CanPublish() {
		return ErrNotConfigured
	}
	_, err := n.client.Publish(ctx, n.client.destination, notice, PublishOptions{
		DeduplicationID: notice.SessionID + "-" + notice.CallID,
	})
	return err
}
