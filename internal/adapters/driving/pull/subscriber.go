// Package pull receives Gmail watch notifications from a Pub/Sub pull
// subscription and hands them to the notification bridge.
package pull

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/custodia-labs/inboxd/internal/connectors/google/gmail"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Config configures the subscriber.
type Config struct {
	// ProjectID is the Google Cloud project. Optional when Subscription
	// is a full resource name.
	ProjectID string

	// Subscription is the subscription id or
	// "projects/{project}/subscriptions/{id}".
	Subscription string

	// CredentialsFile is an optional service account key.
	CredentialsFile string

	// MaxOutstanding caps unacknowledged messages held at once.
	MaxOutstanding int
}

// subscription is the part of *pubsub.Subscription the subscriber uses.
type subscription interface {
	Exists(ctx context.Context) (bool, error)
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Subscriber receives notifications until its context ends.
type Subscriber struct {
	bridge driving.NotificationBridge
	sub    subscription
	name   string
	close  func() error
	now    func() time.Time
}

// NewSubscriber connects to Pub/Sub.
func NewSubscriber(ctx context.Context, bridge driving.NotificationBridge, cfg Config) (*Subscriber, error) {
	project, id, err := ParseSubscription(cfg.Subscription, cfg.ProjectID)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	sub := client.Subscription(id)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}

	s := newSubscriber(bridge, sub, id)
	s.close = client.Close
	return s, nil
}

func newSubscriber(bridge driving.NotificationBridge, sub subscription, name string) *Subscriber {
	return &Subscriber{
		bridge: bridge,
		sub:    sub,
		name:   name,
		close:  func() error { return nil },
		now:    time.Now,
	}
}

// ParseSubscription splits a subscription reference into project and id.
func ParseSubscription(name, project string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: subscription is required", domain.ErrInvalidInput)
	}
	if parts := strings.Split(name, "/"); len(parts) > 1 {
		if len(parts) != 4 || parts[0] != "projects" || parts[2] != "subscriptions" || parts[1] == "" || parts[3] == "" {
			return "", "", fmt.Errorf("%w: malformed subscription %q", domain.ErrInvalidInput, name)
		}
		return parts[1], parts[3], nil
	}
	if project == "" {
		return "", "", fmt.Errorf("%w: project id is required for subscription %q", domain.ErrInvalidInput, name)
	}
	return project, name, nil
}

// Run receives messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	exists, err := s.sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", s.name, err)
	}
	if !exists {
		return fmt.Errorf("%w: subscription %s does not exist", domain.ErrNotFound, s.name)
	}

	logger.Info("Pub/Sub: listening on %s", s.name)
	err = s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg.ID, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive %s: %w", s.name, err)
	}
	return ctx.Err()
}

// handle reports whether the message should be acknowledged. Only
// failures a redelivery could fix are left unacknowledged.
func (s *Subscriber) handle(ctx context.Context, id string, data []byte) bool {
	n, err := gmail.ParseNotification(data, domain.NotificationPull, s.now())
	if err != nil {
		logger.Warn("Pub/Sub: dropping message %s: %v", id, err)
		return true
	}

	err = s.bridge.Notify(ctx, n)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		logger.Warn("Pub/Sub: ignoring notification for %s: %v", n.EmailAddress, err)
		return true
	default:
		logger.Error("Pub/Sub: notification for %s: %v", n.EmailAddress, err)
		return false
	}
}

// Close releases the client.
func (s *Subscriber) Close() error {
	return s.close()
}
