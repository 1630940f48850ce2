package gmail

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/custodia-labs/inboxd/internal/connectors/google"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Verify interface compliance.
var (
	_ driven.MailProvider   = (*Provider)(nil)
	_ driven.WatchRegistrar = (*Provider)(nil)
)

const me = "me"

// historyTypes are the change kinds requested from history.list.
var historyTypes = []string{"messageAdded", "messageDeleted", "labelAdded", "labelRemoved"}

// Provider is the Gmail implementation of the mail provider port for one account.
type Provider struct {
	svc       *gmail.Service
	cfg       *Config
	limiter   *google.RateLimiter
	accountID string
}

// NewProvider creates a provider for an account. The limiter may be shared
// with other providers of the same account.
func NewProvider(svc *gmail.Service, accountID string, cfg *Config, limiter *google.RateLimiter) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if limiter == nil {
		limiter = google.NewRateLimiter(google.DefaultRateLimit)
	}
	return &Provider{svc: svc, cfg: cfg, limiter: limiter, accountID: accountID}
}

// Profile returns the mailbox address and its current cursor.
func (p *Provider) Profile(ctx context.Context) (domain.Profile, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Profile{}, err
	}
	prof, err := p.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return domain.Profile{}, p.wrap(err)
	}
	return domain.Profile{
		EmailAddress:  prof.EmailAddress,
		Cursor:        CursorAt(prof.HistoryId).Encode(),
		MessagesTotal: prof.MessagesTotal,
	}, nil
}

// Labels returns the account's label registry.
func (p *Provider) Labels(ctx context.Context) ([]domain.Label, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, p.wrap(err)
	}
	labels := make([]domain.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, domain.Label{ID: l.Id, Name: l.Name, Type: l.Type})
	}
	return labels, nil
}

// ListAll returns one page of the full listing.
func (p *Provider) ListAll(ctx context.Context, pageToken string) (domain.MessagePage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.MessagePage{}, err
	}

	call := p.svc.Users.Messages.List(me).
		MaxResults(p.cfg.MaxResults).
		IncludeSpamTrash(p.cfg.IncludeSpamTrash).
		Context(ctx)
	if len(p.cfg.LabelIDs) > 0 {
		call = call.LabelIds(p.cfg.LabelIDs...)
	}
	if p.cfg.Query != "" {
		call = call.Q(p.cfg.Query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return domain.MessagePage{}, p.wrap(err)
	}

	page := domain.MessagePage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.MessageIDs = append(page.MessageIDs, m.Id)
	}
	return page, nil
}

// ListChanges returns one page of the change log since cursor, in
// provider order. An undecodable or empty cursor reports ErrCursorExpired.
func (p *Provider) ListChanges(ctx context.Context, cursor, pageToken string) (domain.ChangePage, error) {
	c, err := DecodeCursor(cursor)
	if err != nil || c.IsEmpty() {
		return domain.ChangePage{}, fmt.Errorf("%w: unusable cursor", domain.ErrCursorExpired)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.ChangePage{}, err
	}

	call := p.svc.Users.History.List(me).
		StartHistoryId(c.HistoryID).
		HistoryTypes(historyTypes...).
		MaxResults(p.cfg.MaxResults).
		Context(ctx)
	// history.list filters on a single label only.
	if len(p.cfg.LabelIDs) == 1 {
		call = call.LabelId(p.cfg.LabelIDs[0])
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		if google.IsRateLimited(err) {
			p.limiter.RecordRateLimit(google.RetryAfter(err))
		}
		return domain.ChangePage{}, google.WrapHistoryError(err)
	}

	page := domain.ChangePage{
		NextPageToken: resp.NextPageToken,
		NewCursor:     CursorAt(resp.HistoryId).Encode(),
	}
	for _, h := range resp.History {
		page.Changes = append(page.Changes, p.changes(h)...)
	}
	return page, nil
}

// changes flattens one history record into ordered changes.
func (p *Provider) changes(h *gmail.History) []domain.Change {
	var out []domain.Change
	for _, a := range h.MessagesAdded {
		if a.Message == nil || !p.cfg.ShouldSync(a.Message.LabelIds) {
			continue
		}
		out = append(out, change(domain.ChangeAdded, a.Message))
	}
	for _, l := range h.LabelsAdded {
		if l.Message != nil {
			out = append(out, change(domain.ChangeLabelsChanged, l.Message))
		}
	}
	for _, l := range h.LabelsRemoved {
		if l.Message != nil {
			out = append(out, change(domain.ChangeLabelsChanged, l.Message))
		}
	}
	for _, d := range h.MessagesDeleted {
		if d.Message != nil {
			out = append(out, change(domain.ChangeDeleted, d.Message))
		}
	}
	return out
}

func change(kind domain.ChangeKind, m *gmail.Message) domain.Change {
	return domain.Change{Kind: kind, MessageID: m.Id, ThreadID: m.ThreadId, LabelIDs: m.LabelIds}
}

// FetchMessage fetches and parses one message. A message deleted since it
// was listed reports ErrNotFound.
func (p *Provider) FetchMessage(ctx context.Context, id string) (*domain.Message, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	msg, err := p.svc.Users.Messages.Get(me, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, p.wrap(err)
	}
	return ParseMessage(msg, p.accountID)
}

// Watch registers a push watch on a Pub/Sub topic and returns its expiry.
// Any existing watch is stopped first.
func (p *Provider) Watch(ctx context.Context, topic string, labelIDs []string) (time.Time, error) {
	if err := p.StopWatch(ctx); err != nil && !google.IsNotFound(err) {
		return time.Time{}, fmt.Errorf("stop previous watch: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	req := &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  labelIDs,
	}
	resp, err := p.svc.Users.Watch(me, req).Context(ctx).Do()
	if err != nil {
		return time.Time{}, p.wrap(err)
	}
	return time.UnixMilli(resp.Expiration).UTC(), nil
}

// StopWatch stops push notifications for the mailbox.
func (p *Provider) StopWatch(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := p.svc.Users.Stop(me).Context(ctx).Do(); err != nil {
		return p.wrap(err)
	}
	return nil
}

// Close releases the provider. The Gmail service holds no resources.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrap(err error) error {
	if google.IsRateLimited(err) {
		p.limiter.RecordRateLimit(google.RetryAfter(err))
	}
	return google.WrapError(err)
}
