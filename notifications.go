package bunny

import (
	"context"

	"go.uber.org/zap"
)

// NotificationsService tracks the unread notification count pushed by the
// server.
type NotificationsService struct {
	count  *Value[int]
	logger *zap.Logger
}

func NewNotificationsService(logger *zap.Logger) *NotificationsService {
	return &NotificationsService{
		count:  NewValue(0),
		logger: orNop(logger).Named("notifications"),
	}
}

// Bind subscribes the service to the count events of transport.
// unread_notifications_count replaces the count and
// new_unread_notification adds to it.
func (n *NotificationsService) Bind(t Transport) {
	onEvent(t, n.logger, EventUnreadNotificationsCount, n.count.Set)
	onEvent(t, n.logger, EventNewUnreadNotification, n.Alter)
}

// Count exposes the unread notification count.
func (n *NotificationsService) Count() Observable[int] { return n.count }

// Alter adds delta to the count. The count never drops below zero.
func (n *NotificationsService) Alter(delta int) {
	n.count.Update(func(c int) (int, bool) {
		next := max(c+delta, 0)
		return next, next != c
	})
}

// Reset sets the count to zero.
func (n *NotificationsService) Reset() { n.count.Set(0) }

// NotificationsLister is the part of NotificationsAPI a NotificationsPage
// uses.
type NotificationsLister interface {
	List(ctx context.Context, profileID, olderThan string, limit int) ([]NotificationItem, error)
	MarkAs(ctx context.Context, profileID string, ids []string, read, visited *bool) ([]NotificationItem, error)
}

// NotificationsPage is the paginated notification list of the signed-in
// user. Every loaded page marks its unread notifications read and lowers
// the unread count by the number the server updated.
type NotificationsPage struct {
	*Paginator[NotificationItem]
	api     NotificationsLister
	session Session
	counter *NotificationsService
	logger  *zap.Logger
}

func NewNotificationsPage(api NotificationsLister, session Session, counter *NotificationsService, cfg *Config, logger *zap.Logger) *NotificationsPage {
	c := configOrDefault(cfg)
	p := &NotificationsPage{
		api:     api,
		session: session,
		counter: counter,
		logger:  orNop(logger).Named("notifications"),
	}
	fetch := func(ctx context.Context, cursor string, limit int) ([]NotificationItem, error) {
		return api.List(ctx, session.UserID(), cursor, limit)
	}
	p.Paginator = NewPaginator(c.NotificationsPageSize,
		func(n NotificationItem) string { return n.CreatedAt }, fetch,
		&PaginatorOptions[NotificationItem]{
			Identity:   func(n NotificationItem) string { return n.ID },
			AfterFetch: p.markFetchedRead,
			Logger:     p.logger,
		})
	return p
}

func (p *NotificationsPage) markFetchedRead(ctx context.Context, page []NotificationItem) []NotificationItem {
	var unread []string
	for _, n := range page {
		if !n.Read {
			unread = append(unread, n.ID)
		}
	}
	if len(unread) == 0 {
		return page
	}
	read := true
	updated, err := p.api.MarkAs(ctx, p.session.UserID(), unread, &read, nil)
	if err != nil {
		p.logger.Warn("mark notifications read", zap.Int("count", len(unread)), zap.Error(err))
		return page
	}
	if p.counter != nil {
		p.counter.Alter(-len(updated))
	}
	return page
}

// MarkVisited flags notifications as visited. Failures are logged.
func (p *NotificationsPage) MarkVisited(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	visited := true
	if _, err := p.api.MarkAs(ctx, p.session.UserID(), ids, nil, &visited); err != nil {
		p.logger.Debug("mark notifications visited", zap.Error(err))
		return
	}
	p.UpdateItems(func(items []NotificationItem) []NotificationItem {
		for i := range items {
			for _, id := range ids {
				if items[i].ID == id {
					items[i].Visited = true
				}
			}
		}
		return items
	})
}
