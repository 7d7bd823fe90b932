package bunny

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type markCall struct {
	IDs     []string
	Read    *bool
	Visited *bool
}

type fakeNotifications struct {
	mu      sync.Mutex
	items   []NotificationItem // newest first
	marks   []markCall
	markErr error
}

func (f *fakeNotifications) List(_ context.Context, _ string, olderThan string, limit int) ([]NotificationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page []NotificationItem
	for _, n := range f.items {
		if len(page) == limit {
			break
		}
		if olderThan == "" || n.CreatedAt < olderThan {
			page = append(page, n)
		}
	}
	return page, nil
}

func (f *fakeNotifications) MarkAs(_ context.Context, _ string, ids []string, read, visited *bool) ([]NotificationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, markCall{IDs: slices.Clone(ids), Read: read, Visited: visited})
	if f.markErr != nil {
		return nil, f.markErr
	}
	var updated []NotificationItem
	for i := range f.items {
		if slices.Contains(ids, f.items[i].ID) {
			if read != nil {
				f.items[i].Read = *read
			}
			updated = append(updated, f.items[i])
		}
	}
	return updated, nil
}

func notification(id, createdAt string, read bool) NotificationItem {
	return NotificationItem{
		ID:        id,
		CreatedAt: createdAt,
		ProfileID: me.ID,
		Data:      NotificationData{Event: NotificationNewFriendshipRequest},
		Read:      read,
	}
}

func TestNotificationsCount(t *testing.T) {
	tr := newFakeTransport()
	svc := NewNotificationsService(zaptest.NewLogger(t))
	svc.Bind(tr)

	tr.emit(t, EventUnreadNotificationsCount, 4)
	require.Equal(t, 4, svc.Count().Get())

	tr.emit(t, EventNewUnreadNotification, 1)
	require.Equal(t, 5, svc.Count().Get())

	svc.Alter(-10)
	require.Zero(t, svc.Count().Get(), "count never goes negative")

	tr.emit(t, EventUnreadNotificationsCount, 2)
	svc.Reset()
	require.Zero(t, svc.Count().Get())
}

func TestNotificationsPage(t *testing.T) {
	ctx := context.Background()

	t.Run("fetched unread notifications are marked read", func(t *testing.T) {
		api := &fakeNotifications{items: []NotificationItem{
			notification("n3", "2024-05-03", false),
			notification("n2", "2024-05-02", true),
			notification("n1", "2024-05-01", false),
		}}
		svc := NewNotificationsService(nil)
		svc.Alter(5)
		page := NewNotificationsPage(api, me, svc, &Config{NotificationsPageSize: 2}, zaptest.NewLogger(t))

		_, err := page.LoadMore(ctx)
		require.NoError(t, err)
		require.Len(t, api.marks, 1)
		require.Equal(t, []string{"n3"}, api.marks[0].IDs)
		require.True(t, *api.marks[0].Read)
		require.Nil(t, api.marks[0].Visited)
		require.Equal(t, 4, svc.Count().Get())

		_, err = page.LoadMore(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"n1"}, api.marks[1].IDs)
		require.Equal(t, 3, svc.Count().Get())
		require.True(t, page.State().Exhausted)
		require.Len(t, page.Items(), 3)
	})

	t.Run("fully read page skips the update", func(t *testing.T) {
		api := &fakeNotifications{items: []NotificationItem{notification("n1", "2024-05-01", true)}}
		page := NewNotificationsPage(api, me, nil, nil, nil)

		_, err := page.LoadMore(ctx)
		require.NoError(t, err)
		require.Empty(t, api.marks)
	})

	t.Run("mark failure keeps the page", func(t *testing.T) {
		api := &fakeNotifications{
			items:   []NotificationItem{notification("n1", "2024-05-01", false)},
			markErr: errors.New("boom"),
		}
		svc := NewNotificationsService(nil)
		svc.Alter(1)
		page := NewNotificationsPage(api, me, svc, nil, zaptest.NewLogger(t))

		n, err := page.LoadMore(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, 1, svc.Count().Get())
	})

	t.Run("mark visited", func(t *testing.T) {
		api := &fakeNotifications{items: []NotificationItem{
			notification("n2", "2024-05-02", true),
			notification("n1", "2024-05-01", true),
		}}
		page := NewNotificationsPage(api, me, nil, nil, nil)
		_, err := page.LoadMore(ctx)
		require.NoError(t, err)

		page.MarkVisited(ctx, []string{"n1"})
		items := page.Items()
		require.False(t, items[0].Visited)
		require.True(t, items[1].Visited)
		require.True(t, *api.marks[0].Visited)

		api.markErr = errors.New("boom")
		page.MarkVisited(ctx, []string{"n2"})
		require.False(t, page.Items()[0].Visited, "failed update leaves local state")
	})
}
