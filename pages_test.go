package bunny

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Conversations
// ============================================================================

type fakeConversations struct {
	items []Conversation // newest first
	calls []string
}

func (f *fakeConversations) GetConversations(_ context.Context, profileID, olderThan string, limit int) ([]Conversation, error) {
	f.calls = append(f.calls, profileID+"|"+olderThan)
	var page []Conversation
	for _, c := range f.items {
		if len(page) == limit {
			break
		}
		if olderThan == "" || c.CreatedAt < olderThan {
			page = append(page, c)
		}
	}
	return page, nil
}

func TestConversationsPage(t *testing.T) {
	api := &fakeConversations{items: []Conversation{
		{ChatGroupID: "g3", CreatedAt: "2024-05-03T00:00:00Z"},
		{ChatGroupID: "g2", CreatedAt: "2024-05-02T00:00:00Z"},
		{ChatGroupID: "g1", CreatedAt: "2024-05-01T00:00:00Z"},
	}}
	page := NewConversationsPage(api, me, &Config{ConversationsPageSize: 2}, nil)
	ctx := context.Background()

	_, err := page.LoadMore(ctx)
	require.NoError(t, err)
	_, err = page.LoadMore(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"pme|", "pme|2024-05-02T00:00:00Z"}, api.calls)
	require.Len(t, page.Items(), 3)
	require.True(t, page.State().Exhausted)

	at := time.Date(2024, 5, 4, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	page.MarkRead("g2", at)
	items := page.Items()
	require.Nil(t, items[0].ReadAt)
	require.NotNil(t, items[1].ReadAt)
	require.Equal(t, "2024-05-04T10:00:00Z", *items[1].ReadAt)
}

// ============================================================================
// Comments
// ============================================================================

type fakeComments struct {
	mu         sync.Mutex
	comments   []PostComment // oldest first
	published  []string
	publishErr error
}

func (f *fakeComments) GetComments(_ context.Context, _ string, olderThan string, limit int) ([]PostComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page []PostComment
	for i := len(f.comments) - 1; i >= 0 && len(page) < limit; i-- {
		if olderThan == "" || f.comments[i].CreatedAt < olderThan {
			page = append(page, f.comments[i])
		}
	}
	return page, nil
}

func (f *fakeComments) PublishComment(_ context.Context, postID, content string) (PostComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return PostComment{}, f.publishErr
	}
	f.published = append(f.published, content)
	c := PostComment{ID: "new", Content: content, PostID: postID, CreatedAt: "2024-05-09"}
	f.comments = append(f.comments, c)
	return c, nil
}

func TestCommentsPage(t *testing.T) {
	ctx := context.Background()
	api := &fakeComments{comments: []PostComment{
		{ID: "c1", CreatedAt: "2024-05-01"},
		{ID: "c2", CreatedAt: "2024-05-02"},
		{ID: "c3", CreatedAt: "2024-05-03"},
	}}
	page := NewCommentsPage(api, "post1", &Config{CommentsPageSize: 2}, nil)

	_, err := page.LoadMore(ctx)
	require.NoError(t, err)
	_, err = page.LoadMore(ctx)
	require.NoError(t, err)

	ids := func() []string {
		var out []string
		for _, c := range page.Items() {
			out = append(out, c.ID)
		}
		return out
	}
	require.Equal(t, []string{"c1", "c2", "c3"}, ids())

	t.Run("blank content is ignored", func(t *testing.T) {
		_, ok, err := page.Publish(ctx, "   ")
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, api.published)
	})

	t.Run("published comment is appended", func(t *testing.T) {
		c, ok, err := page.Publish(ctx, "hello")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "post1", c.PostID)
		require.Equal(t, []string{"c1", "c2", "c3", "new"}, ids())
	})

	t.Run("publish error", func(t *testing.T) {
		boom := errors.New("boom")
		api.publishErr = boom
		_, ok, err := page.Publish(ctx, "again")
		require.ErrorIs(t, err, boom)
		require.False(t, ok)
		require.Len(t, page.Items(), 4)
	})
}

// ============================================================================
// Friends
// ============================================================================

type fakeProfiles struct {
	mu    sync.Mutex
	calls []string
	pages map[string][]Profile
}

func (f *fakeProfiles) record(call string) []Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.pages[call]
}

func (f *fakeProfiles) GetFriends(_ context.Context, profileID, usernameGT string, _ int) ([]Profile, error) {
	return f.record("friends " + profileID + " " + usernameGT), nil
}

func (f *fakeProfiles) GetMutualFriends(_ context.Context, profileID, otherID, usernameGT string, _ int) ([]Profile, error) {
	return f.record("mutual " + profileID + " " + otherID + " " + usernameGT), nil
}

func (f *fakeProfiles) GetFriendSuggestions(_ context.Context, profileID, usernameGT string, _ int) ([]Profile, error) {
	return f.record("suggestions " + profileID + " " + usernameGT), nil
}

func (f *fakeProfiles) GetFriendRequests(_ context.Context, profileID string, dir FriendRequestDirection, usernameGT string, _ int) ([]Profile, error) {
	return f.record("requests " + profileID + " " + string(dir) + " " + usernameGT), nil
}

func TestFriendsPage(t *testing.T) {
	ctx := context.Background()
	api := &fakeProfiles{pages: map[string][]Profile{
		"friends pme ":    {{ID: "p1", Username: "alice"}, {ID: "p2", Username: "bob"}},
		"friends pme bob": {{ID: "p3", Username: "carol"}},
		"mutual pme px ":  {{ID: "p9", Username: "zed"}},
	}}
	page := NewFriendsPage(api, me, &Config{FriendsPageSize: 2}, nil)
	require.Equal(t, SectionFriends, page.Section())

	_, err := page.LoadMore(ctx)
	require.NoError(t, err)
	_, err = page.LoadMore(ctx)
	require.NoError(t, err)
	require.Len(t, page.Items(), 3)
	require.True(t, page.State().Exhausted)

	page.Remove("p2")
	require.Equal(t, []Profile{{ID: "p1", Username: "alice"}, {ID: "p3", Username: "carol"}}, page.Items())

	require.NoError(t, page.SetSection(ctx, SectionMutualFriends, "px"))
	require.Equal(t, SectionMutualFriends, page.Section())
	require.Equal(t, []Profile{{ID: "p9", Username: "zed"}}, page.Items())

	require.NoError(t, page.SetSection(ctx, SectionIncomingFriendRequest, ""))
	require.Empty(t, page.Items())
	require.True(t, page.State().Exhausted)

	require.NoError(t, page.SetSection(ctx, SectionFriendSuggestions, ""))
	require.NoError(t, page.SetSection(ctx, SectionOutgoingFriendRequest, ""))
	require.NoError(t, page.SetSection(ctx, SectionFriends, "p7"))

	require.Equal(t, []string{
		"friends pme ",
		"friends pme bob",
		"mutual pme px ",
		"requests pme incoming ",
		"suggestions pme ",
		"requests pme outgoing ",
		"friends p7 ",
	}, api.calls)

	require.Error(t, page.SetSection(ctx, FriendsSection("BOGUS"), ""))
}
