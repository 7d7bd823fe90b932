package bunny

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Conversations
// ============================================================================

// ConversationsFetcher loads conversation summaries, newest first.
type ConversationsFetcher interface {
	GetConversations(ctx context.Context, profileID, olderThan string, limit int) ([]Conversation, error)
}

// ConversationsPage is the paginated conversation list of the signed-in
// user.
type ConversationsPage struct {
	*Paginator[Conversation]
}

func NewConversationsPage(api ConversationsFetcher, session Session, cfg *Config, logger *zap.Logger) *ConversationsPage {
	c := configOrDefault(cfg)
	fetch := func(ctx context.Context, cursor string, limit int) ([]Conversation, error) {
		return api.GetConversations(ctx, session.UserID(), cursor, limit)
	}
	return &ConversationsPage{
		Paginator: NewPaginator(c.ConversationsPageSize,
			func(cv Conversation) string { return cv.CreatedAt }, fetch,
			&PaginatorOptions[Conversation]{
				Identity: func(cv Conversation) string { return cv.ChatGroupID },
				Logger:   orNop(logger).Named("conversations"),
			}),
	}
}

// MarkRead stamps the conversation as read at the given time.
func (p *ConversationsPage) MarkRead(chatGroupID string, at time.Time) {
	stamp := at.UTC().Format(time.RFC3339)
	p.UpdateItems(func(items []Conversation) []Conversation {
		for i := range items {
			if items[i].ChatGroupID == chatGroupID {
				items[i].ReadAt = &stamp
			}
		}
		return items
	})
}

// ============================================================================
// Post comments
// ============================================================================

// CommentsAPI loads and publishes post comments. PostsAPI implements it.
type CommentsAPI interface {
	GetComments(ctx context.Context, postID, olderThan string, limit int) ([]PostComment, error)
	PublishComment(ctx context.Context, postID, content string) (PostComment, error)
}

// CommentsPage holds the comments of one post, oldest first. Each load
// prepends the page of comments preceding the oldest loaded one.
type CommentsPage struct {
	*Paginator[PostComment]
	api    CommentsAPI
	postID string
}

func NewCommentsPage(api CommentsAPI, postID string, cfg *Config, logger *zap.Logger) *CommentsPage {
	c := configOrDefault(cfg)
	fetch := func(ctx context.Context, cursor string, limit int) ([]PostComment, error) {
		return api.GetComments(ctx, postID, cursor, limit)
	}
	return &CommentsPage{
		Paginator: NewPaginator(c.CommentsPageSize,
			func(pc PostComment) string { return pc.CreatedAt }, fetch,
			&PaginatorOptions[PostComment]{
				Direction: Backward,
				Identity:  func(pc PostComment) string { return pc.ID },
				Logger:    orNop(logger).Named("comments").With(zap.String("post", postID)),
			}),
		api:    api,
		postID: postID,
	}
}

// Publish posts a comment and appends it. Blank content is ignored.
func (p *CommentsPage) Publish(ctx context.Context, content string) (PostComment, bool, error) {
	if strings.TrimSpace(content) == "" {
		return PostComment{}, false, nil
	}
	comment, err := p.api.PublishComment(ctx, p.postID, content)
	if err != nil {
		return PostComment{}, false, err
	}
	p.Append(comment)
	return comment, true, nil
}

// ============================================================================
// Friends
// ============================================================================

// FriendsSection selects the list a FriendsPage shows.
type FriendsSection string

const (
	SectionFriends               FriendsSection = "FRIENDS"
	SectionMutualFriends         FriendsSection = "MUTUAL_FRIENDS"
	SectionFriendSuggestions     FriendsSection = "FRIEND_SUGGESTIONS"
	SectionIncomingFriendRequest FriendsSection = "INCOMING_FRIEND_REQUEST"
	SectionOutgoingFriendRequest FriendsSection = "OUTGOING_FRIEND_REQUEST"
)

// ProfilesLister loads friend lists ordered by username. ProfilesAPI
// implements it.
type ProfilesLister interface {
	GetFriends(ctx context.Context, profileID, usernameGT string, limit int) ([]Profile, error)
	GetMutualFriends(ctx context.Context, profileID, otherID, usernameGT string, limit int) ([]Profile, error)
	GetFriendSuggestions(ctx context.Context, profileID, usernameGT string, limit int) ([]Profile, error)
	GetFriendRequests(ctx context.Context, profileID string, dir FriendRequestDirection, usernameGT string, limit int) ([]Profile, error)
}

// FriendsPage is a username-paginated list of profiles for one section of
// a profile's friends.
type FriendsPage struct {
	*Paginator[Profile]
	api     ProfilesLister
	session Session

	mu      sync.RWMutex
	section FriendsSection
	target  string
}

func NewFriendsPage(api ProfilesLister, session Session, cfg *Config, logger *zap.Logger) *FriendsPage {
	c := configOrDefault(cfg)
	p := &FriendsPage{
		api:     api,
		session: session,
		section: SectionFriends,
	}
	p.Paginator = NewPaginator(c.FriendsPageSize,
		func(pr Profile) string { return pr.Username }, p.fetch,
		&PaginatorOptions[Profile]{
			Identity: func(pr Profile) string { return pr.ID },
			Logger:   orNop(logger).Named("friends"),
		})
	return p
}

// Section returns the selected section.
func (p *FriendsPage) Section() FriendsSection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.section
}

// SetSection switches to section for the profile targetID, empties the
// list and loads its first page.
func (p *FriendsPage) SetSection(ctx context.Context, section FriendsSection, targetID string) error {
	p.mu.Lock()
	p.section = section
	p.target = targetID
	p.mu.Unlock()
	p.Reset()
	_, err := p.LoadMore(ctx)
	return err
}

// Remove drops a profile from the list.
func (p *FriendsPage) Remove(profileID string) {
	p.UpdateItems(func(items []Profile) []Profile {
		out := items[:0]
		for _, pr := range items {
			if pr.ID != profileID {
				out = append(out, pr)
			}
		}
		return out
	})
}

func (p *FriendsPage) fetch(ctx context.Context, cursor string, limit int) ([]Profile, error) {
	p.mu.RLock()
	section, target := p.section, p.target
	p.mu.RUnlock()

	me := p.session.UserID()
	if target == "" {
		target = me
	}
	switch section {
	case SectionFriends:
		return p.api.GetFriends(ctx, target, cursor, limit)
	case SectionMutualFriends:
		return p.api.GetMutualFriends(ctx, me, target, cursor, limit)
	case SectionFriendSuggestions:
		return p.api.GetFriendSuggestions(ctx, me, cursor, limit)
	case SectionIncomingFriendRequest:
		return p.api.GetFriendRequests(ctx, me, Incoming, cursor, limit)
	case SectionOutgoingFriendRequest:
		return p.api.GetFriendRequests(ctx, me, Outgoing, cursor, limit)
	default:
		return nil, fmt.Errorf("unknown friends section %q", section)
	}
}
