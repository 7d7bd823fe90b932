package bunny

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned for any non-2xx API response.
type APIError struct {
	StatusCode int    `json:"-"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Detail)
}

// ============================================================================
// Chat Types
// ============================================================================

// Contact is a friend the current user can chat with.
type Contact struct {
	ProfileID   string `json:"profileId"`
	Username    string `json:"username"`
	ChatGroupID string `json:"chatGroupId"`
}

// FooterEntry is a conversation surfaced in the persistent chat strip.
type FooterEntry = Contact

// PresenceStatus is the online state of a contact.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusOffline PresenceStatus = "OFFLINE"
)

// RosterEntry is a contact annotated with its presence status.
type RosterEntry struct {
	Contact
	Status PresenceStatus `json:"status"`
}

// ChatMessage is a single message of a conversation.
type ChatMessage struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	ChatGroupID   string `json:"chatGroupId"`
	FromProfileID string `json:"fromProfileId"`
	CreatedAt     string `json:"createdAt"`
}

// TypingSignal reports that a user is typing in a conversation.
type TypingSignal struct {
	ProfileID   string `json:"profileId"`
	Username    string `json:"username"`
	ChatGroupID string `json:"chatGroupId"`
}

// Conversation is a summary row of the conversations page.
type Conversation struct {
	FromProfileID       string  `json:"fromProfileId"`
	FromProfileUsername string  `json:"fromProfileUsername"`
	Content             string  `json:"content"`
	CreatedAt           string  `json:"createdAt"`
	Username            string  `json:"username"`
	ChatGroupID         string  `json:"chatGroupId"`
	ChatGroupName       string  `json:"chatGroupName"`
	ReadAt              *string `json:"readAt"`
}

// ScrollDirection is the value carried by a conversation's scroll signal.
type ScrollDirection string

const (
	ScrollTop    ScrollDirection = "top"
	ScrollBottom ScrollDirection = "bottom"
)

// ============================================================================
// Notification Types
// ============================================================================

type NotificationType string

const (
	NotificationNewCommentOnPost     NotificationType = "NEW_COMMENT_ON_POST"
	NotificationNewPostOnWall        NotificationType = "NEW_POST_ON_WALL"
	NotificationNewFriend            NotificationType = "NEW_FRIEND"
	NotificationNewFriendshipRequest NotificationType = "NEW_FRIENDSHIP_REQUEST"
)

type NotificationData struct {
	Event   NotificationType `json:"event"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

type NotificationItem struct {
	ID        string           `json:"id"`
	CreatedAt string           `json:"createdAt"`
	ProfileID string           `json:"profileId"`
	Data      NotificationData `json:"data"`
	Read      bool             `json:"read"`
	Visited   bool             `json:"visited"`
}

// ============================================================================
// Profile & Post Types
// ============================================================================

type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type PostComment struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt *string `json:"updatedAt"`
	PostID    string  `json:"postId"`
	ProfileID string  `json:"profileId"`
	Username  string  `json:"username"`
}
