// Package bunny is the Go client SDK for the Bunny social network.
//
// It covers the request/response API, the realtime websocket transport and
// the client-side chat engine that reconciles live events with paginated
// history.
//
// Example:
//
//	client := bunny.NewClient(token)
//	session := bunny.StaticSession{ID: "p1", Name: "alice", Credential: token}
//
//	transport := client.NewTransport(nil)
//	chat := bunny.NewChatStore(transport, session, client.Chat, bunny.NewChatService(transport, nil), nil)
//	chat.Start()
//	_ = transport.Connect(ctx, token)
package bunny

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.bunny.social"
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrNotConnected is returned when sending on a transport that has no
	// live connection.
	ErrNotConnected = errors.New("bunny: not connected")
	// ErrClosed is returned by operations on a closed channel or transport.
	ErrClosed = errors.New("bunny: closed")
)

// ============================================================================
// Session
// ============================================================================

// Session exposes the identity of the signed-in user.
type Session interface {
	UserID() string
	Username() string
	Token() string
}

// StaticSession is a Session with fixed values.
type StaticSession struct {
	ID         string
	Name       string
	Credential string
}

func (s StaticSession) UserID() string   { return s.ID }
func (s StaticSession) Username() string { return s.Name }
func (s StaticSession) Token() string    { return s.Credential }

// ============================================================================
// Client
// ============================================================================

type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *zap.Logger

	Chat          *ChatAPI
	Profiles      *ProfilesAPI
	Notifications *NotificationsAPI
	Posts         *PostsAPI
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.HTTPClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient.HTTPClient = client }
}

// WithRetries sets how many times a failed request is retried and the
// minimum wait between attempts.
func WithRetries(max int, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.RetryMax = max
		c.httpClient.RetryWaitMin = wait
		c.httpClient.RetryWaitMax = 4 * wait
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
		c.httpClient.Logger = retryableHTTPLogger{inner: logger}
		c.httpClient.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
			logger.Debug("response received",
				zap.Stringer("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode),
			)
		}
	}
}

// NewClient creates a new API client. token may be empty and set later
// with SetToken.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: DefaultTimeout},
			RetryMax:     3,
			RetryWaitMin: 200 * time.Millisecond,
			RetryWaitMax: 2 * time.Second,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryReadsOnly,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		logger: zap.NewNop(),
	}
	c.httpClient.Logger = retryableHTTPLogger{inner: c.logger}

	for _, opt := range opts {
		opt(c)
	}

	c.Chat = &ChatAPI{client: c}
	c.Profiles = &ProfilesAPI{client: c}
	c.Notifications = &NotificationsAPI{client: c}
	c.Posts = &PostsAPI{client: c}
	return c
}

// SetToken sets or replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// WSURL returns the websocket URL for token.
func (c *Client) WSURL(token string) string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + url.QueryEscape(token)
	}
	return base + "/ws"
}

// NewTransport creates a websocket transport for this API. Call Connect to
// open it.
func (c *Client) NewTransport(config *RealtimeConfig) *WSTransport {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	return NewWSTransport(c.WSURL, &cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

type noRetryKey struct{}

// retryReadsOnly applies the default retry policy to GET requests. Writes
// are sent once.
func retryReadsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(noRetryKey{}) != nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	if method != http.MethodGet {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeJSON[T](data)
}

// pageQuery builds the keyset pagination query. cursorKey names the cursor
// parameter; an empty cursor is omitted.
func pageQuery(cursorKey, cursor string, limit int) url.Values {
	q := url.Values{}
	if cursor != "" {
		q.Set(cursorKey, cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ============================================================================
// Sub-Clients
// ============================================================================

// ChatAPI reads chat history.
type ChatAPI struct{ client *Client }

// GetMessages returns up to limit messages of a conversation older than
// olderThan, newest first.
func (a *ChatAPI) GetMessages(ctx context.Context, chatGroupID, olderThan string, limit int) ([]ChatMessage, error) {
	msgs, err := getJSON[[]ChatMessage](ctx, a.client,
		"/chat/"+url.PathEscape(chatGroupID)+"/messages", pageQuery("older_than", olderThan, limit))
	if err != nil {
		return nil, fmt.Errorf("get messages of %s: %w", chatGroupID, err)
	}
	return msgs, nil
}

// GetConversations returns conversation summaries of a profile, newest first.
func (a *ChatAPI) GetConversations(ctx context.Context, profileID, olderThan string, limit int) ([]Conversation, error) {
	convs, err := getJSON[[]Conversation](ctx, a.client,
		"/profiles/"+url.PathEscape(profileID)+"/conversations", pageQuery("older_than", olderThan, limit))
	if err != nil {
		return nil, fmt.Errorf("get conversations: %w", err)
	}
	return convs, nil
}

// NotificationsAPI reads and updates notifications.
type NotificationsAPI struct{ client *Client }

func (a *NotificationsAPI) List(ctx context.Context, profileID, olderThan string, limit int) ([]NotificationItem, error) {
	items, err := getJSON[[]NotificationItem](ctx, a.client,
		"/profiles/"+url.PathEscape(profileID)+"/notifications", pageQuery("older_than", olderThan, limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// MarkAs sets the read and/or visited flags of the given notifications and
// returns the notifications the server actually updated. A nil flag is left
// unchanged.
func (a *NotificationsAPI) MarkAs(ctx context.Context, profileID string, ids []string, read, visited *bool) ([]NotificationItem, error) {
	q := url.Values{}
	if read != nil {
		q.Set("read", strconv.FormatBool(*read))
	}
	if visited != nil {
		q.Set("visited", strconv.FormatBool(*visited))
	}
	data, err := a.client.doRequest(ctx, http.MethodPatch,
		"/profiles/"+url.PathEscape(profileID)+"/notifications", ids, q)
	if err != nil {
		return nil, fmt.Errorf("mark notifications: %w", err)
	}
	return decodeJSON[[]NotificationItem](data)
}

// PostsAPI reads post comments.
type PostsAPI struct{ client *Client }

// GetComments returns comments of a post older than olderThan, newest first.
func (a *PostsAPI) GetComments(ctx context.Context, postID, olderThan string, limit int) ([]PostComment, error) {
	comments, err := getJSON[[]PostComment](ctx, a.client,
		"/posts/"+url.PathEscape(postID)+"/comments", pageQuery("older_than", olderThan, limit))
	if err != nil {
		return nil, fmt.Errorf("get comments of %s: %w", postID, err)
	}
	return comments, nil
}

// PublishComment posts a new comment and returns it as stored.
func (a *PostsAPI) PublishComment(ctx context.Context, postID, content string) (PostComment, error) {
	data, err := a.client.doRequest(ctx, http.MethodPost,
		"/posts/"+url.PathEscape(postID)+"/comments", map[string]string{"content": content}, nil)
	if err != nil {
		return PostComment{}, fmt.Errorf("publish comment on %s: %w", postID, err)
	}
	return decodeJSON[PostComment](data)
}

// FriendRequestDirection selects incoming or outgoing friend requests.
type FriendRequestDirection string

const (
	Incoming FriendRequestDirection = "incoming"
	Outgoing FriendRequestDirection = "outgoing"
)

// ProfilesAPI reads friend lists. Every list is ordered by username and
// paginated with a username cursor.
type ProfilesAPI struct{ client *Client }

func (a *ProfilesAPI) profiles(ctx context.Context, path string, q url.Values) ([]Profile, error) {
	return getJSON[[]Profile](ctx, a.client, path, q)
}

func (a *ProfilesAPI) GetFriends(ctx context.Context, profileID, usernameGT string, limit int) ([]Profile, error) {
	p, err := a.profiles(ctx, "/profiles/"+url.PathEscape(profileID)+"/friends",
		pageQuery("username_gt", usernameGT, limit))
	if err != nil {
		return nil, fmt.Errorf("get friends: %w", err)
	}
	return p, nil
}

func (a *ProfilesAPI) GetMutualFriends(ctx context.Context, profileID, otherID, usernameGT string, limit int) ([]Profile, error) {
	p, err := a.profiles(ctx,
		"/profiles/"+url.PathEscape(profileID)+"/friends/"+url.PathEscape(otherID)+"/mutual_friends",
		pageQuery("username_gt", usernameGT, limit))
	if err != nil {
		return nil, fmt.Errorf("get mutual friends: %w", err)
	}
	return p, nil
}

func (a *ProfilesAPI) GetFriendSuggestions(ctx context.Context, profileID, usernameGT string, limit int) ([]Profile, error) {
	p, err := a.profiles(ctx, "/profiles/"+url.PathEscape(profileID)+"/friend_suggestions",
		pageQuery("username_gt", usernameGT, limit))
	if err != nil {
		return nil, fmt.Errorf("get friend suggestions: %w", err)
	}
	return p, nil
}

func (a *ProfilesAPI) GetFriendRequests(ctx context.Context, profileID string, dir FriendRequestDirection, usernameGT string, limit int) ([]Profile, error) {
	q := pageQuery("username_gt", usernameGT, limit)
	q.Set("direction", string(dir))
	p, err := a.profiles(ctx, "/profiles/"+url.PathEscape(profileID)+"/friend_requests", q)
	if err != nil {
		return nil, fmt.Errorf("get %s friend requests: %w", dir, err)
	}
	return p, nil
}
