package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production REST endpoint; overridable for tests.
const DefaultBaseURL = "https://slack.com/api"

const userAgent = "skiff/0.2"

// Client is the resilient REST client. Every remote call runs inside the
// retry engine and resolves author names through the shared directory cache.
type Client struct {
	http    *http.Client
	baseURL string
	logger  zerolog.Logger
	users   *userCache
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
	c.users = newUserCache(c.ListUsers, userCacheTTL)
	return c
}

// doRequest issues one prepared request and classifies the response. A 429
// or an ok=false payload becomes an APIError; transport failures pass
// through with their transient error text intact.
func (c *Client) doRequest(req *http.Request, method string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		after, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &APIError{Op: method, Code: "rate_limited", RetryAfter: after}
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !envelope.OK {
		code := envelope.Error
		if code == "" {
			code = "unknown_error"
		}
		return nil, &APIError{Op: method, Code: code}
	}
	return raw, nil
}

// call builds and issues one JSON request against a REST method.
func (c *Client) call(ctx context.Context, token, method, httpMethod string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + "/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doRequest(req, method)
}

func (c *Client) callRetry(ctx context.Context, token, method, httpMethod string, query url.Values, body any) ([]byte, error) {
	return withRetry(ctx, c.logger, method, func(ctx context.Context) ([]byte, error) {
		return c.call(ctx, token, method, httpMethod, query, body)
	})
}

// AuthInfo identifies the workspace and caller behind a user token.
type AuthInfo struct {
	TeamID   string
	TeamName string
	UserID   string
}

func (c *Client) TestAuth(ctx context.Context, token string) (AuthInfo, error) {
	raw, err := c.callRetry(ctx, token, "auth.test", http.MethodPost, nil, nil)
	if err != nil {
		return AuthInfo{}, err
	}
	var out struct {
		TeamID string `json:"team_id"`
		Team   string `json:"team"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return AuthInfo{}, err
	}
	return AuthInfo{TeamID: out.TeamID, TeamName: out.Team, UserID: out.UserID}, nil
}

type wireChannel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
	User    string `json:"user"`
	Purpose struct {
		Value string `json:"value"`
	} `json:"purpose"`
	Topic struct {
		Value string `json:"value"`
	} `json:"topic"`
}

func (c *Client) ListChannels(ctx context.Context, token string) ([]Channel, error) {
	query := url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
	}
	raw, err := c.callRetry(ctx, token, "conversations.list", http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Channels []wireChannel `json:"channels"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(out.Channels))
	for _, ch := range out.Channels {
		if ch.ID == "" || ch.Name == "" {
			continue
		}
		channels = append(channels, Channel{
			ID:      ch.ID,
			Name:    ch.Name,
			IsGroup: ch.IsGroup,
			Purpose: ch.Purpose.Value,
			Topic:   ch.Topic.Value,
		})
	}
	return channels, nil
}

func (c *Client) ListDMs(ctx context.Context, token string) ([]Channel, error) {
	query := url.Values{"types": {"im"}}
	raw, err := c.callRetry(ctx, token, "conversations.list", http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Channels []wireChannel `json:"channels"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(out.Channels))
	for _, ch := range out.Channels {
		if ch.ID == "" || ch.User == "" {
			continue
		}
		channels = append(channels, Channel{
			ID:       ch.ID,
			Name:     ch.User,
			IsDM:     true,
			IsIM:     true,
			PeerUser: ch.User,
		})
	}
	return channels, nil
}

// History returns up to limit messages in chronological (oldest-first)
// order. The wire delivers them newest-first; they are reordered here,
// before storage, never after.
func (c *Client) History(ctx context.Context, token, channelID string, limit int) ([]Message, error) {
	query := url.Values{
		"channel": {channelID},
		"limit":   {strconv.Itoa(limit)},
	}
	raw, err := c.callRetry(ctx, token, "conversations.history", http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	users := c.users.snapshot(ctx, token)
	msgs := make([]Message, 0, len(out.Messages))
	for i := len(out.Messages) - 1; i >= 0; i-- {
		if m, ok := out.Messages[i].toMessage(users); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// ThreadReplies returns the reply chain under a parent timestamp-id,
// parent included, in wire order.
func (c *Client) ThreadReplies(ctx context.Context, token, channelID, threadTS string) ([]Message, error) {
	query := url.Values{
		"channel": {channelID},
		"ts":      {threadTS},
	}
	raw, err := c.callRetry(ctx, token, "conversations.replies", http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	users := c.users.snapshot(ctx, token)
	msgs := make([]Message, 0, len(out.Messages))
	for _, wm := range out.Messages {
		if m, ok := wm.toMessage(users); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (c *Client) postForTS(ctx context.Context, token string, body map[string]any) (string, error) {
	raw, err := c.callRetry(ctx, token, "chat.postMessage", http.MethodPost, nil, body)
	if err != nil {
		return "", err
	}
	var out struct {
		TS string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.TS == "" {
		return "", fmt.Errorf("chat.postMessage: no ts in response")
	}
	return out.TS, nil
}

func (c *Client) PostMessage(ctx context.Context, token, channelID, text string) (string, error) {
	return c.postForTS(ctx, token, map[string]any{
		"channel": channelID,
		"text":    text,
	})
}

func (c *Client) PostThreadReply(ctx context.Context, token, channelID, text, threadTS string) (string, error) {
	return c.postForTS(ctx, token, map[string]any{
		"channel":   channelID,
		"text":      text,
		"thread_ts": threadTS,
	})
}

func (c *Client) UpdateMessage(ctx context.Context, token, channelID, ts, text string) error {
	_, err := c.callRetry(ctx, token, "chat.update", http.MethodPost, nil, map[string]any{
		"channel": channelID,
		"ts":      ts,
		"text":    text,
	})
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, token, channelID, ts string) error {
	_, err := c.callRetry(ctx, token, "chat.delete", http.MethodPost, nil, map[string]any{
		"channel": channelID,
		"ts":      ts,
	})
	return err
}

func (c *Client) AddReaction(ctx context.Context, token, channelID, ts, name string) error {
	_, err := c.callRetry(ctx, token, "reactions.add", http.MethodPost, nil, map[string]any{
		"channel":   channelID,
		"timestamp": ts,
		"name":      name,
	})
	return err
}

func (c *Client) RemoveReaction(ctx context.Context, token, channelID, ts, name string) error {
	_, err := c.callRetry(ctx, token, "reactions.remove", http.MethodPost, nil, map[string]any{
		"channel":   channelID,
		"timestamp": ts,
		"name":      name,
	})
	return err
}

type wireUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
		Email       string `json:"email"`
	} `json:"profile"`
}

func (w wireUser) toUser() User {
	return User{
		ID:          w.ID,
		Name:        w.Name,
		DisplayName: w.Profile.DisplayName,
		RealName:    w.Profile.RealName,
		Email:       w.Profile.Email,
	}
}

// ListUsers fetches the full remote directory. Callers wanting cached
// lookups should go through Users or ResolveName instead.
func (c *Client) ListUsers(ctx context.Context, token string) ([]User, error) {
	raw, err := c.callRetry(ctx, token, "users.list", http.MethodGet, nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Members []wireUser `json:"members"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(out.Members))
	for _, m := range out.Members {
		if m.ID == "" {
			continue
		}
		users = append(users, m.toUser())
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, token, userID string) (User, error) {
	query := url.Values{"user": {userID}}
	raw, err := c.callRetry(ctx, token, "users.info", http.MethodGet, query, nil)
	if err != nil {
		return User{}, err
	}
	var out struct {
		User wireUser `json:"user"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return User{}, err
	}
	if out.User.ID == "" {
		return User{}, fmt.Errorf("users.info: no user in response")
	}
	return out.User.toUser(), nil
}

// Users returns a snapshot of the directory cache, refreshing it when stale.
func (c *Client) Users(ctx context.Context, token string) map[string]User {
	return c.users.snapshot(ctx, token)
}

// ResolveName maps a user id to its display name via the directory cache.
func (c *Client) ResolveName(ctx context.Context, token, userID string) string {
	if u, ok := c.users.snapshot(ctx, token)[userID]; ok {
		return u.ResolvedName()
	}
	return userID
}

// InvalidateUsers forces the next directory read to refresh.
func (c *Client) InvalidateUsers() {
	c.users.invalidate()
}

// ConnectionURL mints a fresh socket-mode URL. Each URL is good for one
// connection attempt only.
func (c *Client) ConnectionURL(ctx context.Context, appToken string) (string, error) {
	raw, err := c.callRetry(ctx, appToken, "apps.connections.open", http.MethodPost, nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("apps.connections.open: no url in response")
	}
	return out.URL, nil
}

// UploadFile posts a local file to a channel and returns the remote file id.
func (c *Client) UploadFile(ctx context.Context, token, channelID, filePath, title, comment string) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	fileName := filepath.Base(filePath)
	if title == "" {
		title = fileName
	}

	raw, err := withRetry(ctx, c.logger, "files.upload", func(ctx context.Context) ([]byte, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		_ = w.WriteField("channels", channelID)
		_ = w.WriteField("title", title)
		if comment != "" {
			_ = w.WriteField("initial_comment", comment)
		}
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files.upload", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", w.FormDataContentType())
		return c.doRequest(req, "files.upload")
	})
	if err != nil {
		return "", err
	}

	var out struct {
		File struct {
			ID string `json:"id"`
		} `json:"file"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out.File.ID == "" {
		return "", fmt.Errorf("files.upload: no file id in response")
	}
	return out.File.ID, nil
}

func (c *Client) FileInfo(ctx context.Context, token, fileID string) (FileInfo, error) {
	query := url.Values{"file": {fileID}}
	raw, err := c.callRetry(ctx, token, "files.info", http.MethodGet, query, nil)
	if err != nil {
		return FileInfo{}, err
	}
	var out struct {
		File struct {
			wireFile
			Title    string `json:"title"`
			Filetype string `json:"filetype"`
		} `json:"file"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		File: File{
			ID:                 out.File.ID,
			Name:               out.File.Name,
			Mimetype:           out.File.Mimetype,
			URLPrivate:         out.File.URLPrivate,
			URLPrivateDownload: out.File.URLPrivateDownload,
			Size:               out.File.Size,
		},
		Title:    out.File.Title,
		Filetype: out.File.Filetype,
	}, nil
}

// DownloadFile fetches a private file URL to a local path.
func (c *Client) DownloadFile(ctx context.Context, token, srcURL, destPath string) error {
	_, err := withRetry(ctx, c.logger, "files.download", func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			after, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			return struct{}{}, &APIError{Op: "files.download", Code: "rate_limited", RetryAfter: after}
		}
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("files.download failed: http %d", resp.StatusCode)
		}
		content, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, os.WriteFile(destPath, content, 0o644)
	})
	return err
}

// OAuthGrant is the result of completing the OAuth v2 code exchange.
type OAuthGrant struct {
	TeamID    string
	TeamName  string
	UserID    string
	UserToken string
	AppToken  string
}

// ExchangeOAuthCode trades an authorization code for workspace credentials.
// Not retried: a code is single-use.
func (c *Client) ExchangeOAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (OAuthGrant, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return OAuthGrant{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return OAuthGrant{}, err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Error       string `json:"error"`
		AccessToken string `json:"access_token"`
		AuthedUser  struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"authed_user"`
		Team struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"team"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OAuthGrant{}, err
	}
	if !out.OK {
		code := out.Error
		if code == "" {
			code = "unknown_error"
		}
		return OAuthGrant{}, &APIError{Op: "oauth.v2.access", Code: code}
	}
	return OAuthGrant{
		TeamID:    out.Team.ID,
		TeamName:  out.Team.Name,
		UserID:    out.AuthedUser.ID,
		UserToken: out.AuthedUser.AccessToken,
		AppToken:  out.AccessToken,
	}, nil
}
