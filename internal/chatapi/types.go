package chatapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Workspace is one connected team and its credentials. Exactly one workspace
// is active per session.
type Workspace struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	// UserToken authorizes REST calls on behalf of the user (xoxp-...).
	UserToken string `json:"xoxp_token"`
	// AppToken mints socket-mode connection URLs (xapp-...).
	AppToken string `json:"xapp_token"`
	UserID   string `json:"user_id,omitempty"`
	Active   bool   `json:"active"`
}

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsDM        bool   `json:"is_dm"`
	IsGroup     bool   `json:"is_group"`
	IsIM        bool   `json:"is_im"`
	UnreadCount int    `json:"unread_count"`
	Purpose     string `json:"purpose,omitempty"`
	Topic       string `json:"topic,omitempty"`
	// PeerUser is the remote user id for direct messages.
	PeerUser string `json:"user,omitempty"`
}

// DisplayName renders the sidebar label for the channel.
func (c Channel) DisplayName() string {
	if c.IsDM {
		return "@ " + c.Name
	}
	return "# " + c.Name
}

// Message is one chat message. TS is the dotted seconds.microseconds
// timestamp-id, unique and ordered within a channel.
type Message struct {
	TS         string     `json:"ts"`
	UserID     string     `json:"user_id"`
	Username   string     `json:"username"`
	Text       string     `json:"text"`
	ThreadTS   string     `json:"thread_ts,omitempty"`
	Time       time.Time  `json:"timestamp"`
	IsAgent    bool       `json:"is_agent"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	Edited     bool       `json:"is_edited"`
	Deleted    bool       `json:"is_deleted"`
	Files      []File     `json:"files,omitempty"`
	ReplyCount int        `json:"reply_count,omitempty"`
}

type Reaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users,omitempty"`
}

type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype,omitempty"`
	URLPrivate         string `json:"url_private,omitempty"`
	URLPrivateDownload string `json:"url_private_download,omitempty"`
	Size               int    `json:"size"`
}

type FileInfo struct {
	File
	Title    string `json:"title,omitempty"`
	Filetype string `json:"filetype,omitempty"`
}

// Thread is a lazily populated reply chain under a parent message.
type Thread struct {
	ParentTS  string
	ChannelID string
	Replies   []Message
	Collapsed bool
}

func NewThread(parentTS, channelID string) Thread {
	return Thread{ParentTS: parentTS, ChannelID: channelID}
}

func (t *Thread) ToggleCollapse() {
	t.Collapsed = !t.Collapsed
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
	Email       string `json:"email,omitempty"`
}

// ResolvedName picks the name to render: display name, else real name, else
// the bare username.
func (u User) ResolvedName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}

// tsTime converts the whole-second prefix of a timestamp-id to a time.
func tsTime(ts string) (time.Time, bool) {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}

// wireMessage is the raw message shape shared by history responses and
// socket-mode event payloads.
type wireMessage struct {
	TS         string          `json:"ts"`
	User       string          `json:"user"`
	Text       string          `json:"text"`
	Subtype    string          `json:"subtype"`
	ThreadTS   string          `json:"thread_ts"`
	Edited     json.RawMessage `json:"edited"`
	DeletedAt  json.RawMessage `json:"deleted_at"`
	IsDeleted  bool            `json:"is_deleted"`
	Reactions  []wireReaction  `json:"reactions"`
	Files      []wireFile      `json:"files"`
	ReplyCount int             `json:"reply_count"`
}

type wireReaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type wireFile struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
	Size               int    `json:"size"`
}

// toMessage builds a Message, resolving the author through the supplied user
// directory snapshot. Messages without a ts, author, or parsable timestamp
// are dropped.
func (w wireMessage) toMessage(users map[string]User) (Message, bool) {
	if w.TS == "" || w.User == "" {
		return Message{}, false
	}
	at, ok := tsTime(w.TS)
	if !ok {
		return Message{}, false
	}

	username := w.User
	if u, found := users[w.User]; found {
		username = u.ResolvedName()
	}

	msg := Message{
		TS:         w.TS,
		UserID:     w.User,
		Username:   username,
		Text:       w.Text,
		ThreadTS:   w.ThreadTS,
		Time:       at,
		Edited:     len(w.Edited) > 0 && string(w.Edited) != "null",
		Deleted:    w.IsDeleted || (len(w.DeletedAt) > 0 && string(w.DeletedAt) != "null"),
		ReplyCount: w.ReplyCount,
	}
	for _, r := range w.Reactions {
		msg.Reactions = append(msg.Reactions, Reaction{Name: r.Name, Count: r.Count, Users: r.Users})
	}
	for _, f := range w.Files {
		msg.Files = append(msg.Files, File{
			ID:                 f.ID,
			Name:               f.Name,
			Mimetype:           f.Mimetype,
			URLPrivate:         f.URLPrivate,
			URLPrivateDownload: f.URLPrivateDownload,
			Size:               f.Size,
		})
	}
	return msg, true
}
