package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"skiff/internal/agent"
	"skiff/internal/chatapi"
	"skiff/internal/config"
	"skiff/internal/session"
)

const (
	historyPageSize   = 100
	agentReplyTimeout = 15 * time.Second
	oauthFlowTimeout  = 3 * time.Minute
	clipboardMaxBytes = 16 << 10
)

type sessionLoadedMsg struct {
	sess *session.Session
	err  error
}

type channelsLoadedMsg struct {
	channels []chatapi.Channel
	err      error
}

type historyLoadedMsg struct {
	channelID string
	messages  []chatapi.Message
	err       error
}

type threadRepliesMsg struct {
	channelID string
	parentTS  string
	replies   []chatapi.Message
	err       error
}

type sendResultMsg struct {
	channelID string
	threadTS  string
	ts        string
	text      string
	err       error
}

type messageEditedMsg struct {
	channelID string
	ts        string
	text      string
	err       error
}

type messageDeletedMsg struct {
	channelID string
	ts        string
	err       error
}

type reactionResultMsg struct {
	channelID string
	ts        string
	name      string
	removed   bool
	err       error
}

type uploadDoneMsg struct {
	channelID string
	fileID    string
	err       error
}

type downloadDoneMsg struct {
	path string
	err  error
}

type clipboardMsg struct {
	err error
}

type oauthDoneMsg struct {
	ws  chatapi.Workspace
	err error
}

type agentStartedMsg struct {
	bearer string
	err    error
}

type agentReplyMsg struct {
	channelID string
	threadTS  string
	reply     string
	ts        string
	err       error
}

type streamEventMsg struct {
	event chatapi.StreamEvent
}

type tickMsg time.Time

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitStreamEvent relays one live event from the stream into the update
// loop; the handler re-arms it after every delivery.
func waitStreamEvent(ch <-chan chatapi.StreamEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return streamEventMsg{event: ev}
	}
}

func loadSessionCmd(store *session.Store) tea.Cmd {
	return func() tea.Msg {
		sess, err := store.Load()
		return sessionLoadedMsg{sess: sess, err: err}
	}
}

func (m model) loadChannelsCmd() tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		channels, err := api.ListChannels(ctx, token)
		if err != nil {
			return channelsLoadedMsg{err: err}
		}
		dms, err := api.ListDMs(ctx, token)
		if err != nil {
			return channelsLoadedMsg{err: err}
		}
		users := api.Users(ctx, token)
		for i := range dms {
			if u, ok := users[dms[i].PeerUser]; ok {
				dms[i].Name = u.ResolvedName()
			}
		}
		return channelsLoadedMsg{channels: append(channels, dms...)}
	}
}

func (m model) loadHistoryCmd(channelID string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		msgs, err := api.History(ctx, token, channelID, historyPageSize)
		return historyLoadedMsg{channelID: channelID, messages: msgs, err: err}
	}
}

func (m model) loadThreadCmd(channelID, parentTS string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		replies, err := api.ThreadReplies(ctx, token, channelID, parentTS)
		return threadRepliesMsg{channelID: channelID, parentTS: parentTS, replies: replies, err: err}
	}
}

func (m model) sendMessageCmd(channelID, text, threadTS string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var ts string
		var err error
		if threadTS == "" {
			ts, err = api.PostMessage(ctx, token, channelID, text)
		} else {
			ts, err = api.PostThreadReply(ctx, token, channelID, text, threadTS)
		}
		return sendResultMsg{channelID: channelID, threadTS: threadTS, ts: ts, text: text, err: err}
	}
}

func (m model) editMessageCmd(channelID, ts, text string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := api.UpdateMessage(ctx, token, channelID, ts, text)
		return messageEditedMsg{channelID: channelID, ts: ts, text: text, err: err}
	}
}

func (m model) deleteMessageCmd(channelID, ts string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := api.DeleteMessage(ctx, token, channelID, ts)
		return messageDeletedMsg{channelID: channelID, ts: ts, err: err}
	}
}

func (m model) reactionCmd(channelID, ts, name string, remove bool) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		if remove {
			err = api.RemoveReaction(ctx, token, channelID, ts, name)
		} else {
			err = api.AddReaction(ctx, token, channelID, ts, name)
		}
		return reactionResultMsg{channelID: channelID, ts: ts, name: name, removed: remove, err: err}
	}
}

func (m model) uploadFileCmd(channelID, path, comment string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		fileID, err := api.UploadFile(ctx, token, channelID, path, "", comment)
		return uploadDoneMsg{channelID: channelID, fileID: fileID, err: err}
	}
}

// downloadFileCmd saves a shared file into the data directory, resolving
// the freshest private URL first.
func (m model) downloadFileCmd(file chatapi.File, destDir string) tea.Cmd {
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		info, err := api.FileInfo(ctx, token, file.ID)
		if err != nil {
			return downloadDoneMsg{err: err}
		}
		src := info.URLPrivateDownload
		if src == "" {
			src = info.URLPrivate
		}
		if src == "" {
			return downloadDoneMsg{err: fmt.Errorf("file %s has no download url", file.ID)}
		}
		if err := os.MkdirAll(destDir, 0o700); err != nil {
			return downloadDoneMsg{err: err}
		}
		dest := filepath.Join(destDir, filepath.Base(info.Name))
		if err := api.DownloadFile(ctx, token, src, dest); err != nil {
			return downloadDoneMsg{err: err}
		}
		return downloadDoneMsg{path: dest}
	}
}

// copyToClipboardCmd shells out to the first clipboard tool the platform
// offers. Payloads are capped so a pasted log dump cannot wedge the pipe.
func copyToClipboardCmd(text string) tea.Cmd {
	return func() tea.Msg {
		text = truncateBytes(text, clipboardMaxBytes)
		tools := []struct {
			name string
			args []string
		}{
			{"pbcopy", nil},
			{"wl-copy", nil},
			{"xclip", []string{"-selection", "clipboard"}},
			{"xsel", []string{"--clipboard", "--input"}},
		}
		for _, tool := range tools {
			if _, err := exec.LookPath(tool.name); err != nil {
				continue
			}
			cmd := exec.Command(tool.name, tool.args...)
			cmd.Stdin = strings.NewReader(text)
			if err := cmd.Run(); err != nil {
				return clipboardMsg{err: err}
			}
			return clipboardMsg{}
		}
		return clipboardMsg{err: fmt.Errorf("no clipboard tool found (pbcopy/wl-copy/xclip/xsel)")}
	}
}

// oauthConnectCmd runs the loopback half of the OAuth flow: wait for the
// browser redirect, trade the code for tokens, and verify them.
func oauthConnectCmd(api *chatapi.Client, cfg *config.Config) tea.Cmd {
	return func() tea.Msg {
		ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", cfg.RedirectPort))
		if err != nil {
			return oauthDoneMsg{err: fmt.Errorf("listen on redirect port: %w", err)}
		}
		codeCh := make(chan string, 1)
		srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Workspace connected. You can return to the terminal.")
			select {
			case codeCh <- code:
			default:
			}
		})}
		go srv.Serve(ln)
		defer srv.Close()

		select {
		case code := <-codeCh:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			grant, err := api.ExchangeOAuthCode(ctx, cfg.ClientID, cfg.ClientSecret, code, cfg.RedirectURI())
			if err != nil {
				return oauthDoneMsg{err: err}
			}
			ws := chatapi.Workspace{
				TeamID:    grant.TeamID,
				TeamName:  grant.TeamName,
				UserID:    grant.UserID,
				UserToken: grant.UserToken,
				AppToken:  grant.AppToken,
			}
			info, err := api.TestAuth(ctx, ws.UserToken)
			if err != nil {
				return oauthDoneMsg{err: fmt.Errorf("verify new workspace: %w", err)}
			}
			if ws.TeamID == "" {
				ws.TeamID = info.TeamID
			}
			if ws.TeamName == "" {
				ws.TeamName = info.TeamName
			}
			if ws.UserID == "" {
				ws.UserID = info.UserID
			}
			return oauthDoneMsg{ws: ws}
		case <-time.After(oauthFlowTimeout):
			return oauthDoneMsg{err: fmt.Errorf("no authorization callback within %s", oauthFlowTimeout)}
		}
	}
}

// agentStartCmd launches the helper, pairing fresh or reattaching with a
// saved bearer.
func agentStartCmd(runner *agent.Runner, port int, bearer string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runner.CheckBinary(ctx); err != nil {
			return agentStartedMsg{err: err}
		}
		if bearer != "" {
			if err := runner.StartWithBearer(ctx, port, bearer); err == nil {
				return agentStartedMsg{bearer: bearer}
			}
			// Saved token no longer works; fall through to a fresh pairing.
		}
		if err := runner.StartAndPair(ctx, port); err != nil {
			return agentStartedMsg{err: err}
		}
		return agentStartedMsg{bearer: runner.Gateway().Bearer()}
	}
}

// agentCommandCmd posts one command to the helper and relays its reply into
// the channel that asked.
func (m model) agentCommandCmd(payload agent.Payload, channelID, threadTS string) tea.Cmd {
	gw := m.runner.Gateway()
	api, token := m.api, m.workspace.UserToken
	return func() tea.Msg {
		if gw == nil || !gw.Paired() {
			return agentReplyMsg{err: fmt.Errorf("agent not running; try /agent start")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), agentReplyTimeout)
		defer cancel()
		reply, err := gw.Send(ctx, payload)
		if err != nil {
			return agentReplyMsg{channelID: channelID, err: err}
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return agentReplyMsg{channelID: channelID, err: fmt.Errorf("agent returned an empty reply")}
		}
		var ts string
		if threadTS == "" {
			ts, err = api.PostMessage(ctx, token, channelID, reply)
		} else {
			ts, err = api.PostThreadReply(ctx, token, channelID, reply, threadTS)
		}
		return agentReplyMsg{channelID: channelID, threadTS: threadTS, reply: reply, ts: ts, err: err}
	}
}
