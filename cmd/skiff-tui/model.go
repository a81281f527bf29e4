package main

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"skiff/internal/agent"
	"skiff/internal/chatapi"
	"skiff/internal/config"
	"skiff/internal/session"
)

const (
	channelBacklogMax = 500
	agentLogMax       = 50
	typingTTL         = 4 * time.Second
	tickInterval      = 2 * time.Second
)

type focusZone int

const (
	focusInput focusZone = iota
	focusSidebar
)

type model struct {
	cfg    *config.Config
	api    *chatapi.Client
	store  *session.Store
	runner *agent.Runner
	logger zerolog.Logger

	sess      *session.Session
	workspace chatapi.Workspace

	channels     []chatapi.Channel
	channelIndex int
	messages     map[string][]chatapi.Message
	threads      map[string]chatapi.Thread
	activeThread map[string]string
	unread       map[string]int
	typing       map[string]time.Time

	streamCh     <-chan chatapi.StreamEvent
	streamCancel context.CancelFunc
	streamLive   bool

	agentStatus agent.Status
	agentLog    []string

	ready       bool
	startupErr  error
	statusLine  string
	logs        []string
	inflight    bool
	focus       focusZone
	quitConfirm bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

func newModel(cfg *config.Config, api *chatapi.Client, store *session.Store, runner *agent.Runner, logger zerolog.Logger) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Message, /command, or @skiff for the helper"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	sidebar.MouseWheelEnabled = true
	sidebar.MouseWheelDelta = 4

	return model{
		cfg:          cfg,
		api:          api,
		store:        store,
		runner:       runner,
		logger:       logger,
		messages:     map[string][]chatapi.Message{},
		threads:      map[string]chatapi.Thread{},
		activeThread: map[string]string{},
		unread:       map[string]int{},
		typing:       map[string]time.Time{},
		statusLine:   "loading session...",
		logs:         []string{},
		input:        input,
		timeline:     timeline,
		sidebar:      sidebar,
		spinner:      sp,
		theme:        newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadSessionCmd(m.store),
		tickEvery(tickInterval),
	)
}

func (m *model) activeChannelID() string {
	if m.channelIndex < 0 || m.channelIndex >= len(m.channels) {
		return ""
	}
	return m.channels[m.channelIndex].ID
}

func (m *model) activeChannel() (chatapi.Channel, bool) {
	if m.channelIndex < 0 || m.channelIndex >= len(m.channels) {
		return chatapi.Channel{}, false
	}
	return m.channels[m.channelIndex], true
}

func threadKey(channelID, parentTS string) string {
	return channelID + "/" + parentTS
}

// appendMessage adds one message to a channel backlog unless its
// timestamp-id is already there. Sent messages arrive twice: once from the
// send result and once echoed over the stream.
func (m *model) appendMessage(channelID string, msg chatapi.Message) bool {
	backlog := m.messages[channelID]
	for i := len(backlog) - 1; i >= 0 && i >= len(backlog)-25; i-- {
		if backlog[i].TS == msg.TS {
			return false
		}
	}
	backlog = append(backlog, msg)
	if len(backlog) > channelBacklogMax {
		backlog = backlog[len(backlog)-channelBacklogMax:]
	}
	m.messages[channelID] = backlog
	return true
}

func (m *model) mutateMessage(channelID, ts string, fn func(*chatapi.Message)) {
	backlog := m.messages[channelID]
	for i := range backlog {
		if backlog[i].TS == ts {
			fn(&backlog[i])
			return
		}
	}
}

func (m *model) lastOwnMessage(channelID string) (chatapi.Message, bool) {
	backlog := m.messages[channelID]
	for i := len(backlog) - 1; i >= 0; i-- {
		if backlog[i].UserID == m.workspace.UserID && !backlog[i].Deleted {
			return backlog[i], true
		}
	}
	return chatapi.Message{}, false
}

func (m *model) lastMessage(channelID string) (chatapi.Message, bool) {
	backlog := m.messages[channelID]
	for i := len(backlog) - 1; i >= 0; i-- {
		if !backlog[i].Deleted {
			return backlog[i], true
		}
	}
	return chatapi.Message{}, false
}

// startStream tears down any previous stream and starts one for the active
// workspace. The returned command arms the relay into the update loop.
func (m *model) startStream() tea.Cmd {
	if m.streamCancel != nil {
		m.streamCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.streamCancel = cancel
	sc := chatapi.NewSocketClient(m.api, m.workspace.AppToken, m.workspace.UserToken, m.logger)
	m.streamCh = sc.Events()
	go sc.Run(ctx)
	m.appendLog("event stream starting for " + m.workspace.TeamName)
	return waitStreamEvent(m.streamCh)
}

func (m *model) persistSession() {
	if m.sess == nil {
		return
	}
	if err := m.store.Save(m.sess); err != nil {
		m.logger.Error().Str("error", err.Error()).Msg("session save failed")
		m.appendLog("session save failed: " + compactSingleLine(err.Error(), 160))
	}
}

// applyWorkspace swaps all per-workspace state and kicks off channel load
// and a fresh event stream.
func (m *model) applyWorkspace(ws chatapi.Workspace) []tea.Cmd {
	m.workspace = ws
	m.channels = nil
	m.channelIndex = 0
	m.messages = map[string][]chatapi.Message{}
	m.threads = map[string]chatapi.Thread{}
	m.activeThread = map[string]string{}
	m.unread = map[string]int{}
	m.typing = map[string]time.Time{}
	m.api.InvalidateUsers()
	m.ready = false
	m.statusLine = "loading " + ws.TeamName + "..."

	cmds := []tea.Cmd{m.loadChannelsCmd()}
	if cmd := m.startStream(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (m *model) selectChannel(index int) tea.Cmd {
	if index < 0 || index >= len(m.channels) {
		return nil
	}
	m.channelIndex = index
	ch := m.channels[index]
	m.unread[ch.ID] = 0
	m.channels[index].UnreadCount = 0
	m.statusLine = "opening " + ch.DisplayName()
	return m.loadHistoryCmd(ch.ID)
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > 50 {
		m.logs = m.logs[len(m.logs)-50:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	safe := chatapi.Redact(err.Error())
	m.logger.Warn().Str("error", safe).Msg("ui error")
	m.appendLog("error: " + safe)
	m.statusLine = chatapi.UserMessage(chatapi.Classify(err))
}

func (m *model) appendAgentLog(line string) {
	m.agentLog = append(m.agentLog, compactSingleLine(line, 400))
	if len(m.agentLog) > agentLogMax {
		m.agentLog = m.agentLog[len(m.agentLog)-agentLogMax:]
	}
}

func (m *model) authorizeURL() string {
	return "https://slack.com/oauth/v2/authorize?client_id=" + url.QueryEscape(m.cfg.ClientID) +
		"&user_scope=channels:history,channels:read,chat:write,files:read,files:write,im:history,im:read,reactions:write,users:read" +
		"&redirect_uri=" + url.QueryEscape(m.cfg.RedirectURI())
}

func (m *model) shutdown() {
	if m.streamCancel != nil {
		m.streamCancel()
	}
	m.runner.Shutdown()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case sessionLoadedMsg:
		if msg.err != nil {
			m.startupErr = msg.err
			m.statusLine = "startup failed"
			m.logError(msg.err)
			return m, nil
		}
		if msg.sess == nil {
			m.sess = &session.Session{}
		} else {
			m.sess = msg.sess
		}
		ws, ok := m.sess.Active()
		if !ok {
			m.statusLine = "no workspace connected · /connect to begin"
			break
		}
		cmds = append(cmds, m.applyWorkspace(ws)...)
		if m.cfg.AgentAutoStart {
			cmds = append(cmds, agentStartCmd(m.runner, m.cfg.GatewayPort, m.sess.AgentBearer))
		}
	case channelsLoadedMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.channels = msg.channels
		m.ready = true
		m.statusLine = fmt.Sprintf("%s · %d channels", m.workspace.TeamName, len(m.channels))
		if len(m.channels) > 0 {
			cmds = append(cmds, m.selectChannel(clampInt(m.channelIndex, 0, len(m.channels)-1)))
		}
		m.renderPanes()
	case historyLoadedMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.messages[msg.channelID] = msg.messages
		if ch, ok := m.activeChannel(); ok && ch.ID == msg.channelID {
			m.statusLine = fmt.Sprintf("%s · %d messages", ch.DisplayName(), len(msg.messages))
		}
		m.renderPanes()
		m.timeline.GotoBottom()
	case threadRepliesMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		key := threadKey(msg.channelID, msg.parentTS)
		thread := chatapi.NewThread(msg.parentTS, msg.channelID)
		thread.Replies = msg.replies
		m.threads[key] = thread
		m.activeThread[msg.channelID] = msg.parentTS
		m.statusLine = fmt.Sprintf("thread open · %d replies", maxInt(0, len(msg.replies)-1))
		m.renderPanes()
	case sendResultMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		sent := chatapi.Message{
			TS:       msg.ts,
			UserID:   m.workspace.UserID,
			Username: "you",
			Text:     msg.text,
			ThreadTS: msg.threadTS,
			Time:     time.Now().UTC(),
		}
		if msg.threadTS == "" {
			m.appendMessage(msg.channelID, sent)
		} else if thread, ok := m.threads[threadKey(msg.channelID, msg.threadTS)]; ok {
			thread.Replies = append(thread.Replies, sent)
			m.threads[threadKey(msg.channelID, msg.threadTS)] = thread
		}
		m.statusLine = "sent"
		m.renderPanes()
		m.timeline.GotoBottom()
	case messageEditedMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.mutateMessage(msg.channelID, msg.ts, func(mm *chatapi.Message) {
			mm.Text = msg.text
			mm.Edited = true
		})
		m.statusLine = "message edited"
		m.renderPanes()
	case messageDeletedMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.mutateMessage(msg.channelID, msg.ts, func(mm *chatapi.Message) {
			mm.Deleted = true
		})
		m.statusLine = "message deleted"
		m.renderPanes()
	case reactionResultMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.mutateMessage(msg.channelID, msg.ts, func(mm *chatapi.Message) {
			for i := range mm.Reactions {
				if mm.Reactions[i].Name == msg.name {
					if msg.removed {
						mm.Reactions[i].Count = maxInt(0, mm.Reactions[i].Count-1)
					} else {
						mm.Reactions[i].Count++
					}
					return
				}
			}
			if !msg.removed {
				mm.Reactions = append(mm.Reactions, chatapi.Reaction{Name: msg.name, Count: 1})
			}
		})
		m.statusLine = ternary(msg.removed, "reaction removed", "reaction added")
		m.renderPanes()
	case uploadDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.statusLine = "file uploaded · " + msg.fileID
		m.appendLog("uploaded file " + msg.fileID)
	case downloadDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.statusLine = "saved " + msg.path
		m.appendLog("downloaded " + msg.path)
	case clipboardMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.statusLine = "copied to clipboard"
	case oauthDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.sess.AddWorkspace(msg.ws)
		m.persistSession()
		m.appendLog("connected workspace " + msg.ws.TeamName)
		cmds = append(cmds, m.applyWorkspace(msg.ws)...)
	case agentStartedMsg:
		m.inflight = false
		if msg.err != nil {
			m.agentStatus = m.runner.Status()
			m.logError(msg.err)
			break
		}
		m.agentStatus = m.runner.Status()
		if m.sess != nil && msg.bearer != "" && m.sess.AgentBearer != msg.bearer {
			m.sess.AgentBearer = msg.bearer
			m.persistSession()
		}
		m.statusLine = "agent " + m.agentStatus.String()
		m.appendLog("agent " + m.agentStatus.String())
	case agentReplyMsg:
		m.inflight = false
		m.agentStatus = m.runner.Status()
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.appendAgentLog(msg.reply)
		reply := chatapi.Message{
			TS:       msg.ts,
			UserID:   m.workspace.UserID,
			Username: "skiff-agent",
			Text:     msg.reply,
			ThreadTS: msg.threadTS,
			Time:     time.Now().UTC(),
			IsAgent:  true,
		}
		if msg.threadTS == "" {
			m.appendMessage(msg.channelID, reply)
		} else if thread, ok := m.threads[threadKey(msg.channelID, msg.threadTS)]; ok {
			thread.Replies = append(thread.Replies, reply)
			m.threads[threadKey(msg.channelID, msg.threadTS)] = thread
		}
		m.statusLine = "agent replied"
		m.renderPanes()
		m.timeline.GotoBottom()
	case streamEventMsg:
		m.handleStreamEvent(msg.event)
		cmds = append(cmds, waitStreamEvent(m.streamCh))
	case tickMsg:
		changed := false
		now := time.Now()
		for key, until := range m.typing {
			if now.After(until) {
				delete(m.typing, key)
				changed = true
			}
		}
		if changed {
			m.renderPanes()
		}
		m.agentStatus = m.runner.Status()
		cmds = append(cmds, tickEvery(tickInterval))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.quitConfirm {
			break
		}
		var cmd tea.Cmd
		if m.focus == focusSidebar {
			m.sidebar, cmd = m.sidebar.Update(msg)
		} else {
			m.timeline, cmd = m.timeline.Update(msg)
		}
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.shutdown()
		return m, tea.Quit
	}
	if m.startupErr != nil {
		if key := msg.String(); key == "q" || key == "esc" {
			m.shutdown()
			return m, tea.Quit
		}
		return m, nil
	}
	if m.quitConfirm {
		switch msg.String() {
		case "y", "Y", "enter":
			m.shutdown()
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}

	switch msg.String() {
	case "esc":
		if ts := m.activeThread[m.activeChannelID()]; ts != "" {
			delete(m.activeThread, m.activeChannelID())
			m.statusLine = "thread closed"
			m.renderPanes()
			return m, tea.Batch(cmds...)
		}
		m.quitConfirm = true
		m.renderPanes()
		return m, tea.Batch(cmds...)
	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
			m.statusLine = "channel list"
		} else {
			m.focus = focusInput
			m.input.Focus()
			m.statusLine = "compose"
		}
		m.renderPanes()
		return m, tea.Batch(cmds...)
	}

	if m.focus == focusSidebar {
		switch msg.String() {
		case "up", "k":
			m.channelIndex = maxInt(0, m.channelIndex-1)
			m.renderPanes()
		case "down", "j":
			m.channelIndex = minInt(maxInt(0, len(m.channels)-1), m.channelIndex+1)
			m.renderPanes()
		case "enter":
			if cmd := m.selectChannel(m.channelIndex); cmd != nil {
				cmds = append(cmds, cmd)
			}
			m.focus = focusInput
			m.input.Focus()
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}

	switch msg.String() {
	case "enter":
		if m.inflight {
			return m, tea.Batch(cmds...)
		}
		raw := strings.TrimSpace(m.input.Value())
		if raw == "" {
			return m, tea.Batch(cmds...)
		}
		m.input.SetValue("")
		if strings.HasPrefix(raw, "/") {
			if cmd := m.handleSlash(raw); cmd != nil {
				m.inflight = true
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}
		channelID := m.activeChannelID()
		if channelID == "" {
			m.statusLine = "no channel selected"
			return m, tea.Batch(cmds...)
		}
		m.inflight = true
		threadTS := m.activeThread[channelID]
		cmds = append(cmds, m.sendMessageCmd(channelID, raw, threadTS))
		if agent.IsMention(raw) && m.agentStatus == agent.StatusActive {
			payload := agent.MentionPayload(m.workspace.UserID, channelID, raw)
			cmds = append(cmds, m.agentCommandCmd(payload, channelID, threadTS))
		}
		return m, tea.Batch(cmds...)
	case "pgup", "ctrl+b":
		m.timeline.LineUp(8)
		return m, tea.Batch(cmds...)
	case "pgdown", "ctrl+f":
		m.timeline.LineDown(8)
		return m, tea.Batch(cmds...)
	case "up":
		if strings.TrimSpace(m.input.Value()) == "" {
			m.timeline.LineUp(4)
			return m, tea.Batch(cmds...)
		}
	case "down":
		if strings.TrimSpace(m.input.Value()) == "" {
			m.timeline.LineDown(4)
			return m, tea.Batch(cmds...)
		}
	case "home":
		m.timeline.GotoTop()
		return m, tea.Batch(cmds...)
	case "end":
		m.timeline.GotoBottom()
		return m, tea.Batch(cmds...)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleStreamEvent folds one live event into channel state. Events for the
// open channel land in the timeline; everything else bumps unread badges.
func (m *model) handleStreamEvent(ev chatapi.StreamEvent) {
	switch ev.Kind {
	case chatapi.EventConnected:
		m.streamLive = true
		m.appendLog("event stream live")
		m.renderPanes()
	case chatapi.EventDisconnected:
		m.streamLive = false
		m.renderPanes()
	case chatapi.EventMessage:
		msg := ev.Message
		if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
			key := threadKey(ev.Channel, msg.ThreadTS)
			if thread, ok := m.threads[key]; ok {
				thread.Replies = append(thread.Replies, msg)
				m.threads[key] = thread
			}
			m.mutateMessage(ev.Channel, msg.ThreadTS, func(mm *chatapi.Message) {
				mm.ReplyCount++
			})
			m.renderPanes()
			return
		}
		appended := m.appendMessage(ev.Channel, msg)
		if !appended {
			return
		}
		delete(m.typing, ev.Channel+"/"+msg.UserID)
		if ev.Channel == m.activeChannelID() {
			m.renderPanes()
			m.timeline.GotoBottom()
			return
		}
		m.unread[ev.Channel]++
		for i := range m.channels {
			if m.channels[i].ID == ev.Channel {
				m.channels[i].UnreadCount = m.unread[ev.Channel]
			}
		}
		m.renderPanes()
	case chatapi.EventTyping:
		if ev.User == m.workspace.UserID {
			return
		}
		m.typing[ev.Channel+"/"+ev.User] = time.Now().Add(typingTTL)
		if ev.Channel == m.activeChannelID() {
			m.renderPanes()
		}
	case chatapi.EventChannelJoined:
		m.appendLog(fmt.Sprintf("%s joined %s", ev.User, ev.Channel))
	case chatapi.EventChannelLeft:
		m.appendLog(fmt.Sprintf("%s left %s", ev.User, ev.Channel))
	}
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return nil
	}
	verb := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	channelID := m.activeChannelID()

	switch verb {
	case "help":
		m.statusLine = "/connect /workspace /agent /thread /react /edit /delete /copy /upload /download /refresh · /resume /draft /search"
		m.inflight = false
		return nil
	case "connect":
		if !m.cfg.OAuthConfigured() {
			m.inflight = false
			m.statusLine = "set SKIFF_CLIENT_ID and SKIFF_CLIENT_SECRET first"
			return nil
		}
		m.statusLine = "waiting for browser authorization..."
		m.appendLog("authorize at: " + m.authorizeURL())
		return oauthConnectCmd(m.api, m.cfg)
	case "workspace":
		m.inflight = false
		if len(parts) < 2 {
			names := make([]string, 0, len(m.sess.Workspaces))
			for _, ws := range m.sess.Workspaces {
				names = append(names, ternary(ws.Active, "*"+ws.TeamName, ws.TeamName))
			}
			m.statusLine = "workspaces: " + strings.Join(names, ", ")
			return nil
		}
		target := strings.Join(parts[1:], " ")
		for _, ws := range m.sess.Workspaces {
			if ws.TeamID == target || strings.EqualFold(ws.TeamName, target) {
				if err := m.sess.SetActive(ws.TeamID); err != nil {
					m.logError(err)
					return nil
				}
				m.persistSession()
				active, _ := m.sess.Active()
				m.inflight = true
				return tea.Batch(m.applyWorkspace(active)...)
			}
		}
		m.statusLine = "no workspace " + target
		return nil
	case "disconnect":
		m.inflight = false
		if m.workspace.TeamID == "" {
			m.statusLine = "nothing to disconnect"
			return nil
		}
		removed := m.workspace.TeamName
		m.sess.Remove(m.workspace.TeamID)
		m.persistSession()
		m.appendLog("disconnected workspace " + removed)
		if ws, ok := m.sess.Active(); ok {
			m.inflight = true
			return tea.Batch(m.applyWorkspace(ws)...)
		}
		if m.streamCancel != nil {
			m.streamCancel()
			m.streamCancel = nil
			m.streamCh = nil
		}
		m.workspace = chatapi.Workspace{}
		m.channels = nil
		m.ready = false
		m.statusLine = "no workspace connected · /connect to begin"
		m.renderPanes()
		return nil
	case "agent":
		action := "status"
		if len(parts) > 1 {
			action = strings.ToLower(parts[1])
		}
		switch action {
		case "start":
			bearer := ""
			if m.sess != nil {
				bearer = m.sess.AgentBearer
			}
			m.statusLine = "starting agent..."
			return agentStartCmd(m.runner, m.cfg.GatewayPort, bearer)
		case "stop":
			m.runner.Shutdown()
			m.agentStatus = m.runner.Status()
			m.inflight = false
			m.statusLine = "agent stopped"
			return nil
		default:
			m.inflight = false
			m.agentStatus = m.runner.Status()
			m.statusLine = "agent " + m.agentStatus.String()
			return nil
		}
	case "thread":
		m.inflight = false
		if len(parts) > 1 && strings.ToLower(parts[1]) == "close" {
			delete(m.activeThread, channelID)
			m.statusLine = "thread closed"
			m.renderPanes()
			return nil
		}
		// A second /thread on the open thread folds its replies away.
		if ts := m.activeThread[channelID]; ts != "" {
			key := threadKey(channelID, ts)
			if thread, ok := m.threads[key]; ok {
				thread.ToggleCollapse()
				m.threads[key] = thread
				m.statusLine = ternary(thread.Collapsed, "thread collapsed", "thread expanded")
				m.renderPanes()
				return nil
			}
		}
		last, ok := m.lastMessage(channelID)
		if !ok {
			m.statusLine = "no message to open a thread on"
			return nil
		}
		parent := last.TS
		if last.ThreadTS != "" {
			parent = last.ThreadTS
		}
		m.inflight = true
		return m.loadThreadCmd(channelID, parent)
	case "react", "unreact":
		if len(parts) < 2 {
			m.inflight = false
			m.statusLine = "usage: /" + verb + " <emoji-name>"
			return nil
		}
		last, ok := m.lastMessage(channelID)
		if !ok {
			m.inflight = false
			m.statusLine = "no message to react to"
			return nil
		}
		name := strings.Trim(parts[1], ":")
		return m.reactionCmd(channelID, last.TS, name, verb == "unreact")
	case "edit":
		if len(parts) < 2 {
			m.inflight = false
			m.statusLine = "usage: /edit <new text>"
			return nil
		}
		last, ok := m.lastOwnMessage(channelID)
		if !ok {
			m.inflight = false
			m.statusLine = "no own message to edit"
			return nil
		}
		return m.editMessageCmd(channelID, last.TS, strings.Join(parts[1:], " "))
	case "delete":
		last, ok := m.lastOwnMessage(channelID)
		if !ok {
			m.inflight = false
			m.statusLine = "no own message to delete"
			return nil
		}
		return m.deleteMessageCmd(channelID, last.TS)
	case "copy":
		m.inflight = false
		last, ok := m.lastMessage(channelID)
		if !ok {
			m.statusLine = "nothing to copy"
			return nil
		}
		return copyToClipboardCmd(last.Text)
	case "upload":
		if len(parts) < 2 {
			m.inflight = false
			m.statusLine = "usage: /upload <path> [comment]"
			return nil
		}
		comment := ""
		if len(parts) > 2 {
			comment = strings.Join(parts[2:], " ")
		}
		m.statusLine = "uploading..."
		return m.uploadFileCmd(channelID, parts[1], comment)
	case "download":
		last, ok := m.lastMessage(channelID)
		if !ok || len(last.Files) == 0 {
			m.inflight = false
			m.statusLine = "no file on the last message"
			return nil
		}
		m.statusLine = "downloading " + last.Files[0].Name + "..."
		return m.downloadFileCmd(last.Files[0], filepath.Join(m.cfg.DataDir, "downloads"))
	case "refresh":
		m.api.InvalidateUsers()
		return tea.Batch(m.loadChannelsCmd(), m.loadHistoryCmd(channelID))
	}

	cmd, ok := agent.ParseSlash(raw)
	if !ok || cmd.Kind == agent.CommandUnknown {
		m.inflight = false
		m.statusLine = "unknown command · /help lists them"
		return nil
	}
	if channelID == "" {
		m.inflight = false
		m.statusLine = "no channel selected"
		return nil
	}
	if m.agentStatus != agent.StatusActive {
		m.inflight = false
		m.statusLine = "agent " + m.agentStatus.String() + " · try /agent start"
		return nil
	}
	m.statusLine = "asking the agent..."
	payload := cmd.WebhookPayload(m.workspace.UserID, channelID, "")
	if cmd.Kind == agent.CommandResume && cmd.Argument == "" {
		payload.Argument = channelID
	}
	return m.agentCommandCmd(payload, channelID, m.activeThread[channelID])
}
