package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"skiff/internal/chatapi"
)

const timelineMaxChars = 900

type uiTheme struct {
	root         lipgloss.Style
	header       lipgloss.Style
	panel        lipgloss.Style
	panelTitle   lipgloss.Style
	footer       lipgloss.Style
	status       lipgloss.Style
	errorStatus  lipgloss.Style
	inputPanel   lipgloss.Style
	author       lipgloss.Style
	ownAuthor    lipgloss.Style
	agentAuthor  lipgloss.Style
	muted        lipgloss.Style
	unreadBadge  lipgloss.Style
	channelPick  lipgloss.Style
	threadMarker lipgloss.Style
	helpText     lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	bg := lipgloss.Color("#120924")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),
		footer: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		status: lipgloss.NewStyle().
			Foreground(mint),
		errorStatus: lipgloss.NewStyle().
			Foreground(pink).
			Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		author: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),
		ownAuthor: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		agentAuthor: lipgloss.NewStyle().
			Foreground(pink).
			Bold(true),
		muted: lipgloss.NewStyle().
			Foreground(muted),
		unreadBadge: lipgloss.NewStyle().
			Background(pink).
			Foreground(lipgloss.Color("#22062f")).
			Bold(true).
			Padding(0, 1),
		channelPick: lipgloss.NewStyle().
			Background(blue).
			Foreground(lipgloss.Color("#0b1030")).
			Bold(true),
		threadMarker: lipgloss.NewStyle().
			Foreground(pink),
		helpText: lipgloss.NewStyle().
			Foreground(muted),
	}
}

func (m model) View() string {
	if m.startupErr != nil {
		errorPanel := m.theme.panel.
			Width(maxInt(20, m.width-4)).
			Render(
				m.theme.panelTitle.Render("Skiff Startup Failed") + "\n\n" +
					m.theme.errorStatus.Render(chatapi.Redact(m.startupErr.Error())) + "\n\n" +
					m.theme.helpText.Render("Press q or Ctrl+C to exit."),
			)
		return m.theme.root.Render(errorPanel)
	}
	header := m.renderHeader()
	content := m.renderContent()
	input := m.renderInput()
	footer := m.renderFooter()
	out := lipgloss.JoinVertical(lipgloss.Left, header, content, input, footer)
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m *model) renderHeader() string {
	team := m.workspace.TeamName
	if team == "" {
		team = "not connected"
	}
	channel := ""
	if ch, ok := m.activeChannel(); ok {
		channel = " · " + ch.DisplayName()
	}
	stream := ternary(m.streamLive, "live", "offline")
	parts := fmt.Sprintf("skiff · %s%s · stream %s · agent %s", team, channel, stream, m.agentStatus)
	if m.inflight {
		parts += " " + m.spinner.View()
	}
	return m.theme.header.Width(maxInt(30, m.width-4)).Render(parts)
}

func (m *model) renderContent() string {
	left := m.theme.panel.Render(
		m.theme.panelTitle.Render("Channels") + "\n" + m.sidebar.View(),
	)
	title := "Timeline"
	if ts := m.activeThread[m.activeChannelID()]; ts != "" {
		title = "Thread " + ts
	}
	right := m.theme.panel.Render(
		m.theme.panelTitle.Render(title) + "\n" + m.timeline.View(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func (m *model) renderInput() string {
	return m.theme.inputPanel.Width(maxInt(30, m.width-4)).Render(m.input.View())
}

func (m *model) renderFooter() string {
	status := m.theme.status.Render(m.statusLine)
	typing := m.typingLine()
	if typing != "" {
		status += "  " + m.theme.muted.Render(typing)
	}
	keys := m.theme.helpText.Render("tab focus · enter send · esc quit · /help")
	return m.theme.footer.Width(maxInt(30, m.width-4)).Render(status + "\n" + keys)
}

func (m *model) renderQuitModal() string {
	return m.theme.panel.
		Padding(1, 3).
		Render(m.theme.panelTitle.Render("Quit skiff?") + "\n\n" +
			m.theme.helpText.Render("y/enter to quit · n/esc to stay"))
}

func (m *model) typingLine() string {
	channelID := m.activeChannelID()
	var names []string
	for key := range m.typing {
		ch, user, ok := strings.Cut(key, "/")
		if !ok || ch != channelID {
			continue
		}
		names = append(names, user)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, ", ") + " typing..."
}

func (m *model) renderSidebar() string {
	if len(m.channels) == 0 {
		return m.theme.muted.Render("No channels yet.")
	}
	var b strings.Builder
	for i, ch := range m.channels {
		label := ch.DisplayName()
		if i == m.channelIndex {
			label = m.theme.channelPick.Render(label)
		}
		b.WriteString(label)
		if n := m.unread[ch.ID]; n > 0 {
			b.WriteString(" " + m.theme.unreadBadge.Render(fmt.Sprintf("%d", n)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderTimeline() string {
	channelID := m.activeChannelID()
	if channelID == "" {
		return m.theme.muted.Render("Select a channel to start.")
	}
	if ts := m.activeThread[channelID]; ts != "" {
		return m.renderThread(channelID, ts)
	}
	backlog := m.messages[channelID]
	if len(backlog) == 0 {
		return m.theme.muted.Render("No messages yet.")
	}
	var b strings.Builder
	for _, msg := range backlog {
		b.WriteString(m.renderMessage(msg))
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderThread(channelID, parentTS string) string {
	thread, ok := m.threads[threadKey(channelID, parentTS)]
	if !ok || len(thread.Replies) == 0 {
		return m.theme.muted.Render("Loading thread...")
	}
	var b strings.Builder
	b.WriteString(m.renderMessage(thread.Replies[0]))
	if thread.Collapsed {
		b.WriteString(m.theme.muted.Render(fmt.Sprintf("%d replies hidden · /thread to expand", len(thread.Replies)-1)))
		return strings.TrimSpace(b.String())
	}
	if len(thread.Replies) > 1 {
		b.WriteString(m.theme.threadMarker.Render(strings.Repeat("·", 12)) + "\n")
	}
	for _, msg := range thread.Replies[1:] {
		b.WriteString(m.renderMessage(msg))
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderMessage(msg chatapi.Message) string {
	if msg.Deleted {
		return m.theme.muted.Render(shortClock(msg.Time)+" message deleted") + "\n\n"
	}
	style := m.theme.author
	if msg.IsAgent {
		style = m.theme.agentAuthor
	} else if msg.UserID == m.workspace.UserID {
		style = m.theme.ownAuthor
	}
	header := fmt.Sprintf("%s %s", shortClock(msg.Time), msg.Username)
	if msg.Edited {
		header += " (edited)"
	}
	if msg.ReplyCount > 0 {
		header += fmt.Sprintf(" [%d replies]", msg.ReplyCount)
	}
	var b strings.Builder
	b.WriteString(style.Render(header))
	b.WriteString("\n")
	text := truncateRunes(msg.Text, timelineMaxChars)
	b.WriteString(wrapText(text, maxInt(24, m.timeline.Width-2)))
	for _, f := range msg.Files {
		b.WriteString("\n" + m.theme.muted.Render(fmt.Sprintf("📎 %s (%s)", f.Name, formatFileSize(f.Size))))
	}
	if len(msg.Reactions) > 0 {
		var reactions []string
		for _, r := range msg.Reactions {
			if r.Count > 0 {
				reactions = append(reactions, fmt.Sprintf(":%s: %d", r.Name, r.Count))
			}
		}
		if len(reactions) > 0 {
			b.WriteString("\n" + m.theme.muted.Render(strings.Join(reactions, "  ")))
		}
	}
	b.WriteString("\n\n")
	return b.String()
}

func (m *model) renderPanes() {
	prevTimelineYOffset := m.timeline.YOffset
	prevTimelineAtBottom := m.timeline.AtBottom()

	contentHeight := maxInt(8, m.height-10)
	contentWidth := maxInt(40, m.width-4)
	leftWidth := clampInt(int(float64(contentWidth)*0.28), 22, 40)
	rightWidth := contentWidth - leftWidth - 1

	m.sidebar.Width = maxInt(16, leftWidth-4)
	m.sidebar.Height = maxInt(5, contentHeight-3)
	m.timeline.Width = maxInt(24, rightWidth-4)
	m.timeline.Height = maxInt(5, contentHeight-3)

	m.sidebar.SetContent(m.renderSidebar())
	m.timeline.SetContent(m.renderTimeline())
	if prevTimelineAtBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevTimelineYOffset)
	}
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-6)
}
