package agent

import (
	"strings"

	"github.com/google/uuid"
)

// Mention is the inline trigger that routes a message to the helper.
const Mention = "@skiff"

// CommandKind names the helper operations reachable from the input line.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandResume
	CommandDraft
	CommandSearch
)

func (k CommandKind) String() string {
	switch k {
	case CommandResume:
		return "resume"
	case CommandDraft:
		return "draft"
	case CommandSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Command is one parsed helper invocation.
type Command struct {
	Kind     CommandKind
	Argument string
}

// Payload is the JSON body posted to the helper's webhook.
type Payload struct {
	Command   string `json:"command"`
	Argument  string `json:"argument,omitempty"`
	User      string `json:"user"`
	Channel   string `json:"channel"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
}

// ParseSlash recognizes a leading slash directive. The argument is
// everything after the verb, trimmed; a leading '#' on a channel argument
// is stripped.
func ParseSlash(input string) (Command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return Command{}, false
	}
	verb, rest, _ := strings.Cut(input[1:], " ")
	arg := strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "resume", "summarize":
		return Command{Kind: CommandResume, Argument: strings.TrimPrefix(arg, "#")}, true
	case "draft":
		return Command{Kind: CommandDraft, Argument: arg}, true
	case "search":
		return Command{Kind: CommandSearch, Argument: arg}, true
	default:
		return Command{Kind: CommandUnknown, Argument: arg}, true
	}
}

// IsMention reports whether free text addresses the helper inline.
func IsMention(input string) bool {
	return strings.Contains(strings.ToLower(input), Mention)
}

// WebhookPayload binds a command to its conversation context and stamps a
// fresh request id.
func (c Command) WebhookPayload(userID, channelID, message string) Payload {
	return Payload{
		Command:   c.Kind.String(),
		Argument:  c.Argument,
		User:      userID,
		Channel:   channelID,
		Message:   message,
		RequestID: uuid.NewString(),
	}
}

// MentionPayload wraps a plain mention as a draft request carrying the full
// message text.
func MentionPayload(userID, channelID, message string) Payload {
	return Payload{
		Command:   CommandDraft.String(),
		User:      userID,
		Channel:   channelID,
		Message:   message,
		RequestID: uuid.NewString(),
	}
}
