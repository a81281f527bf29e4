package agent

import "testing"

func TestParseSlash(t *testing.T) {
	cases := []struct {
		input string
		kind  CommandKind
		arg   string
	}{
		{"/resume #general", CommandResume, "general"},
		{"/resume general", CommandResume, "general"},
		{"/summarize #incidents", CommandResume, "incidents"},
		{"/draft a polite decline", CommandDraft, "a polite decline"},
		{"/search rollout checklist", CommandSearch, "rollout checklist"},
		{"/frobnicate everything", CommandUnknown, "everything"},
		{"  /resume #ops  ", CommandResume, "ops"},
	}
	for _, tc := range cases {
		cmd, ok := ParseSlash(tc.input)
		if !ok {
			t.Fatalf("ParseSlash(%q) not recognized", tc.input)
		}
		if cmd.Kind != tc.kind || cmd.Argument != tc.arg {
			t.Fatalf("ParseSlash(%q) = %v %q, want %v %q", tc.input, cmd.Kind, cmd.Argument, tc.kind, tc.arg)
		}
	}
}

func TestParseSlashIgnoresPlainText(t *testing.T) {
	for _, input := range []string{"hello there", "deploy / restart", ""} {
		if _, ok := ParseSlash(input); ok {
			t.Fatalf("ParseSlash(%q) recognized non-directive text", input)
		}
	}
}

func TestIsMention(t *testing.T) {
	if !IsMention("hey @skiff what changed overnight?") {
		t.Fatal("mention not detected")
	}
	if !IsMention("HEY @SKIFF") {
		t.Fatal("mention detection must be case-insensitive")
	}
	if IsMention("plain message") {
		t.Fatal("false positive mention")
	}
}

func TestWebhookPayload(t *testing.T) {
	cmd, _ := ParseSlash("/resume #general")
	p := cmd.WebhookPayload("U7", "C1", "")
	if p.Command != "resume" || p.Argument != "general" {
		t.Fatalf("payload = %+v", p)
	}
	if p.User != "U7" || p.Channel != "C1" {
		t.Fatalf("conversation context lost: %+v", p)
	}
	if p.RequestID == "" {
		t.Fatal("request id missing")
	}
	if again := cmd.WebhookPayload("U7", "C1", ""); again.RequestID == p.RequestID {
		t.Fatal("request ids must be unique per call")
	}
}

func TestMentionPayload(t *testing.T) {
	p := MentionPayload("U7", "C1", "hey @skiff draft a standup note")
	if p.Command != "draft" || p.Message != "hey @skiff draft a standup note" {
		t.Fatalf("payload = %+v", p)
	}
	if p.RequestID == "" {
		t.Fatal("request id missing")
	}
}
