package chatapi

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelDisplayName(t *testing.T) {
	dm := Channel{ID: "D1", Name: "ana", IsDM: true}
	if got := dm.DisplayName(); got != "@ ana" {
		t.Fatalf("DisplayName() = %q, want %q", got, "@ ana")
	}
	ch := Channel{ID: "C1", Name: "general"}
	if got := ch.DisplayName(); got != "# general" {
		t.Fatalf("DisplayName() = %q, want %q", got, "# general")
	}
}

func TestResolvedNamePrecedence(t *testing.T) {
	cases := []struct {
		user User
		want string
	}{
		{User{Name: "abot", DisplayName: "Ana", RealName: "Ana Torres"}, "Ana"},
		{User{Name: "abot", RealName: "Ana Torres"}, "Ana Torres"},
		{User{Name: "abot"}, "abot"},
	}
	for _, tc := range cases {
		if got := tc.user.ResolvedName(); got != tc.want {
			t.Fatalf("ResolvedName() = %q, want %q", got, tc.want)
		}
	}
}

func TestTsTime(t *testing.T) {
	at, ok := tsTime("1700000000.123456")
	if !ok {
		t.Fatal("tsTime rejected a valid timestamp-id")
	}
	if want := time.Unix(1700000000, 0).UTC(); !at.Equal(want) {
		t.Fatalf("tsTime = %v, want %v", at, want)
	}
	if _, ok := tsTime("not-a-ts"); ok {
		t.Fatal("tsTime accepted garbage")
	}
}

func TestWireMessageConversion(t *testing.T) {
	users := map[string]User{"U1": {ID: "U1", Name: "ana", DisplayName: "Ana"}}

	raw := []byte(`{"ts":"1700000000.000100","user":"U1","text":"hi","thread_ts":"1700000000.000050","edited":{"user":"U1"},"reply_count":2}`)
	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg, ok := wm.toMessage(users)
	if !ok {
		t.Fatal("toMessage dropped a valid message")
	}
	if msg.Username != "Ana" {
		t.Fatalf("Username = %q, want the resolved display name", msg.Username)
	}
	if !msg.Edited || msg.ThreadTS != "1700000000.000050" || msg.ReplyCount != 2 {
		t.Fatalf("conversion lost fields: %+v", msg)
	}

	unknown, _ := wireMessage{TS: "1700000000.000200", User: "U9", Text: "yo"}.toMessage(users)
	if unknown.Username != "U9" {
		t.Fatalf("unknown author rendered as %q, want the raw id", unknown.Username)
	}
}

func TestWireMessageDropsIncomplete(t *testing.T) {
	users := map[string]User{}
	for _, wm := range []wireMessage{
		{User: "U1", Text: "no ts"},
		{TS: "1700000000.000100", Text: "no author"},
		{TS: "garbage", User: "U1"},
	} {
		if _, ok := wm.toMessage(users); ok {
			t.Fatalf("toMessage accepted incomplete message %+v", wm)
		}
	}
}

func TestWireMessageDeletedMarkers(t *testing.T) {
	byFlag := wireMessage{TS: "1700000000.000100", User: "U1", IsDeleted: true}
	if msg, _ := byFlag.toMessage(nil); !msg.Deleted {
		t.Fatal("is_deleted flag ignored")
	}
	byField := wireMessage{TS: "1700000000.000100", User: "U1", DeletedAt: json.RawMessage(`"1700000001.000000"`)}
	if msg, _ := byField.toMessage(nil); !msg.Deleted {
		t.Fatal("deleted_at marker ignored")
	}
	nullField := wireMessage{TS: "1700000000.000100", User: "U1", DeletedAt: json.RawMessage(`null`)}
	if msg, _ := nullField.toMessage(nil); msg.Deleted {
		t.Fatal("null deleted_at treated as deleted")
	}
}
