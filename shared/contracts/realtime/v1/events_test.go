package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "valid", env: Envelope{V: Version, Type: TypeSendMessage}},
		{name: "missing v", env: Envelope{Type: TypeSendMessage}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeSendMessage}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "telepathy"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecode_SendMessage(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(SendMessagePayload{ChannelID: "c42", Content: "hi"})
	ev, err := Decode(Envelope{V: Version, Type: TypeSendMessage, Payload: payload})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	p, ok := ev.(SendMessagePayload)
	if !ok {
		t.Fatalf("wrong variant: %T", ev)
	}
	if p.ChannelID != "c42" || p.Content != "hi" {
		t.Fatalf("payload: %+v", p)
	}
}

func TestDecode_EveryInboundType(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"channel_id":"c42","message_ids":["m1"]}`)
	cases := []struct {
		typ  string
		want InboundEvent
	}{
		{typ: TypeSendMessage, want: SendMessagePayload{}},
		{typ: TypeTypingStart, want: TypingStartPayload{}},
		{typ: TypeTypingStop, want: TypingStopPayload{}},
		{typ: TypeMarkMessagesRead, want: MarkMessagesReadPayload{}},
		{typ: TypeJoinConversation, want: JoinConversationPayload{}},
		{typ: TypeLeaveConversation, want: LeaveConversationPayload{}},
	}

	for _, tc := range cases {
		ev, err := Decode(Envelope{V: Version, Type: tc.typ, Payload: payload})
		if err != nil {
			t.Fatalf("%s: %v", tc.typ, err)
		}
		// Variant identity, not field equality.
		if gotT, wantT := typeName(ev), typeName(tc.want); gotT != wantT {
			t.Fatalf("%s: got %s, want %s", tc.typ, gotT, wantT)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case SendMessagePayload:
		return "SendMessagePayload"
	case TypingStartPayload:
		return "TypingStartPayload"
	case TypingStopPayload:
		return "TypingStopPayload"
	case MarkMessagesReadPayload:
		return "MarkMessagesReadPayload"
	case JoinConversationPayload:
		return "JoinConversationPayload"
	case LeaveConversationPayload:
		return "LeaveConversationPayload"
	default:
		return "unknown"
	}
}

func TestDecode_RejectsServerTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{TypeNewMessage, TypeUserTyping, TypeMessagesRead, TypeUserStatusChange, TypeError} {
		if _, err := Decode(Envelope{V: Version, Type: typ, Payload: json.RawMessage(`{}`)}); err == nil {
			t.Fatalf("%s: expected rejection", typ)
		}
	}
}

func TestDecode_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	env := Envelope{
		V:       Version,
		Type:    TypeSendMessage,
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{"channel_id":`),
	}
	if _, err := Decode(env); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
