package realtime

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryChatStore_InsertMessageMonotonicTimestamps(t *testing.T) {
	t.Parallel()

	s := NewInMemoryChatStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var prev StoredMessage
	for i := 0; i < 5; i++ {
		// Same wall clock on every insert; the store must still order them.
		msg, err := s.InsertMessage(context.Background(), InsertMessageInput{
			ChannelID: "c42",
			SenderID:  "u1",
			Content:   "x",
			Now:       now,
		})
		if err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		if i > 0 && !msg.CreatedAt.After(prev.CreatedAt) {
			t.Fatalf("timestamps not monotonic: %v then %v", prev.CreatedAt, msg.CreatedAt)
		}
		prev = msg
	}
}

func TestInMemoryChatStore_Membership(t *testing.T) {
	t.Parallel()

	s := NewInMemoryChatStore()
	s.AddChannel("c1", "u1", "u2")
	s.AddChannel("c2", "u1")

	ids, err := s.ConversationMembership(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ConversationMembership: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("channels: got %v", ids)
	}

	ok, err := s.IsParticipant(context.Background(), "c1", "u2")
	if err != nil || !ok {
		t.Fatalf("IsParticipant(c1,u2): %v %v", ok, err)
	}
	ok, err = s.IsParticipant(context.Background(), "c2", "u2")
	if err != nil || ok {
		t.Fatalf("IsParticipant(c2,u2): %v %v", ok, err)
	}
}

func TestInMemoryChatStore_ConditionalStatusWrite(t *testing.T) {
	t.Parallel()

	s := NewInMemoryChatStore()

	changed, err := s.SetUserStatus(context.Background(), "u1", "online")
	if err != nil || !changed {
		t.Fatalf("first write: changed=%v err=%v", changed, err)
	}
	changed, err = s.SetUserStatus(context.Background(), "u1", "online")
	if err != nil || changed {
		t.Fatalf("repeat write: changed=%v err=%v", changed, err)
	}
}

func TestInMemoryChatStore_UnknownUser(t *testing.T) {
	t.Parallel()

	s := NewInMemoryChatStore()
	if _, err := s.UserDisplayInfo(context.Background(), "ghost"); err != ErrUnknownUser {
		t.Fatalf("err: got %v, want ErrUnknownUser", err)
	}
}
