package sessions

import (
	"context"
	"strings"
	"testing"

	"agentd/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", 16)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertUser_CreatesOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u1, err := store.UpsertUser(ctx, "alice")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	u2, err := store.UpsertUser(ctx, "alice")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("expected same user id, got %q and %q", u1.ID, u2.ID)
	}
}

func TestAppendMessage_OrderedByTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u, _ := store.UpsertUser(ctx, "bob")
	sess, _ := store.UpsertSession(ctx, u.ID, "main")

	for _, content := range []string{"one", "two", "three"} {
		if err := store.AppendMessage(ctx, &models.Message{
			SessionID: sess.ID, Role: models.RoleUser, Content: content,
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, sess.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("messages out of order: %+v", msgs)
	}
}

func TestResetHistory_ClearsMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u, _ := store.UpsertUser(ctx, "carol")
	sess, _ := store.UpsertSession(ctx, u.ID, "main")
	store.AppendMessage(ctx, &models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: "hi"})

	if err := store.ResetHistory(ctx, sess.ID); err != nil {
		t.Fatalf("ResetHistory: %v", err)
	}
	msgs, err := store.ListMessages(ctx, sess.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(msgs))
	}
}

func TestSetMemory_TruncatesToLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u, _ := store.UpsertUser(ctx, "dave")

	long := strings.Repeat("x", 100)
	if err := store.SetMemory(ctx, u.ID, long); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	got, err := store.GetMemory(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("expected truncation to 16 bytes, got %d", len(got))
	}
}
