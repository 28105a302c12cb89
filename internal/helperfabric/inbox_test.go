package helperfabric

import "testing"

func TestInbox_EnqueueDequeueAllPreservesOrder(t *testing.T) {
	in := NewInbox()
	in.Enqueue("s1", "first")
	in.Enqueue("s1", "second")
	in.Enqueue("s2", "other session")

	if in.Depth("s1") != 2 {
		t.Fatalf("Depth(s1) = %d, want 2", in.Depth("s1"))
	}

	got := in.DequeueAll("s1")
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("DequeueAll(s1) = %v", got)
	}
	if in.Depth("s1") != 0 {
		t.Fatal("expected s1 drained")
	}
	if in.Depth("s2") != 1 {
		t.Fatal("expected s2 untouched")
	}
}

func TestInbox_DequeueAllEmptyReturnsNil(t *testing.T) {
	in := NewInbox()
	if got := in.DequeueAll("nope"); got != nil {
		t.Fatalf("DequeueAll(nope) = %v, want nil", got)
	}
}
