package event

import "testing"

func TestChannelOutbox_EnqueueAndDrain(t *testing.T) {
	o := NewChannelOutbox(1)

	if err := o.Enqueue(Notification{Type: TypeQueryAdd}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := o.Enqueue(Notification{Type: TypeQueryAdd}); err != ErrOutboxFull {
		t.Fatalf("Enqueue on a full outbox = %v, want ErrOutboxFull", err)
	}

	n := <-o.C()
	if n.Type != TypeQueryAdd {
		t.Errorf("drained %+v, want queryAdd", n)
	}

	if err := o.Enqueue(Notification{Type: TypeQueryChange}); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
}
