package session

import (
	"context"
	"testing"
	"time"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

func waitStatus(t *testing.T, m *StateMachine, want models.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %q, stuck at %q", want, m.Status())
}

func TestStateMachineFollowsStoreStatus(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	path := store.SessionPath("p1", "s1")
	st.Set(ctx, path, store.Doc{"status": "starting"})

	m := NewStateMachine(st, "p1", "s1")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	st.Merge(ctx, path, store.Doc{"status": "active"})
	waitStatus(t, m, models.StatusActive)

	st.Merge(ctx, path, store.Doc{"status": "stopping"})
	waitStatus(t, m, models.StatusStopping)
}

func TestStateMachineIgnoresBackwardAndInvalid(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	path := store.SessionPath("p1", "s1")

	m := NewStateMachine(st, "p1", "s1")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	st.Merge(ctx, path, store.Doc{"status": "active"})
	waitStatus(t, m, models.StatusActive)

	// An eventually-consistent store can replay older states.
	st.Merge(ctx, path, store.Doc{"status": "starting"})
	st.Merge(ctx, path, store.Doc{"status": "paused"})
	time.Sleep(50 * time.Millisecond)
	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("replayed or invalid state was applied: %q", got)
	}
}

func TestStateMachineTerminalFreezesAndSignalsOnce(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	path := store.SessionPath("p1", "s1")

	m := NewStateMachine(st, "p1", "s1")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	st.Merge(ctx, path, store.Doc{"status": "completed"})

	select {
	case status := <-m.Ended():
		if status != models.StatusCompleted {
			t.Fatalf("expected completed, got %q", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ended never signalled")
	}

	// Further pushes, even valid-looking ones, must bounce off the frozen
	// machine.
	st.Merge(ctx, path, store.Doc{"status": "stopped"})
	time.Sleep(50 * time.Millisecond)
	if got := m.Status(); got != models.StatusCompleted {
		t.Fatalf("terminal state was not absorbing: %q", got)
	}

	// Ended closes after its single delivery.
	if _, ok := <-m.Ended(); ok {
		t.Fatal("Ended delivered more than once")
	}
}
