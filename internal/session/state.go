package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// StateMachine is the client-side session lifecycle reducer. Its only
// transition source is the session root document's status field as echoed by
// the store, never locally cached optimistic state, not even for writes the
// client itself issued. Once a terminal status arrives the machine freezes
// and signals Ended exactly once; further pushes are ignored.
type StateMachine struct {
	st   store.Store
	path string
	sub  *store.DocSub

	mu     sync.Mutex
	status models.SessionStatus
	frozen bool

	ended    chan models.SessionStatus
	endOnce  sync.Once
	statusCh chan models.SessionStatus
}

func NewStateMachine(st store.Store, patientID, sessionID string) *StateMachine {
	return &StateMachine{
		st:       st,
		path:     store.SessionPath(patientID, sessionID),
		status:   models.StatusStarting,
		ended:    make(chan models.SessionStatus, 1),
		statusCh: make(chan models.SessionStatus, 16),
	}
}

// Start subscribes to the session root document.
func (m *StateMachine) Start(ctx context.Context) error {
	sub, err := m.st.WatchDoc(ctx, m.path)
	if err != nil {
		return fmt.Errorf("session status watch: %w", err)
	}
	m.sub = sub
	go func() {
		for doc := range sub.C {
			raw, _ := doc["status"].(string)
			m.apply(models.SessionStatus(raw))
		}
	}()
	return nil
}

// Stop cancels the subscription.
func (m *StateMachine) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

// Status returns the last accepted lifecycle state.
func (m *StateMachine) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Ended delivers the terminal status once. Consumers must stay idempotent to
// repeated terminal pushes anyway; this channel just makes once-ness easy.
func (m *StateMachine) Ended() <-chan models.SessionStatus {
	return m.ended
}

// Updates delivers every accepted transition, for the UI layer.
func (m *StateMachine) Updates() <-chan models.SessionStatus {
	return m.statusCh
}

func (m *StateMachine) apply(next models.SessionStatus) {
	m.mu.Lock()
	if m.frozen || !next.Valid() {
		m.mu.Unlock()
		return
	}
	if next == m.status {
		m.mu.Unlock()
		return
	}
	if !m.status.CanTransition(next) {
		log.Printf("StateMachine: ignoring backward transition %s -> %s", m.status, next)
		m.mu.Unlock()
		return
	}
	m.status = next
	terminal := next.Terminal()
	if terminal {
		m.frozen = true
	}
	m.mu.Unlock()

	select {
	case m.statusCh <- next:
	default:
	}
	if terminal {
		m.endOnce.Do(func() {
			m.ended <- next
			close(m.ended)
		})
	}
}
