package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Generation is the snapshot reserved for one suggestion-generation
// attempt. Token is the active-generation token minted with it; a result
// may only be delivered while the token is still the session's current one.
type Generation struct {
	SessionID   string
	Token       string
	Stage       stage.Stage
	Interrupted bool
	Turns       []call.Turn
	Profile     call.Profile
	Query       string
}

// Store is the registry of live sessions. The registry map has its own
// lock, disjoint from the per-session locks, so create/end never contend
// with conversation processing on other sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state
	active   int
	capacity int
}

// NewStore builds a Store admitting at most capacity concurrently active
// sessions. Zero or negative means unlimited.
func NewStore(capacity int) *Store {
	return &Store{
		sessions: make(map[string]*state),
		capacity: capacity,
	}
}

// Create allocates a session at stage Opening with an empty history.
func (st *Store) Create(meta call.Metadata) (call.Info, error) {
	now := time.Now().UTC()
	s := &state{
		id:           uuid.NewString(),
		meta:         meta,
		createdAt:    now,
		lastActivity: now,
		stage:        stage.Opening,
		turns:        make([]call.Turn, 0, 16),
	}

	st.mu.Lock()
	if st.capacity > 0 && st.active >= st.capacity {
		st.mu.Unlock()
		return call.Info{}, fmt.Errorf("%w: ceiling %d reached", ErrCapacityExceeded, st.capacity)
	}
	st.sessions[s.id] = s
	st.active++
	st.mu.Unlock()

	return call.Info{
		ID:        s.id,
		Metadata:  meta,
		Stage:     s.stage,
		Status:    call.StatusActive,
		CreatedAt: now,
	}, nil
}

// Get returns the lookup view of a session.
func (st *Store) Get(id string) (call.Info, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return call.Info{
		ID:        s.id,
		Metadata:  s.meta,
		Stage:     s.stage,
		Status:    s.status(),
		CreatedAt: s.createdAt,
	}, nil
}

// AppendTurn assigns the next sequence number and appends. Ordering is
// serialized by the session lock, so sequence numbers stay gapless no
// matter how many goroutines race the append.
func (st *Store) AppendTurn(id string, speaker call.Speaker, text string, confidence float64) (call.Turn, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return call.Turn{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	turn := call.Turn{
		Seq:        len(s.turns) + 1,
		SessionID:  id,
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
		Stage:      s.stage,
		At:         time.Now().UTC(),
	}
	s.turns = append(s.turns, turn)
	s.lastActivity = turn.At
	return turn, nil
}

// UpdateProfile merges turn-derived insights into the customer profile.
func (st *Store) UpdateProfile(id string, in call.Insights) (call.Profile, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return call.Profile{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	s.profile = s.profile.Merge(in)
	return s.profile, nil
}

// ApplySignal runs a stage machine signal against the session. The machine
// only validates; the stage is mutated here, under the session lock.
func (st *Store) ApplySignal(id string, sig stage.Signal) (from, to stage.Stage, err error) {
	s, err := st.lookup(id)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return "", "", fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	from = s.stage
	if s.stage == stage.Objection && sig == stage.SignalResolved {
		to, err = stage.Resolve(s.returnStage)
	} else {
		to, err = stage.Next(s.stage, sig)
	}
	if err != nil {
		return from, from, err
	}

	s.applyStage(to)
	return from, to, nil
}

// AdvanceTo moves to an explicitly named stage, for manual control
// requests that carry a target rather than a signal.
func (st *Store) AdvanceTo(id string, target stage.Stage) (from, to stage.Stage, err error) {
	s, err := st.lookup(id)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return "", "", fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	from = s.stage
	if !stage.Legal(s.stage, target) {
		return from, from, fmt.Errorf("%w: %s -> %s", stage.ErrIllegalTransition, s.stage, target)
	}
	s.applyStage(target)
	return from, target, nil
}

// MintGeneration reserves a fresh active-generation token, atomically
// replacing any prior one. The replaced generation, when it completes,
// will fail the token check and discard its result: this is the whole
// preemption mechanism. The snapshot is taken under the lock; the backend
// call itself runs without holding it.
func (st *Store) MintGeneration(id string, window int) (Generation, error) {
	s, err := st.lookup(id)
	if err != nil {
		return Generation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Generation{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	s.genToken = uuid.NewString()
	return st.snapshotLocked(s, window), nil
}

// BeginInterrupt preempts any in-flight generation and records the
// pre-interrupt stage so a later Resume can restore it. The returned
// snapshot is flagged for the interrupt specialist unit.
func (st *Store) BeginInterrupt(id string, window int) (Generation, error) {
	s, err := st.lookup(id)
	if err != nil {
		return Generation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Generation{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	if !s.interrupted {
		s.preInterrupt = s.stage
		s.interrupted = true
	}
	s.interrupts++
	s.genToken = uuid.NewString()

	gen := st.snapshotLocked(s, window)
	gen.Interrupted = true
	return gen, nil
}

// Resume restores the stage recorded when the interrupt began. It
// reports the stage before and after, and whether a restore actually
// happened. Resuming a session that was never interrupted is a no-op.
func (st *Store) Resume(id string) (from, to stage.Stage, restored bool, err error) {
	s, err := st.lookup(id)
	if err != nil {
		return "", "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return "", "", false, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	from = s.stage
	if s.interrupted {
		s.stage = s.preInterrupt
		s.interrupted = false
		s.preInterrupt = ""
		restored = true
	}
	return from, s.stage, restored, nil
}

// GenerationCurrent reports whether token is still the session's active
// generation. A stale or ended session reads as not current.
func (st *Store) GenerationCurrent(id, token string) bool {
	s, err := st.lookup(id)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && token != "" && s.genToken == token
}

// DeliverSuggestion records a finished suggestion if and only if its
// generation id still matches the active token at delivery time. Returns
// false when the result was superseded and must be dropped.
func (st *Store) DeliverSuggestion(id string, sug call.Suggestion) (bool, error) {
	s, err := st.lookup(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	if sug.GenerationID == "" || sug.GenerationID != s.genToken {
		return false, nil
	}

	s.suggestions = append(s.suggestions, sug)
	if len(s.suggestions) > suggestionRing {
		s.suggestions = s.suggestions[len(s.suggestions)-suggestionRing:]
	}
	return true, nil
}

// LastSuggestion returns the most recently delivered suggestion, if any.
func (st *Store) LastSuggestion(id string) (*call.Suggestion, error) {
	s, err := st.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuggestion(), nil
}

// End terminates the session and releases its generation token. Ending an
// already-ended session is a no-op, not an error.
func (st *Store) End(id string) (already bool, err error) {
	s, err := st.lookup(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return true, nil
	}
	s.ended = true
	s.endedAt = time.Now().UTC()
	s.genToken = ""
	s.mu.Unlock()

	st.mu.Lock()
	st.active--
	st.mu.Unlock()
	return false, nil
}

// Count reports how many sessions are currently active.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.active
}

// Status returns the monitoring view.
func (st *Store) Status(id string) (call.Status, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return call.Status{
		ID:           s.id,
		Status:       s.status(),
		Stage:        s.stage,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		TurnCount:    len(s.turns),
		Interrupted:  s.interrupted,
	}, nil
}

// State returns the full conversation snapshot.
func (st *Store) State(id string) (call.State, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]call.Turn, len(s.turns))
	copy(turns, s.turns)
	return call.State{
		ID:             s.id,
		Stage:          s.stage,
		Status:         s.status(),
		Profile:        s.profile,
		Turns:          turns,
		LastSuggestion: s.lastSuggestion(),
		StagesCovered:  s.stagesCovered(),
	}, nil
}

func (st *Store) lookup(id string) (*state, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// snapshotLocked copies the generation inputs. Caller holds s.mu.
func (st *Store) snapshotLocked(s *state, window int) Generation {
	query := ""
	if len(s.turns) > 0 {
		query = s.turns[len(s.turns)-1].Text
	}
	return Generation{
		SessionID: s.id,
		Token:     s.genToken,
		Stage:     s.stage,
		Turns:     s.recentTurns(window),
		Profile:   s.profile,
		Query:     query,
	}
}
