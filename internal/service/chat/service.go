package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyContent    = errors.New("turn content is required")
	ErrInvalidSender   = errors.New("turn sender must be user or assistant")
	ErrTurnInFlight    = errors.New("a turn is already in progress for this session")
	ErrTurnDiscarded   = errors.New("session was reset while the turn was in progress")
)

// Ticket marks one in-flight turn. It is issued by BeginTurn and remembers
// the transcript generation the turn started against.
type Ticket struct {
	SessionID  string
	Generation uint64
	id         uint64
}

// Options is the configuration snapshot bound to a new session.
type Options struct {
	Model    string
	Provider string
	APIKey   string
}

// Service encapsulates conversation state. Each session owns one
// append-only transcript; nothing is shared across sessions. At most one
// turn per session is in flight at a time.
type Service struct {
	mu         sync.RWMutex
	sessions   map[string]chat.Session
	turns      map[string][]chat.Turn
	generation map[string]uint64
	inflight   map[string]uint64
	seq        uint64
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions:   make(map[string]chat.Session),
		turns:      make(map[string][]chat.Turn),
		generation: make(map[string]uint64),
		inflight:   make(map[string]uint64),
	}
}

// CreateSession provisions a session with its configuration snapshot.
func (s *Service) CreateSession(_ context.Context, opts Options) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		Model:     opts.Model,
		Provider:  opts.Provider,
		APIKey:    strings.TrimSpace(opts.APIKey),
		Greeting:  chat.GreetingNew,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// UpdateSession replaces the model and credential of an existing session.
// Empty fields keep their current value.
func (s *Service) UpdateSession(_ context.Context, sessionID string, opts Options) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if opts.Model != "" {
		session.Model = opts.Model
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		session.APIKey = key
	}
	s.sessions[sessionID] = session
	return session, nil
}

// BeginTurn claims the session for one request/reply pair. It fails with
// ErrTurnInFlight while another turn holds the session. The ticket must be
// released with EndTurn.
func (s *Service) BeginTurn(_ context.Context, sessionID string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return Ticket{}, ErrSessionNotFound
	}
	if _, busy := s.inflight[sessionID]; busy {
		return Ticket{}, ErrTurnInFlight
	}

	s.seq++
	s.inflight[sessionID] = s.seq
	return Ticket{SessionID: sessionID, Generation: s.generation[sessionID], id: s.seq}, nil
}

// EndTurn releases the session. A ticket that no longer holds the session
// (after a reset, or a second call) is a no-op.
func (s *Service) EndTurn(ticket Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.inflight[ticket.SessionID]; ok && id == ticket.id {
		delete(s.inflight, ticket.SessionID)
	}
}

// AppendFor appends a turn on behalf of an in-flight ticket. It fails with
// ErrTurnDiscarded once the transcript was reset after the ticket was issued,
// so a stale reply never lands in the fresh history.
func (s *Service) AppendFor(ctx context.Context, ticket Ticket, turn chat.Turn) (chat.Turn, error) {
	turn.SessionID = ticket.SessionID
	return s.append(ctx, turn, ticket.Generation, true)
}

// AppendTurn appends a turn to the session history and returns the stored copy.
func (s *Service) AppendTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	return s.append(ctx, turn, 0, false)
}

func (s *Service) append(_ context.Context, turn chat.Turn, generation uint64, checkGeneration bool) (chat.Turn, error) {
	if turn.SessionID == "" {
		return chat.Turn{}, ErrSessionNotFound
	}
	if turn.Sender != chat.SenderUser && turn.Sender != chat.SenderAssistant {
		return chat.Turn{}, ErrInvalidSender
	}
	if turn.Sender == chat.SenderUser && strings.TrimSpace(turn.Content) == "" {
		return chat.Turn{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return chat.Turn{}, ErrSessionNotFound
	}
	if checkGeneration && s.generation[turn.SessionID] != generation {
		return chat.Turn{}, ErrTurnDiscarded
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// LoadTranscript returns a copy of the stored turns for the session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// Reset discards the transcript and keeps the configuration snapshot.
func (s *Service) Reset(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	session.Greeting = chat.GreetingCleared
	s.sessions[sessionID] = session
	s.turns[sessionID] = make([]chat.Turn, 0, 16)
	s.generation[sessionID]++
	delete(s.inflight, sessionID)
	return session, nil
}

// DeleteSession drops the session and its transcript.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	delete(s.generation, sessionID)
	delete(s.inflight, sessionID)
	return nil
}
