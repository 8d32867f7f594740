// Package match is the in-memory match/lobby collaborator. The relay core
// only knows the domain.MatchService interface; this implementation is
// enough to pair players, run private matches, and relay match input
// without the full matchmaking engine.
package match

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/study-groups/quasar/internal/domain"
)

const matchSize = 2

type player struct {
	ref       domain.ViewerRef
	lastBeat  time.Time
	score     float64
	inputSeen int64
}

type state struct {
	id      string
	game    string
	code    string // invite code, private matches only
	started bool
	players map[string]*player
}

// Service implements domain.MatchService.
type Service struct {
	mu    sync.Mutex
	clock clockwork.Clock

	matches  map[string]*state
	byPlayer map[string]string // viewer id -> match id
	queue    []domain.ViewerRef
	byCode   map[string]string // invite code -> match id
}

func NewService(clock clockwork.Clock) *Service {
	return &Service{
		clock:    clock,
		matches:  make(map[string]*state),
		byPlayer: make(map[string]string),
		byCode:   make(map[string]string),
	}
}

// Handle routes one lobby.* or match.* message. Ack shapes are owned by
// this collaborator.
func (s *Service) Handle(v domain.ViewerRef, msgType string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msgType {
	case "lobby.join":
		s.enqueue(v, raw)
	case "lobby.leave":
		s.dequeue(v.ID)
		v.Send(map[string]any{"t": "lobby.left"})
	case "lobby.private":
		s.createPrivate(v, raw)
	case "lobby.join.private":
		s.joinPrivate(v, raw)
	case "match.join":
		s.joinMatch(v, raw)
	case "match.start":
		s.startMatch(v)
	case "match.input":
		s.relayInput(v, raw)
	case "match.leave":
		s.leave(v.ID, true)
	case "match.heartbeat":
		s.heartbeat(v.ID)
	case "match.score":
		s.recordScore(v.ID, raw)
	default:
		v.Send(map[string]any{"t": "error", "error": "Unknown message type: " + msgType})
	}
}

// Disconnect removes the viewer from the queue and any match it is in.
func (s *Service) Disconnect(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dequeue(viewerID)
	s.leave(viewerID, true)
}

// --- Lobby ---

func (s *Service) enqueue(v domain.ViewerRef, raw []byte) {
	var msg struct {
		Game string `json:"game"`
	}
	_ = json.Unmarshal(raw, &msg)

	for _, q := range s.queue {
		if q.ID == v.ID {
			return
		}
	}
	s.queue = append(s.queue, v)

	if len(s.queue) >= matchSize {
		members := s.queue[:matchSize]
		s.queue = s.queue[matchSize:]
		m := s.createMatch(msg.Game, "")
		for _, ref := range members {
			s.addPlayer(m, ref)
		}
		s.broadcast(m, map[string]any{"t": "lobby.matched", "matchId": m.id, "game": m.game})
		return
	}

	v.Send(map[string]any{"t": "lobby.joined", "position": len(s.queue)})
}

func (s *Service) dequeue(viewerID string) {
	for i, q := range s.queue {
		if q.ID == viewerID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Service) createPrivate(v domain.ViewerRef, raw []byte) {
	var msg struct {
		Game string `json:"game"`
	}
	_ = json.Unmarshal(raw, &msg)

	code := inviteCode()
	m := s.createMatch(msg.Game, code)
	s.byCode[code] = m.id
	s.addPlayer(m, v)
	v.Send(map[string]any{"t": "lobby.private.created", "matchId": m.id, "code": code})
}

func (s *Service) joinPrivate(v domain.ViewerRef, raw []byte) {
	var msg struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(raw, &msg)

	id, ok := s.byCode[strings.ToUpper(msg.Code)]
	if !ok {
		v.Send(map[string]any{"t": "error", "error": "unknown invite code"})
		return
	}
	m := s.matches[id]
	s.addPlayer(m, v)
	s.broadcast(m, map[string]any{"t": "match.joined", "matchId": m.id, "players": len(m.players)})
}

// --- Match ---

func (s *Service) createMatch(game, code string) *state {
	m := &state{
		id:      uuid.NewString(),
		game:    game,
		code:    code,
		players: make(map[string]*player),
	}
	s.matches[m.id] = m
	slog.Info("Match created", "match_id", m.id, "game", game, "private", code != "")
	return m
}

func (s *Service) addPlayer(m *state, ref domain.ViewerRef) {
	m.players[ref.ID] = &player{ref: ref, lastBeat: s.clock.Now()}
	s.byPlayer[ref.ID] = m.id
}

func (s *Service) joinMatch(v domain.ViewerRef, raw []byte) {
	var msg struct {
		MatchID string `json:"matchId"`
	}
	_ = json.Unmarshal(raw, &msg)

	m, ok := s.matches[msg.MatchID]
	if !ok {
		v.Send(map[string]any{"t": "error", "error": "unknown match"})
		return
	}
	s.addPlayer(m, v)
	s.broadcast(m, map[string]any{"t": "match.joined", "matchId": m.id, "players": len(m.players)})
}

func (s *Service) startMatch(v domain.ViewerRef) {
	m := s.matchOf(v.ID)
	if m == nil {
		v.Send(map[string]any{"t": "error", "error": "not in a match"})
		return
	}
	m.started = true
	s.broadcast(m, map[string]any{"t": "match.started", "matchId": m.id})
}

// relayInput forwards match input verbatim to every other player.
func (s *Service) relayInput(v domain.ViewerRef, raw []byte) {
	m := s.matchOf(v.ID)
	if m == nil {
		return
	}
	p := m.players[v.ID]
	p.inputSeen++

	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	msg["from"] = v.Monogram
	for id, other := range m.players {
		if id == v.ID {
			continue
		}
		other.ref.Send(msg)
	}
}

func (s *Service) heartbeat(viewerID string) {
	if m := s.matchOf(viewerID); m != nil {
		m.players[viewerID].lastBeat = s.clock.Now()
	}
}

func (s *Service) recordScore(viewerID string, raw []byte) {
	m := s.matchOf(viewerID)
	if m == nil {
		return
	}
	var msg struct {
		Score float64 `json:"score"`
	}
	_ = json.Unmarshal(raw, &msg)
	m.players[viewerID].score = msg.Score
}

func (s *Service) leave(viewerID string, notify bool) {
	m := s.matchOf(viewerID)
	if m == nil {
		return
	}
	delete(m.players, viewerID)
	delete(s.byPlayer, viewerID)

	if len(m.players) == 0 {
		delete(s.matches, m.id)
		if m.code != "" {
			delete(s.byCode, m.code)
		}
		slog.Info("Match dissolved", "match_id", m.id)
		return
	}
	if notify {
		s.broadcast(m, map[string]any{"t": "match.player.left", "matchId": m.id, "players": len(m.players)})
	}
}

func (s *Service) matchOf(viewerID string) *state {
	id, ok := s.byPlayer[viewerID]
	if !ok {
		return nil
	}
	return s.matches[id]
}

func (s *Service) broadcast(m *state, msg map[string]any) {
	for _, p := range m.players {
		p.ref.Send(msg)
	}
}

// Matches returns the number of live matches. Introspection for tests.
func (s *Service) Matches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

// QueueLen returns the matchmaking queue length. Introspection for tests.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// inviteCode derives a 4-character code from a fresh uuid.
func inviteCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[:4]
}
