// Package scores keeps per-game leaderboards. The in-memory store here is
// the default; the redis package provides a persistent implementation of
// the same interface.
package scores

import (
	"context"
	"sort"
	"sync"

	"github.com/study-groups/quasar/internal/domain"
)

// MemoryStore implements domain.ScoreStore without persistence. Scores
// survive reconnects but not restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]map[string]float64)}
}

// Record keeps the maximum of the stored and submitted score.
func (m *MemoryStore) Record(_ context.Context, game, player string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	board, ok := m.games[game]
	if !ok {
		board = make(map[string]float64)
		m.games[game] = board
	}
	if current, exists := board[player]; !exists || score > current {
		board[player] = score
	}
	return nil
}

// Top returns the n best entries for a game, highest first. Ties break by
// player name for deterministic output.
func (m *MemoryStore) Top(_ context.Context, game string, n int) ([]domain.ScoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board := m.games[game]
	entries := make([]domain.ScoreEntry, 0, len(board))
	for player, score := range board {
		entries = append(entries, domain.ScoreEntry{Player: player, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Player < entries[j].Player
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
