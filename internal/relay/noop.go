package relay

import (
	"context"

	"github.com/study-groups/quasar/internal/domain"
)

// No-op collaborators used when a hub is constructed without the real
// services (tests, partial wiring).

type noopMatch struct{}

func (noopMatch) Handle(domain.ViewerRef, string, []byte) {}
func (noopMatch) Disconnect(string)                       {}

type noopMonograms struct{}

func (noopMonograms) Assign(string) string { return "" }
func (noopMonograms) Release(string)       {}

type noopScores struct{}

func (noopScores) Record(context.Context, string, string, float64) error { return nil }

func (noopScores) Top(context.Context, string, int) ([]domain.ScoreEntry, error) {
	return nil, nil
}
