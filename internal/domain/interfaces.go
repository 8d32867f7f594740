package domain

import (
	"context"
	"time"
)

// FrameBus is the single publish path for rendered frames. Every producer
// (relayed source frames, engine slot renders) goes through Publish with a
// tagged producer id; the bus keeps a last-write-wins MRU cache and owns
// the one fan-out loop to viewers.
type FrameBus interface {
	Publish(frame *Frame, producer string)
}

// Sprite describes one engine sprite. X and Y are grid coordinates; the
// remaining fields are the spawn parameters with server-side defaults
// len0=4, dtheta=0.1, valence=1.
type Sprite struct {
	Type    string  `json:"type"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Len0    int     `json:"len0"`
	Amp     int     `json:"amp"`
	Freq    float64 `json:"freq"`
	DTheta  float64 `json:"dtheta"`
	Valence int     `json:"valence"`
}

// SlotEngine is the simulation/render engine behind a slot. All methods
// are invoked from the slot manager's goroutine; implementations do not
// need to be safe for concurrent use.
type SlotEngine interface {
	// Init allocates a rendering context sized cols x rows for the slot.
	// An error fails the whole initSlot call.
	Init(index, cols, rows int) error
	// Step advances the simulation by the elapsed wall time.
	Step(index int, elapsed time.Duration)
	// Render returns the current screen, one string per row.
	Render(index int) ([]string, error)
	// Spawn adds a sprite to the slot's context.
	Spawn(index int, sprite Sprite) error
	// Destroy frees the slot's context. Idempotent.
	Destroy(index int)
}

// BridgeSpawner turns a viewer's spawn request into an engine slot, a
// builtin acknowledgement, or a supervised child process. Replies
// (BridgeReadyMsg or BridgeErrorMsg) go through the reply callback, which
// must not block.
type BridgeSpawner interface {
	HandleSpawn(reply func(msg any), req SpawnRequest)
}

// ViewerRef identifies a connected viewer to collaborator services. Send
// enqueues a message on the viewer's writer and never blocks; messages to
// closed viewers are dropped.
type ViewerRef struct {
	ID       string
	Monogram string
	Send     func(msg any)
}

// MatchService is the match/lobby collaborator. The relay core forwards
// every lobby.* and match.* message here verbatim; ack shapes are owned by
// the implementation.
type MatchService interface {
	Handle(viewer ViewerRef, msgType string, raw []byte)
	// Disconnect runs match-leave cleanup for a departed viewer.
	Disconnect(viewerID string)
}

// MonogramService assigns short identity tokens to viewers for the
// lifetime of their connection.
type MonogramService interface {
	Assign(viewerID string) string
	Release(viewerID string)
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	Player string  `json:"player"`
	Score  float64 `json:"score"`
}

// ScoreStore records best scores per (game, player). Record keeps the
// maximum of the stored and submitted score.
type ScoreStore interface {
	Record(ctx context.Context, game, player string, score float64) error
	Top(ctx context.Context, game string, n int) ([]ScoreEntry, error)
}
