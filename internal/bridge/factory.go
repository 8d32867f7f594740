// Package bridge turns viewer spawn requests into game instances: an
// in-process engine slot, a builtin acknowledgement, or a supervised
// child process. Spawned bridges send their frames back over their own
// WebSocket connection, where they are classified as sources; this
// package only supervises the process lifecycle.
package bridge

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/metrics"
)

// Kind classifies how a registered game is launched.
type Kind string

const (
	// KindEngine games run on the in-process engine via the slot pool.
	KindEngine Kind = "engine"
	// KindBuiltin games run entirely client-side; spawning only acks.
	KindBuiltin Kind = "builtin"
	// KindProcess games spawn the game_bridge executable.
	KindProcess Kind = "game_bridge"
)

// Engine-slot defaults used when a viewer spawns an engine game.
const (
	engineCols = 80
	engineRows = 24
	engineFPS  = 30
)

// SlotPool is the slice of the slot manager the factory needs.
type SlotPool interface {
	InitSlot(index, cols, rows, fps int) error
	SpawnSprite(index int, sprite domain.Sprite) error
}

// ProcessInfo is an introspection snapshot of one supervised bridge.
type ProcessInfo struct {
	Game      string
	Channel   int
	PID       int
	StartedAt time.Time
}

type process struct {
	game      string
	channel   int
	cmd       *exec.Cmd
	startedAt time.Time
}

// CloseFunc is notified when a supervised bridge process exits. err is
// nil for a clean exit.
type CloseFunc func(game string, channel int, err error)

// Factory spawns and supervises bridges. Unlike the hub and slot manager
// it is not an actor: HandleSpawn runs on the hub goroutine while Wait
// goroutines and shutdown paths mutate the registry, so a mutex guards
// the map.
type Factory struct {
	mu    sync.Mutex
	procs map[string]*process

	games   map[string]Kind
	slots   SlotPool
	tetraD  string // runtime dir: per-game bridge.json lives here
	tetraS  string // source dir: game_bridge executable lives here
	onClose CloseFunc
}

// DefaultGames is the stock registry: the pulsar engine plus the known
// bridge and builtin games.
func DefaultGames() map[string]Kind {
	return map[string]Kind{
		"pulsar":   KindEngine,
		"trax":     KindProcess,
		"estoface": KindProcess,
		"estovox":  KindProcess,
		"formant":  KindProcess,
		"flax":     KindBuiltin,
	}
}

// NewFactory creates a factory. games may be nil to use DefaultGames;
// onClose may be nil.
func NewFactory(slots SlotPool, tetraDir, tetraSrc string, games map[string]Kind, onClose CloseFunc) *Factory {
	if games == nil {
		games = DefaultGames()
	}
	return &Factory{
		procs:   make(map[string]*process),
		games:   games,
		slots:   slots,
		tetraD:  tetraDir,
		tetraS:  tetraSrc,
		onClose: onClose,
	}
}

// Register adds or overrides a game registration.
func (f *Factory) Register(game string, kind Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[game] = kind
}

func key(game string, channel int) string {
	return fmt.Sprintf("%s:%d", game, channel)
}

// HandleSpawn implements domain.BridgeSpawner. All failures reply with a
// bridge.error; nothing here returns a Go error or panics. A ready reply
// means "spawn issued", not "game initialized".
func (f *Factory) HandleSpawn(reply func(msg any), req domain.SpawnRequest) {
	game, channel := req.Game, req.Channel

	f.mu.Lock()
	kind, registered := f.games[game]
	f.mu.Unlock()

	if !registered {
		metrics.BridgeSpawnsTotal.WithLabelValues("error").Inc()
		reply(domain.BridgeErrorMsg{
			T: "bridge.error", Game: game, Channel: channel,
			Error: "unknown game: " + game,
		})
		return
	}

	switch kind {
	case KindEngine:
		f.spawnEngine(reply, game, channel)
	case KindBuiltin:
		metrics.BridgeSpawnsTotal.WithLabelValues("builtin").Inc()
		reply(domain.BridgeReadyMsg{T: "bridge.ready", Game: game, Channel: channel, Status: "builtin"})
	case KindProcess:
		f.spawnProcess(reply, game, channel)
	}
}

// spawnEngine initializes a slot on the in-process engine and seeds it
// with two demo sprites.
func (f *Factory) spawnEngine(reply func(msg any), game string, channel int) {
	if err := f.slots.InitSlot(channel, engineCols, engineRows, engineFPS); err != nil {
		metrics.BridgeSpawnsTotal.WithLabelValues("error").Inc()
		reply(domain.BridgeErrorMsg{T: "bridge.error", Game: game, Channel: channel, Error: err.Error()})
		return
	}

	demos := []domain.Sprite{
		{Type: "pulsar", X: engineCols / 3, Y: engineRows / 2, Len0: 6, DTheta: 0.8, Valence: 1},
		{Type: "pulsar", X: 2 * engineCols / 3, Y: engineRows / 2, Len0: 5, DTheta: -0.5, Valence: -1},
	}
	for _, sp := range demos {
		if err := f.slots.SpawnSprite(channel, sp); err != nil {
			slog.Warn("Demo sprite spawn failed", "game", game, "slot", channel, "error", err)
		}
	}

	metrics.BridgeSpawnsTotal.WithLabelValues("ready").Inc()
	reply(domain.BridgeReadyMsg{T: "bridge.ready", Game: game, Channel: channel})
}

// spawnProcess launches the game_bridge executable for the game. The
// child's stdio is logged as opaque text and never parsed for protocol
// meaning; protocol traffic arrives over the bridge's own WebSocket
// connection back to this server.
func (f *Factory) spawnProcess(reply func(msg any), game string, channel int) {
	bin := filepath.Join(f.tetraS, "bash", "games", "game_bridge")
	cfg := filepath.Join(f.tetraD, "orgs", "tetra", "games", game, "bridge.json")

	if _, err := os.Stat(bin); err != nil {
		metrics.BridgeSpawnsTotal.WithLabelValues("error").Inc()
		reply(domain.BridgeErrorMsg{
			T: "bridge.error", Game: game, Channel: channel,
			Error: "bridge binary not found: " + bin,
		})
		return
	}
	if _, err := os.Stat(cfg); err != nil {
		metrics.BridgeSpawnsTotal.WithLabelValues("error").Inc()
		reply(domain.BridgeErrorMsg{
			T: "bridge.error", Game: game, Channel: channel,
			Error: "bridge config not found: " + cfg,
		})
		return
	}

	k := key(game, channel)

	f.mu.Lock()
	if _, running := f.procs[k]; running {
		f.mu.Unlock()
		metrics.BridgeSpawnsTotal.WithLabelValues("duplicate").Inc()
		reply(domain.BridgeErrorMsg{
			T: "bridge.error", Game: game, Channel: channel,
			Error: "bridge already running for " + k,
		})
		return
	}
	f.mu.Unlock()

	cmd := exec.Command(bin, game)
	cmd.Env = []string{
		"TETRA_DIR=" + f.tetraD,
		"TETRA_SRC=" + f.tetraS,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.replySpawnFailure(reply, game, channel, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.replySpawnFailure(reply, game, channel, err)
		return
	}

	if err := cmd.Start(); err != nil {
		f.replySpawnFailure(reply, game, channel, err)
		return
	}

	p := &process{game: game, channel: channel, cmd: cmd, startedAt: time.Now()}

	f.mu.Lock()
	f.procs[k] = p
	metrics.BridgeProcessesCurrent.Set(float64(len(f.procs)))
	f.mu.Unlock()

	go f.logOutput(game, "stdout", stdout)
	go f.logOutput(game, "stderr", stderr)
	go f.waitProcess(k, p)

	slog.Info("Bridge spawned", "game", game, "slot", channel, "pid", cmd.Process.Pid)
	metrics.BridgeSpawnsTotal.WithLabelValues("ready").Inc()
	reply(domain.BridgeReadyMsg{T: "bridge.ready", Game: game, Channel: channel})
}

func (f *Factory) replySpawnFailure(reply func(msg any), game string, channel int, err error) {
	metrics.BridgeSpawnsTotal.WithLabelValues("error").Inc()
	slog.Error("Bridge spawn failed", "game", game, "slot", channel, "error", err)
	reply(domain.BridgeErrorMsg{
		T: "bridge.error", Game: game, Channel: channel,
		Error: "spawn failed: " + err.Error(),
	})
}

// logOutput relays a child stream line by line into the log.
func (f *Factory) logOutput(game, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Info("Bridge output", "game", game, "stream", stream, "line", scanner.Text())
	}
}

// waitProcess reaps the child and removes the registry entry. There is no
// automatic restart; the viewer must re-issue bridge.spawn.
func (f *Factory) waitProcess(k string, p *process) {
	err := p.cmd.Wait()

	f.mu.Lock()
	if f.procs[k] == p {
		delete(f.procs, k)
	}
	metrics.BridgeProcessesCurrent.Set(float64(len(f.procs)))
	f.mu.Unlock()

	if err != nil {
		slog.Error("Bridge exited with error", "game", p.game, "slot", p.channel, "error", err)
		metrics.BridgeExitsTotal.WithLabelValues("error").Inc()
	} else {
		slog.Info("Bridge exited", "game", p.game, "slot", p.channel)
		metrics.BridgeExitsTotal.WithLabelValues("clean").Inc()
	}

	if f.onClose != nil {
		f.onClose(p.game, p.channel, err)
	}
}

// Kill terminates a tracked bridge process. The registry entry is removed
// by the Wait goroutine once the process is reaped.
func (f *Factory) Kill(game string, channel int) {
	f.mu.Lock()
	p := f.procs[key(game, channel)]
	f.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		slog.Warn("Failed to kill bridge", "game", game, "slot", channel, "error", err)
	}
}

// KillAll terminates every tracked bridge process.
func (f *Factory) KillAll() {
	f.mu.Lock()
	procs := make([]*process, 0, len(f.procs))
	for _, p := range f.procs {
		procs = append(procs, p)
	}
	f.mu.Unlock()

	for _, p := range procs {
		if err := p.cmd.Process.Kill(); err != nil {
			slog.Warn("Failed to kill bridge", "game", p.game, "slot", p.channel, "error", err)
		}
	}
}

// Processes returns snapshots of the tracked bridge processes.
func (f *Factory) Processes() []ProcessInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(f.procs))
	for _, p := range f.procs {
		infos = append(infos, ProcessInfo{
			Game:      p.game,
			Channel:   p.channel,
			PID:       p.cmd.Process.Pid,
			StartedAt: p.startedAt,
		})
	}
	return infos
}
