// Package slots owns the bounded pool of simulation/render slots. Each
// active slot has its own ticker driving the engine at its declared rate;
// all slot state is owned by a single manager goroutine fed by typed
// commands, so per-slot timers may differ without any locking.
package slots

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/metrics"
)

// MaxSlots bounds the pool: valid indices are [0, MaxSlots).
const MaxSlots = 256

const commandBufferSize = 512

type slot struct {
	index    int
	cols     int
	rows     int
	fps      int
	sprites  []domain.Sprite
	stop     chan struct{}
	lastTick time.Time
	seq      int64
}

// SlotInfo is an introspection snapshot of one active slot.
type SlotInfo struct {
	Index   int
	Cols    int
	Rows    int
	FPS     int
	Sprites []domain.Sprite
}

// --- Command types ---

type managerCmd interface{ isManagerCmd() }

type baseManagerCmd struct{}

func (baseManagerCmd) isManagerCmd() {}

type initCmd struct {
	baseManagerCmd
	index, cols, rows, fps int
	reply                  chan error
}

type destroyCmd struct {
	baseManagerCmd
	index int
	reply chan struct{}
}

type spawnCmd struct {
	baseManagerCmd
	index  int
	sprite domain.Sprite
	reply  chan error
}

type tickCmd struct {
	baseManagerCmd
	index int
}

type activeCmd struct {
	baseManagerCmd
	reply chan []SlotInfo
}

type screenCmd struct {
	baseManagerCmd
	reply chan string
}

type stopAllCmd struct {
	baseManagerCmd
	reply chan struct{}
}

type stopCmd struct{ baseManagerCmd }

// Manager owns up to MaxSlots independent render contexts.
type Manager struct {
	cmdCh  chan managerCmd
	clock  clockwork.Clock
	engine domain.SlotEngine
	bus    domain.FrameBus
	done   chan struct{}

	slots  [MaxSlots]*slot
	active int

	// screen is the most recent rendered display, kept for introspection.
	screen string
}

// NewManager creates a manager and starts its goroutine.
func NewManager(engine domain.SlotEngine, bus domain.FrameBus, clock clockwork.Clock) *Manager {
	m := &Manager{
		cmdCh:  make(chan managerCmd, commandBufferSize),
		clock:  clock,
		engine: engine,
		bus:    bus,
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// --- Public API ---

// InitSlot allocates a render context and starts the slot's ticker at
// floor(1000/fps) ms. Fails without side effects on an out-of-range
// index, an occupied slot, an invalid rate, or an engine refusal.
func (m *Manager) InitSlot(index, cols, rows, fps int) error {
	reply := make(chan error, 1)
	m.cmdCh <- initCmd{index: index, cols: cols, rows: rows, fps: fps, reply: reply}
	return <-reply
}

// DestroySlot stops the slot's ticker and frees the entry. Idempotent on
// an already-empty slot.
func (m *Manager) DestroySlot(index int) {
	reply := make(chan struct{}, 1)
	m.cmdCh <- destroyCmd{index: index, reply: reply}
	<-reply
}

// SpawnSprite forwards a spawn directive to the slot's engine context.
// Unspecified parameters default to len0=4, dtheta=0.1, valence=1.
func (m *Manager) SpawnSprite(index int, sprite domain.Sprite) error {
	reply := make(chan error, 1)
	m.cmdCh <- spawnCmd{index: index, sprite: sprite, reply: reply}
	return <-reply
}

// ActiveSlots returns snapshots of every live slot.
func (m *Manager) ActiveSlots() []SlotInfo {
	reply := make(chan []SlotInfo, 1)
	m.cmdCh <- activeCmd{reply: reply}
	return <-reply
}

// CurrentScreen returns the most recently rendered display.
func (m *Manager) CurrentScreen() string {
	reply := make(chan string, 1)
	m.cmdCh <- screenCmd{reply: reply}
	return <-reply
}

// StopAll destroys every active slot.
func (m *Manager) StopAll() {
	reply := make(chan struct{}, 1)
	m.cmdCh <- stopAllCmd{reply: reply}
	<-reply
}

// Stop destroys every slot and shuts the manager down.
func (m *Manager) Stop() {
	m.cmdCh <- stopCmd{}
	<-m.done
}

// --- Actor loop ---

func (m *Manager) run() {
	defer close(m.done)

	for cmd := range m.cmdCh {
		switch c := cmd.(type) {
		case initCmd:
			c.reply <- m.handleInit(c.index, c.cols, c.rows, c.fps)
		case destroyCmd:
			m.handleDestroy(c.index)
			c.reply <- struct{}{}
		case spawnCmd:
			c.reply <- m.handleSpawn(c.index, c.sprite)
		case tickCmd:
			m.handleTick(c.index)
		case activeCmd:
			c.reply <- m.snapshotActive()
		case screenCmd:
			c.reply <- m.screen
		case stopAllCmd:
			m.handleStopAll()
			c.reply <- struct{}{}
		case stopCmd:
			m.handleStopAll()
			return
		}
	}
}

func (m *Manager) handleInit(index, cols, rows, fps int) error {
	if index < 0 || index >= MaxSlots {
		return fmt.Errorf("slot index %d out of range [0,%d)", index, MaxSlots)
	}
	if m.slots[index] != nil {
		return fmt.Errorf("slot %d already active", index)
	}
	if fps < 1 {
		return fmt.Errorf("slot fps must be at least 1, got %d", fps)
	}

	if err := m.engine.Init(index, cols, rows); err != nil {
		return fmt.Errorf("engine init failed for slot %d: %w", index, err)
	}

	s := &slot{
		index:    index,
		cols:     cols,
		rows:     rows,
		fps:      fps,
		stop:     make(chan struct{}),
		lastTick: m.clock.Now(),
	}
	m.slots[index] = s
	m.active++
	metrics.SlotsActive.Set(float64(m.active))

	// Per-slot tickers are required: slots run at different rates.
	go m.runSlotTicker(index, fps, s.stop)

	slog.Info("Slot initialized", "slot", index, "cols", cols, "rows", rows, "fps", fps)
	return nil
}

// runSlotTicker forwards ticks into the command channel so that all slot
// mutation happens on the manager goroutine. A busy manager drops ticks
// rather than queueing stale ones.
func (m *Manager) runSlotTicker(index, fps int, stop chan struct{}) {
	ticker := m.clock.NewTicker(time.Duration(1000/fps) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			select {
			case m.cmdCh <- tickCmd{index: index}:
			default:
				metrics.SlotTicksDroppedTotal.Inc()
			}
		case <-stop:
			return
		}
	}
}

// handleTick advances the engine by the elapsed wall time and publishes
// the render. Ticks for a destroyed slot are silently ignored; the ticker
// goroutine may still be draining when the slot goes away.
func (m *Manager) handleTick(index int) {
	s := m.slots[index]
	if s == nil {
		return
	}

	now := m.clock.Now()
	elapsed := now.Sub(s.lastTick)
	s.lastTick = now

	m.engine.Step(index, elapsed)
	lines, err := m.engine.Render(index)
	if err != nil {
		slog.Warn("Slot render failed", "slot", index, "error", err)
		return
	}

	display := strings.Join(lines, "\n")
	m.screen = display
	s.seq++

	idx := index
	m.bus.Publish(&domain.Frame{
		T:       "frame",
		Seq:     s.seq,
		Ts:      now.UnixMilli(),
		Slot:    &idx,
		Display: display,
	}, fmt.Sprintf("slot:%d", index))

	metrics.SlotTicksTotal.Inc()
}

func (m *Manager) handleDestroy(index int) {
	if index < 0 || index >= MaxSlots {
		return
	}
	s := m.slots[index]
	if s == nil {
		return
	}
	close(s.stop)
	m.engine.Destroy(index)
	m.slots[index] = nil
	m.active--
	metrics.SlotsActive.Set(float64(m.active))
	slog.Info("Slot destroyed", "slot", index)
}

func (m *Manager) handleSpawn(index int, sprite domain.Sprite) error {
	if index < 0 || index >= MaxSlots {
		return fmt.Errorf("slot index %d out of range [0,%d)", index, MaxSlots)
	}
	s := m.slots[index]
	if s == nil {
		return fmt.Errorf("slot %d not initialized", index)
	}

	if sprite.Len0 == 0 {
		sprite.Len0 = 4
	}
	if sprite.DTheta == 0 {
		sprite.DTheta = 0.1
	}
	if sprite.Valence == 0 {
		sprite.Valence = 1
	}

	if err := m.engine.Spawn(index, sprite); err != nil {
		return fmt.Errorf("engine spawn failed for slot %d: %w", index, err)
	}
	s.sprites = append(s.sprites, sprite)
	return nil
}

func (m *Manager) snapshotActive() []SlotInfo {
	var infos []SlotInfo
	for _, s := range m.slots {
		if s == nil {
			continue
		}
		sprites := make([]domain.Sprite, len(s.sprites))
		copy(sprites, s.sprites)
		infos = append(infos, SlotInfo{
			Index:   s.index,
			Cols:    s.cols,
			Rows:    s.rows,
			FPS:     s.fps,
			Sprites: sprites,
		})
	}
	return infos
}

func (m *Manager) handleStopAll() {
	for i, s := range m.slots {
		if s == nil {
			continue
		}
		close(s.stop)
		m.engine.Destroy(i)
		m.slots[i] = nil
	}
	m.active = 0
	metrics.SlotsActive.Set(0)
	slog.Info("All slots stopped")
}
