package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/metrics"
)

const (
	// DefaultMasterFPS is the master broadcast rate when none is configured.
	DefaultMasterFPS = 15

	commandBufferSize = 256
	skewSampleLimit   = 32
)

// --- Connection state ---

type viewerState struct {
	id          string
	monogram    string
	writer      *clientWriter
	connectedAt time.Time

	lastFrameSeq   int64
	framesReceived int64
	framesDropped  int64

	volume      float64
	screen      string
	skewSamples []int64
}

type sourceState struct {
	gameType  string
	writer    *clientWriter
	lastFrame *domain.Frame
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type addViewerCmd struct {
	baseHubCmd
	conn  *websocket.Conn
	reply chan string
}

type addSourceCmd struct {
	baseHubCmd
	conn *websocket.Conn
}

type removeCmd struct {
	baseHubCmd
	conn *websocket.Conn
}

type viewerMsgCmd struct {
	baseHubCmd
	conn *websocket.Conn
	data []byte
}

type sourceMsgCmd struct {
	baseHubCmd
	conn *websocket.Conn
	data []byte
}

type publishCmd struct {
	baseHubCmd
	frame    *domain.Frame
	producer string
}

type startMasterCmd struct{ baseHubCmd }

type stopMasterCmd struct{ baseHubCmd }

type setFpsCmd struct {
	baseHubCmd
	fps int
}

type setSpawnerCmd struct {
	baseHubCmd
	spawner domain.BridgeSpawner
}

type countsCmd struct {
	baseHubCmd
	reply chan Counts
}

type viewerStatsCmd struct {
	baseHubCmd
	conn  *websocket.Conn
	reply chan *ViewerStats
}

type tickStatsCmd struct {
	baseHubCmd
	reply chan TickStats
}

type soundCmd struct {
	baseHubCmd
	reply chan *domain.SoundState
}

type stopCmd struct{ baseHubCmd }

// --- Introspection values ---

// Counts reports the registry sizes.
type Counts struct {
	Viewers int
	Sources int
}

// ViewerStats is a snapshot of one viewer's per-connection accounting.
type ViewerStats struct {
	ID             string
	Monogram       string
	FramesReceived int64
	FramesDropped  int64
	LastFrameSeq   int64
	Volume         float64
	Screen         string
	SkewSamples    []int64
}

// TickStats reports master tick timing for overload detection.
type TickStats struct {
	Tick    int64
	FPS     int
	Running bool
	// LastMs is the duration of the most recent tick; AvgMs the
	// exponentially weighted average avg*0.9 + last*0.1.
	LastMs float64
	AvgMs  float64
}

// --- Hub ---

// Options configures a Hub. Zero-value collaborators are replaced with
// no-op implementations so tests can construct a minimal hub.
type Options struct {
	Clock     clockwork.Clock
	MasterFPS int
	Match     domain.MatchService
	Monograms domain.MonogramService
	Scores    domain.ScoreStore
}

// Hub owns the viewer and source registries, routes wire messages, runs
// the frame bus, and drives the master broadcast loop. One instance per
// server; construct a fresh one per test.
type Hub struct {
	cmdCh chan hubCmd
	clock clockwork.Clock
	done  chan struct{}

	viewers map[*websocket.Conn]*viewerState
	sources map[*websocket.Conn]*sourceState

	sound        *domain.SoundState
	lastFrame    *domain.Frame
	lastProducer string

	masterFPS    int
	masterTicker clockwork.Ticker
	tickCount    int64
	tickLastMs   float64
	tickAvgMs    float64

	match     domain.MatchService
	monograms domain.MonogramService
	scores    domain.ScoreStore
	spawner   domain.BridgeSpawner
}

// NewHub creates a hub and starts its goroutine. The master tick loop is
// not started; call StartMaster once wiring is complete.
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MasterFPS <= 0 {
		opts.MasterFPS = DefaultMasterFPS
	}
	if opts.Match == nil {
		opts.Match = noopMatch{}
	}
	if opts.Monograms == nil {
		opts.Monograms = noopMonograms{}
	}
	if opts.Scores == nil {
		opts.Scores = noopScores{}
	}

	h := &Hub{
		cmdCh:     make(chan hubCmd, commandBufferSize),
		clock:     opts.Clock,
		done:      make(chan struct{}),
		viewers:   make(map[*websocket.Conn]*viewerState),
		sources:   make(map[*websocket.Conn]*sourceState),
		sound:     domain.NewSoundState(),
		masterFPS: opts.MasterFPS,
		match:     opts.Match,
		monograms: opts.Monograms,
		scores:    opts.Scores,
	}
	go h.run()
	return h
}

// --- Public API (enqueue commands) ---

// AddViewer registers a viewer socket and returns its generated id. The
// viewer immediately receives a sync message with the current sound state.
func (h *Hub) AddViewer(conn *websocket.Conn) string {
	reply := make(chan string, 1)
	h.cmdCh <- addViewerCmd{conn: conn, reply: reply}
	return <-reply
}

// AddSource registers a source socket with gameType "unknown" until it
// sends a register message.
func (h *Hub) AddSource(conn *websocket.Conn) {
	h.cmdCh <- addSourceCmd{conn: conn}
}

// Remove unregisters a connection of either class.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.cmdCh <- removeCmd{conn: conn}
}

// HandleViewerMessage routes one raw message from a viewer socket.
func (h *Hub) HandleViewerMessage(conn *websocket.Conn, data []byte) {
	h.cmdCh <- viewerMsgCmd{conn: conn, data: data}
}

// HandleSourceMessage routes one raw message from a source socket.
func (h *Hub) HandleSourceMessage(conn *websocket.Conn, data []byte) {
	h.cmdCh <- sourceMsgCmd{conn: conn, data: data}
}

// Publish implements domain.FrameBus. Non-blocking: if the hub is
// saturated the frame is dropped, consistent with best-effort delivery.
func (h *Hub) Publish(frame *domain.Frame, producer string) {
	select {
	case h.cmdCh <- publishCmd{frame: frame, producer: producer}:
	default:
		metrics.PublishesDroppedTotal.Inc()
	}
}

// SetSpawner wires the bridge factory. Called once during startup, after
// the factory (which depends on the hub through the slot manager) exists.
func (h *Hub) SetSpawner(s domain.BridgeSpawner) {
	h.cmdCh <- setSpawnerCmd{spawner: s}
}

// StartMaster starts the master broadcast loop. Idempotent.
func (h *Hub) StartMaster() {
	h.cmdCh <- startMasterCmd{}
}

// StopMaster stops the master broadcast loop. Idempotent.
func (h *Hub) StopMaster() {
	h.cmdCh <- stopMasterCmd{}
}

// SetFps changes the master broadcast rate, restarting the timer if it is
// running. Ticks never overlap across the transition.
func (h *Hub) SetFps(fps int) {
	h.cmdCh <- setFpsCmd{fps: fps}
}

// Counts returns current registry sizes.
func (h *Hub) Counts() Counts {
	reply := make(chan Counts, 1)
	h.cmdCh <- countsCmd{reply: reply}
	return <-reply
}

// ViewerStats returns a snapshot for one viewer, or nil if unknown.
func (h *Hub) ViewerStats(conn *websocket.Conn) *ViewerStats {
	reply := make(chan *ViewerStats, 1)
	h.cmdCh <- viewerStatsCmd{conn: conn, reply: reply}
	return <-reply
}

// TickStats returns master tick timing.
func (h *Hub) TickStats() TickStats {
	reply := make(chan TickStats, 1)
	h.cmdCh <- tickStatsCmd{reply: reply}
	return <-reply
}

// Sound returns a copy of the current shared sound state.
func (h *Hub) Sound() *domain.SoundState {
	reply := make(chan *domain.SoundState, 1)
	h.cmdCh <- soundCmd{reply: reply}
	return <-reply
}

// Stop shuts the hub down, closing every connection. Blocks until the
// hub goroutine has exited.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}
	<-h.done
}

// --- Actor loop ---

func (h *Hub) run() {
	defer close(h.done)

	for {
		var tickCh <-chan time.Time
		if h.masterTicker != nil {
			tickCh = h.masterTicker.Chan()
		}

		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case addViewerCmd:
				c.reply <- h.handleAddViewer(c.conn)
			case addSourceCmd:
				h.handleAddSource(c.conn)
			case removeCmd:
				h.handleRemove(c.conn)
			case viewerMsgCmd:
				h.handleViewerMessage(c.conn, c.data)
			case sourceMsgCmd:
				h.handleSourceMessage(c.conn, c.data)
			case publishCmd:
				h.handlePublish(c.frame, c.producer)
			case startMasterCmd:
				h.handleStartMaster()
			case stopMasterCmd:
				h.handleStopMaster()
			case setFpsCmd:
				h.handleSetFps(c.fps)
			case setSpawnerCmd:
				h.spawner = c.spawner
			case countsCmd:
				c.reply <- Counts{Viewers: len(h.viewers), Sources: len(h.sources)}
			case viewerStatsCmd:
				c.reply <- h.snapshotViewer(c.conn)
			case tickStatsCmd:
				c.reply <- TickStats{
					Tick:    h.tickCount,
					FPS:     h.masterFPS,
					Running: h.masterTicker != nil,
					LastMs:  h.tickLastMs,
					AvgMs:   h.tickAvgMs,
				}
			case soundCmd:
				c.reply <- h.sound.Clone()
			case stopCmd:
				h.handleStop()
				return
			}
		case <-tickCh:
			h.handleMasterTick()
		}
	}
}

// --- Registry handlers ---

func (h *Hub) handleAddViewer(conn *websocket.Conn) string {
	id := uuid.NewString()
	v := &viewerState{
		id:          id,
		monogram:    h.monograms.Assign(id),
		writer:      newClientWriter(conn, h.clock, true),
		connectedAt: h.clock.Now(),
		volume:      1.0,
	}
	h.viewers[conn] = v
	metrics.RelayViewersCurrent.Set(float64(len(h.viewers)))

	// Late joiners must never see a stale default sound state.
	h.sendTo(v.writer, domain.SyncMsg{T: "sync", ID: id, Monogram: v.monogram, Snd: h.sound.Clone()})

	slog.Debug("Viewer connected", "viewer_id", id, "monogram", v.monogram, "viewers", len(h.viewers))
	return id
}

func (h *Hub) handleAddSource(conn *websocket.Conn) {
	h.sources[conn] = &sourceState{
		gameType: "unknown",
		writer:   newClientWriter(conn, h.clock, false),
	}
	metrics.RelaySourcesCurrent.Set(float64(len(h.sources)))
	slog.Info("Source connected", "sources", len(h.sources))
}

func (h *Hub) handleRemove(conn *websocket.Conn) {
	if v, ok := h.viewers[conn]; ok {
		v.writer.stop()
		delete(h.viewers, conn)
		metrics.RelayViewersCurrent.Set(float64(len(h.viewers)))

		h.match.Disconnect(v.id)
		h.monograms.Release(v.id)
		slog.Debug("Viewer disconnected", "viewer_id", v.id, "viewers", len(h.viewers))
		return
	}
	if s, ok := h.sources[conn]; ok {
		s.writer.stop()
		delete(h.sources, conn)
		metrics.RelaySourcesCurrent.Set(float64(len(h.sources)))
		slog.Info("Source disconnected", "game_type", s.gameType, "sources", len(h.sources))
	}
}

func (h *Hub) snapshotViewer(conn *websocket.Conn) *ViewerStats {
	v, ok := h.viewers[conn]
	if !ok {
		return nil
	}
	skew := make([]int64, len(v.skewSamples))
	copy(skew, v.skewSamples)
	return &ViewerStats{
		ID:             v.id,
		Monogram:       v.monogram,
		FramesReceived: v.framesReceived,
		FramesDropped:  v.framesDropped,
		LastFrameSeq:   v.lastFrameSeq,
		Volume:         v.volume,
		Screen:         v.screen,
		SkewSamples:    skew,
	}
}

func (h *Hub) handleStop() {
	for conn, v := range h.viewers {
		v.writer.stopGraceful("Server shutting down")
		delete(h.viewers, conn)
	}
	for conn, s := range h.sources {
		s.writer.stopGraceful("Server shutting down")
		delete(h.sources, conn)
	}
	h.handleStopMaster()
	metrics.RelayViewersCurrent.Set(0)
	metrics.RelaySourcesCurrent.Set(0)
	slog.Info("Hub stopped")
}

// --- Send helpers ---

func (h *Hub) sendTo(w *clientWriter, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "error", err)
		return
	}
	w.trySend(data)
}

// fanToViewers sends pre-marshaled data to every open viewer socket.
func (h *Hub) fanToViewers(data []byte) {
	for _, v := range h.viewers {
		v.writer.trySend(data)
	}
}

// fanToSources sends pre-marshaled data to every open source socket.
// Sources are authoritative on interpretation; the payload is verbatim.
func (h *Hub) fanToSources(data []byte) {
	for _, s := range h.sources {
		s.writer.trySend(data)
	}
}

func (h *Hub) nowMs() int64 {
	return h.clock.Now().UnixMilli()
}
