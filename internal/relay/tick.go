package relay

import (
	"log/slog"
	"time"

	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/metrics"
)

// The master tick loop decouples distribution cadence from production
// jitter: viewers see a uniform frame rate even when a source is bursty.
// The ticker lives in the hub's select, so a tick always runs to
// completion before the next command or tick — two ticks can never
// overlap for one hub.

func masterInterval(fps int) time.Duration {
	return time.Duration(1000/fps) * time.Millisecond
}

func (h *Hub) handleStartMaster() {
	if h.masterTicker != nil {
		return
	}
	h.masterTicker = h.clock.NewTicker(masterInterval(h.masterFPS))
	slog.Info("Master tick started", "fps", h.masterFPS, "interval", masterInterval(h.masterFPS))
}

func (h *Hub) handleStopMaster() {
	if h.masterTicker == nil {
		return
	}
	h.masterTicker.Stop()
	h.masterTicker = nil
	slog.Info("Master tick stopped", "ticks", h.tickCount)
}

// handleSetFps tears down and restarts the timer transparently.
func (h *Hub) handleSetFps(fps int) {
	if fps < 1 {
		slog.Warn("Ignoring invalid master fps", "fps", fps)
		return
	}
	h.masterFPS = fps
	if h.masterTicker != nil {
		h.masterTicker.Stop()
		h.masterTicker = h.clock.NewTicker(masterInterval(fps))
	}
	slog.Info("Master fps changed", "fps", fps)
}

func (h *Hub) handleMasterTick() {
	start := h.clock.Now()
	h.tickCount++
	ts := h.nowMs()

	// Poll every source and gather cached frames for the diagnostic
	// aggregate. Sources with no cached frame yet are skipped; that is
	// not an error condition.
	poll := mustMarshal(domain.PollMsg{T: "poll"})
	var bundle []domain.SourceFrame
	for _, s := range h.sources {
		s.writer.trySend(poll)
		if s.lastFrame != nil {
			bundle = append(bundle, domain.SourceFrame{GameType: s.gameType, Frame: s.lastFrame})
		}
	}
	if len(bundle) > 0 {
		h.fanToViewers(mustMarshal(domain.TickMsg{T: "tick", Tick: h.tickCount, Ts: ts, Sources: bundle}))
	}

	// The path viewers actually render from: re-broadcast the primary
	// cached frame stamped with this tick's timestamp and tick number.
	if h.lastFrame != nil {
		clone := h.lastFrame.Clone()
		clone.ServerTs = ts
		clone.Tick = h.tickCount
		h.fanOutFrame(clone)
	}

	elapsed := h.clock.Since(start)
	h.tickLastMs = float64(elapsed.Microseconds()) / 1000.0
	h.tickAvgMs = h.tickAvgMs*0.9 + h.tickLastMs*0.1

	metrics.MasterTicksTotal.Inc()
	metrics.MasterTickDuration.Observe(elapsed.Seconds())
}
