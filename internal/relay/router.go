package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/study-groups/quasar/internal/domain"
	"github.com/study-groups/quasar/internal/metrics"
)

const scoreRecordTimeout = 2 * time.Second

// handleSourceMessage routes one message from a source. The source
// protocol is fixed and trusted: unknown types are silently ignored.
func (h *Hub) handleSourceMessage(conn *websocket.Conn, data []byte) {
	s, ok := h.sources[conn]
	if !ok {
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("Dropping malformed source message", "game_type", s.gameType, "error", err)
		return
	}

	switch env.T {
	case "frame":
		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Dropping malformed frame", "game_type", s.gameType, "error", err)
			return
		}
		s.lastFrame = &frame
		h.handlePublish(&frame, "source:"+s.gameType)
	case "register":
		var msg domain.RegisterMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping malformed register message", "error", err)
			return
		}
		s.gameType = msg.GameType
		slog.Info("Source registered", "game_type", s.gameType)
	default:
		// Unknown source message types are ignored.
	}
}

// handleViewerMessage routes one message from a viewer. Unknown types get
// an explicit error reply.
func (h *Hub) handleViewerMessage(conn *websocket.Conn, data []byte) {
	v, ok := h.viewers[conn]
	if !ok {
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("Dropping malformed viewer message", "viewer_id", v.id, "error", err)
		return
	}

	switch {
	case env.T == "input", env.T == "game.reset":
		h.fanToSources(data)

	case env.T == "screen":
		var msg domain.ScreenMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping malformed screen message", "viewer_id", v.id, "error", err)
			return
		}
		v.screen = msg.Screen

	case env.T == "bridge.spawn":
		var req domain.SpawnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("Dropping malformed spawn request", "viewer_id", v.id, "error", err)
			return
		}
		if h.spawner == nil {
			h.sendTo(v.writer, domain.BridgeErrorMsg{
				T: "bridge.error", Game: req.Game, Channel: req.Channel,
				Error: "bridge spawning not available",
			})
			return
		}
		writer := v.writer
		h.spawner.HandleSpawn(func(msg any) { h.sendTo(writer, msg) }, req)

	case env.T == "ping":
		var msg domain.PingMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping malformed ping", "viewer_id", v.id, "error", err)
			return
		}
		h.handlePing(v, msg)

	case env.T == "poll":
		if h.lastFrame != nil {
			h.deliverFrame(v, h.lastFrame, mustMarshal(h.lastFrame))
		}

	case env.T == "sound.volume":
		var msg domain.VolumeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping malformed volume message", "viewer_id", v.id, "error", err)
			return
		}
		v.volume = msg.Volume

	case strings.HasPrefix(env.T, "lobby."), strings.HasPrefix(env.T, "match."):
		if env.T == "match.score" {
			h.recordScore(v, data)
		}
		writer := v.writer
		ref := domain.ViewerRef{
			ID:       v.id,
			Monogram: v.monogram,
			Send:     func(msg any) { h.sendTo(writer, msg) },
		}
		h.match.Handle(ref, env.T, data)

	default:
		h.sendTo(v.writer, domain.ErrorMsg{T: "error", Error: "Unknown message type: " + env.T})
	}
}

func (h *Hub) handlePing(v *viewerState, msg domain.PingMsg) {
	serverTs := h.nowMs()

	var frameAge, lastSeq int64
	if h.lastFrame != nil {
		frameAge = serverTs - h.lastFrame.ServerTs
		lastSeq = h.lastFrame.Seq
	}

	// The protocol never closes the latency loop (pong is fire-and-forget),
	// so record signed clock skew rather than a round trip.
	v.skewSamples = append(v.skewSamples, serverTs-msg.Ts)
	if len(v.skewSamples) > skewSampleLimit {
		v.skewSamples = v.skewSamples[len(v.skewSamples)-skewSampleLimit:]
	}

	h.sendTo(v.writer, domain.PongMsg{
		T:        "pong",
		ClientTs: msg.Ts,
		ServerTs: serverTs,
		FrameAge: frameAge,
		LastSeq:  lastSeq,
	})
}

// recordScore persists a match.score report to the leaderboard without
// blocking the hub goroutine. The message is also forwarded to the match
// collaborator by the caller.
func (h *Hub) recordScore(v *viewerState, data []byte) {
	var msg domain.ScoreMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Dropping malformed score message", "viewer_id", v.id, "error", err)
		return
	}
	player := v.monogram
	if player == "" {
		player = v.id
	}
	store := h.scores
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), scoreRecordTimeout)
		defer cancel()
		if err := store.Record(ctx, msg.Game, player, msg.Score); err != nil {
			slog.Warn("Failed to record score", "game", msg.Game, "player", player, "error", err)
		}
	}()
}

// --- Frame bus ---

// handlePublish is the single publish path: stamp serverTs, overwrite the
// MRU cache last-write-wins, fold sound deltas, serialize once, fan out
// with per-viewer loss accounting.
func (h *Hub) handlePublish(frame *domain.Frame, producer string) {
	frame.T = "frame"
	frame.ServerTs = h.nowMs()

	h.sound.Fold(frame.Snd)
	h.lastFrame = frame
	h.lastProducer = producer

	kind := producer
	if i := strings.IndexByte(kind, ':'); i >= 0 {
		kind = kind[:i]
	}
	metrics.FramesPublishedTotal.WithLabelValues(kind).Inc()

	h.fanOutFrame(frame)
}

// fanOutFrame serializes a frame once and delivers it to every open
// viewer with loss accounting.
func (h *Hub) fanOutFrame(frame *domain.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal frame", "error", err)
		return
	}
	for _, v := range h.viewers {
		h.deliverFrame(v, frame, data)
	}
}

// deliverFrame sends one frame to one viewer and updates its accounting.
// A sequence gap of N missing frames adds N to the dropped counter; the
// counter never decreases, and re-deliveries of the same seq add zero.
func (h *Hub) deliverFrame(v *viewerState, frame *domain.Frame, data []byte) {
	if frame.Seq > 0 {
		if v.lastFrameSeq > 0 {
			if gap := frame.Seq - v.lastFrameSeq - 1; gap > 0 {
				v.framesDropped += gap
				metrics.FramesDroppedTotal.Add(float64(gap))
			}
		}
		v.lastFrameSeq = frame.Seq
	}
	v.framesReceived++
	v.writer.trySend(data)
}

func mustMarshal(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Only reachable with unmarshalable types, which would be a
		// programming error in this package.
		panic(err)
	}
	return data
}
