package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/study-groups/quasar/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 32
)

// clientWriter serializes all writes to one socket through a buffered
// channel. Sends are fire-and-forget: a full buffer drops the message
// rather than blocking the hub.
//
// keepalive enables the ping/pong deadline machinery. Viewers are browser
// clients that answer pings automatically; sources are minimal WebSocket
// implementations that may not, so they rely on frame traffic alone.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	keepalive   bool
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, keepalive bool) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		keepalive:   keepalive,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	if keepalive {
		cw.configurePongHandler()
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// trySend enqueues a message without blocking. Returns false if the
// buffer is full and the message was dropped.
func (cw *clientWriter) trySend(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		metrics.SendsDroppedTotal.Inc()
		return false
	}
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	var pingCh <-chan time.Time
	if cw.keepalive {
		ticker := cw.clock.NewTicker(pingInterval)
		defer ticker.Stop()
		pingCh = ticker.Chan()
	}

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Write failure means the socket is gone; close it so the
				// read pump unblocks and unregisters the connection.
				_ = cw.connection.Close()
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-pingCh:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
