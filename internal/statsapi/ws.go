package statsapi

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ringcast/internal/dispatcher"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// wsBridge upgrades /ws requests and drives one dispatcher.Consumer per
// connection, forwarding delivered frames as binary websocket messages.
// Query parameters select the consumer's mode: ?mode=mixed (or no mode) a
// mixed consumer, ?mode=video a ModeAudioAndVideo consumer that forwards
// both audio and video frames, and ?mode=audio (or any other value) an
// audio-only consumer; ?key_only=true restricts video to key-frames.
type wsBridge struct {
	disp    *dispatcher.Dispatcher
	nextID  atomic.Uint32
	upgrade websocket.Upgrader
}

func newWSBridge(disp *dispatcher.Dispatcher) *wsBridge {
	return &wsBridge{
		disp: disp,
		upgrade: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

func (b *wsBridge) handle(c echo.Context) error {
	traceID := uuid.New().String()
	remoteAddr := c.RealIP()
	mode := parseMode(c.QueryParam("mode"))
	keyOnly := c.QueryParam("key_only") == "true"

	slog.Debug("ws upgrade request", "trace_id", traceID, "remote", remoteAddr, "mode", mode)

	conn, err := b.upgrade.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "trace_id", traceID, "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	b.serveConn(conn, traceID, remoteAddr, mode, keyOnly)
	return nil
}

func parseMode(s string) dispatcher.Mode {
	switch s {
	case "video":
		return dispatcher.ModeAudioAndVideo
	case "mixed", "":
		return dispatcher.ModeMixed
	default:
		return dispatcher.ModeAudioOnly
	}
}

func (b *wsBridge) serveConn(conn *websocket.Conn, traceID, remoteAddr string, mode dispatcher.Mode, keyOnly bool) {
	defer conn.Close()

	id := b.nextID.Add(1)
	consumer, err := dispatcher.NewConsumer(b.disp, id, mode, keyOnly)
	if err != nil {
		slog.Warn("ws consumer rejected", "trace_id", traceID, "remote", remoteAddr, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		return
	}
	defer consumer.Detach()

	slog.Info("ws consumer attached", "trace_id", traceID, "remote", remoteAddr, "slot", consumer.Slot())
	defer slog.Info("ws consumer detached", "trace_id", traceID, "remote", remoteAddr)

	// A disconnect is only observable by reading; run a read-only pump so
	// a client-initiated close unblocks RequestRead via Detach.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				consumer.Detach()
				return
			}
		}
	}()

	var writeMu sync.Mutex
	pump := func(kind dispatcher.Kind) {
		for {
			frame, err := consumer.RequestRead(kind)
			if err != nil {
				slog.Debug("ws consumer read stopped", "trace_id", traceID, "kind", kind, "err", err)
				return
			}
			writeMu.Lock()
			err = writeFrame(conn, frame)
			writeMu.Unlock()
			if err != nil {
				slog.Debug("ws write error", "trace_id", traceID, "err", err)
				consumer.Detach()
				return
			}
		}
	}

	// ModeAudioAndVideo drives audio and video through their own
	// independent waitlines (§4.2); ModeMixed and ModeAudioOnly have a
	// single waitline, so one pump suffices.
	if mode == dispatcher.ModeAudioAndVideo {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); pump(dispatcher.Audio) }()
		go func() { defer wg.Done(); pump(dispatcher.Video) }()
		wg.Wait()
		return
	}

	readKind := dispatcher.Mixed
	if mode == dispatcher.ModeAudioOnly {
		readKind = dispatcher.Audio
	}
	pump(readKind)
}

// writeFrame encodes a frame as a small fixed binary header (kind byte,
// key-frame byte, 8-byte PTS) followed by the payload, and sends it as one
// binary websocket message.
func writeFrame(conn *websocket.Conn, f *dispatcher.Frame) error {
	header := make([]byte, 10)
	header[0] = byte(f.Kind)
	if f.KeyFrame {
		header[1] = 1
	}
	binary.BigEndian.PutUint64(header[2:], f.PTS)

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, append(header, f.Payload...))
}
