package netingress

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"ringcast/internal/dispatcher"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// wireHeaderSize is the fixed header every ingress datagram carries before
// its payload: 1 byte kind, 1 byte key-frame flag, 8 bytes PTS.
const wireHeaderSize = 10

// MaxDatagramSize bounds a single ingress datagram, matching the practical
// ceiling for a QUIC datagram frame on typical MTUs.
const MaxDatagramSize = 1200

// Listener accepts WebTransport sessions on path and forwards every
// datagram it receives, across every session, into a single Dispatcher via
// InputData. It does not itself do any per-producer bookkeeping — the
// dispatcher is the single producer's endpoint, and nothing here implies
// more than one producer is expected concurrently.
//
// Listener owns its TLS identity: New generates the self-signed
// certificate the WebTransport server presents, and keeps the
// fingerprint around for callers to publish out-of-band (for clients
// that pin it) rather than handing back a bare (*tls.Config, string)
// pair disconnected from the server it belongs to.
type Listener struct {
	addr        string
	path        string
	fingerprint string
	disp        *dispatcher.Dispatcher
	wt          webtransport.Server
}

// New constructs a Listener that decodes datagrams arriving on path and
// feeds them to disp. certValidity and hostname parameterize the
// self-signed certificate generated for the listener's WebTransport
// server.
func New(addr, path string, certValidity time.Duration, hostname string, disp *dispatcher.Dispatcher) (*Listener, error) {
	tlsConfig, fingerprint, err := generateTLSConfig(certValidity, hostname)
	if err != nil {
		return nil, fmt.Errorf("[netingress] %w", err)
	}

	l := &Listener{addr: addr, path: path, fingerprint: fingerprint, disp: disp}
	l.wt = webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleSession)
	l.wt.H3.Handler = mux
	return l, nil
}

// Fingerprint returns the SHA-256 fingerprint of the listener's self-signed
// certificate, for callers that want to publish it out-of-band.
func (l *Listener) Fingerprint() string { return l.fingerprint }

// Run starts the listener and blocks until ctx is cancelled or startup
// fails.
func (l *Listener) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.wt.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Printf("[netingress] shutting down")
		_ = l.wt.Close()
		return nil
	}
}

func (l *Listener) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := l.wt.Upgrade(w, r)
	if err != nil {
		log.Printf("[netingress] upgrade failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	log.Printf("[netingress] session established from %s", r.RemoteAddr)
	l.readDatagrams(r.Context(), session)
}

// readDatagrams relays incoming frames from one session into the
// dispatcher until the session closes. Malformed datagrams — too short for
// the header, or oversized — are dropped silently, matching a lossy
// real-time transport's tolerance for garbage on the wire.
func (l *Listener) readDatagrams(ctx context.Context, session *webtransport.Session) {
	for {
		data, err := session.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[netingress] datagram read error: %v", err)
			}
			return
		}
		frame, ok := decodeFrame(data)
		if !ok {
			continue
		}
		l.disp.InputData(frame)
	}
}

// decodeFrame parses the ingress wire format: 1 byte kind (0=audio,
// 1=video), 1 byte key-frame flag, 8 bytes big-endian PTS, followed by the
// raw payload.
func decodeFrame(data []byte) (dispatcher.Frame, bool) {
	if len(data) < wireHeaderSize || len(data) > MaxDatagramSize {
		return dispatcher.Frame{}, false
	}
	var kind dispatcher.Kind
	switch data[0] {
	case 0:
		kind = dispatcher.Audio
	case 1:
		kind = dispatcher.Video
	default:
		return dispatcher.Frame{}, false
	}
	payload := make([]byte, len(data)-wireHeaderSize)
	copy(payload, data[wireHeaderSize:])
	return dispatcher.Frame{
		Kind:     kind,
		KeyFrame: data[1] != 0,
		PTS:      binary.BigEndian.Uint64(data[2:10]),
		Payload:  payload,
	}, true
}
