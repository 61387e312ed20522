// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/lpf2/pkg/hub"
	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

// Bridge operations. Every WebSocket binary message carries one CBOR
// array [op, body].
const (
	OpAttach    uint8 = 0x01 // client: body.Port; server echoes on success
	OpData      uint8 = 0x02 // UART bytes, both directions
	OpConfigure uint8 = 0x03 // body.Value = baud, body.Timeout = ms
	OpEnable    uint8 = 0x04 // body.Value = 0/1
	OpProbe     uint8 = 0x05 // body.Value = 0/1
	OpDetect    uint8 = 0x06 // request; reply body.Value = 0/1
	OpDuty      uint8 = 0x07 // body.Channel, body.Value = percent
	OpError     uint8 = 0x7F // server: body.Text
)

// BridgeBody is the payload map of a bridge frame.
type BridgeBody struct {
	Port    *hub.Port `cbor:"0,keyasint,omitempty"`
	Data    []byte    `cbor:"1,keyasint,omitempty"`
	Value   int       `cbor:"2,keyasint,omitempty"`
	Channel int       `cbor:"3,keyasint,omitempty"`
	Text    string    `cbor:"4,keyasint,omitempty"`
	Timeout uint32    `cbor:"5,keyasint,omitempty"`
}

// BridgeFrame is one bridge message.
type BridgeFrame struct {
	_    struct{} `cbor:",toarray"`
	Op   uint8
	Body BridgeBody
}

// MarshalBridgeFrame encodes a frame as [op, body].
func MarshalBridgeFrame(f BridgeFrame) ([]byte, error) {
	return cbor.Marshal(f)
}

// ParseBridgeFrame decodes a [op, body] message.
func ParseBridgeFrame(data []byte) (BridgeFrame, error) {
	var f BridgeFrame
	if len(data) == 0 {
		return f, fmt.Errorf("empty bridge frame")
	}
	if err := cbor.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to decode bridge frame: %w", err)
	}
	return f, nil
}

// ErrBridgeClosed is returned once the bridge connection has gone away.
var ErrBridgeClosed = errors.New("bridge connection closed")

// DefaultDetectTimeout bounds one detect round trip.
const DefaultDetectTimeout = time.Second

// BridgeConfig describes how to reach a remote hub port.
type BridgeConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	Port          hub.Port
}

// Bridge is an lpf2.Transport for a port on a remote hub reached over a
// WebSocket.
type Bridge struct {
	conn    *websocket.Conn
	port    hub.Port
	writeMu sync.Mutex

	mu  sync.Mutex
	rx  []byte
	err error

	detect chan bool
	done   chan struct{}

	DetectTimeout time.Duration
}

// DialBridge connects to a bridge server and attaches to cfg.Port.
func DialBridge(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	b := &Bridge{
		conn:          conn,
		port:          cfg.Port,
		detect:        make(chan bool, 1),
		done:          make(chan struct{}),
		DetectTimeout: DefaultDetectTimeout,
	}
	if err := b.attach(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) attach(ctx context.Context) error {
	port := b.port
	if err := b.send(BridgeFrame{Op: OpAttach, Body: BridgeBody{Port: &port}}); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = b.conn.SetReadDeadline(deadline)
	defer b.conn.SetReadDeadline(time.Time{})

	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("attach port %s: %w", port.Name(), err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := ParseBridgeFrame(data)
		if err != nil {
			return err
		}
		switch f.Op {
		case OpAttach:
			glog.V(1).Infof("bridge: attached to port %s", port.Name())
			return nil
		case OpError:
			return fmt.Errorf("attach port %s: %s", port.Name(), f.Body.Text)
		}
	}
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			b.err = fmt.Errorf("%w: %v", ErrBridgeClosed, err)
			b.mu.Unlock()
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		f, err := ParseBridgeFrame(data)
		if err != nil {
			glog.Warningf("bridge: %v", err)
			continue
		}

		switch f.Op {
		case OpData:
			b.mu.Lock()
			b.rx = append(b.rx, f.Body.Data...)
			b.mu.Unlock()
		case OpDetect:
			select {
			case b.detect <- f.Body.Value != 0:
			default:
			}
		case OpError:
			glog.Warningf("bridge port %s: %s", b.port.Name(), f.Body.Text)
		default:
			glog.V(2).Infof("bridge: ignoring op 0x%02X", f.Op)
		}
	}
}

func (b *Bridge) send(f BridgeFrame) error {
	data, err := MarshalBridgeFrame(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (b *Bridge) closedErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Port returns the remote port this bridge is attached to.
func (b *Bridge) Port() hub.Port {
	return b.port
}

// Configure implements lpf2.Link. Bytes buffered at the old speed are
// dropped.
func (b *Bridge) Configure(baud int, timeout time.Duration) error {
	if err := b.closedErr(); err != nil {
		return err
	}
	b.mu.Lock()
	b.rx = nil
	b.mu.Unlock()
	return b.send(BridgeFrame{Op: OpConfigure, Body: BridgeBody{
		Value:   baud,
		Timeout: uint32(timeout / time.Millisecond),
	}})
}

// Write implements lpf2.Link.
func (b *Bridge) Write(p []byte) (int, error) {
	if err := b.closedErr(); err != nil {
		return 0, err
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := b.send(BridgeFrame{Op: OpData, Body: BridgeBody{Data: data}}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadAvailable implements lpf2.Link.
func (b *Bridge) ReadAvailable() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rx) == 0 {
		return nil, b.err
	}
	out := b.rx
	b.rx = nil
	return out, nil
}

// SetEnable implements lpf2.Lines.
func (b *Bridge) SetEnable(on bool) error {
	return b.send(BridgeFrame{Op: OpEnable, Body: BridgeBody{Value: boolValue(on)}})
}

// SetProbe implements lpf2.Lines.
func (b *Bridge) SetProbe(on bool) error {
	return b.send(BridgeFrame{Op: OpProbe, Body: BridgeBody{Value: boolValue(on)}})
}

// Detect implements lpf2.Lines with one request/reply round trip.
func (b *Bridge) Detect() (bool, error) {
	if err := b.closedErr(); err != nil {
		return false, err
	}
	select {
	case <-b.detect:
	default:
	}
	if err := b.send(BridgeFrame{Op: OpDetect}); err != nil {
		return false, err
	}

	timer := time.NewTimer(b.DetectTimeout)
	defer timer.Stop()
	select {
	case v := <-b.detect:
		return v, nil
	case <-b.done:
		return false, b.closedErr()
	case <-timer.C:
		return false, fmt.Errorf("bridge port %s: detect timed out", b.port.Name())
	}
}

// SetDuty implements lpf2.Drive. Failures on the hub are reported back
// asynchronously and logged.
func (b *Bridge) SetDuty(ch lpf2.Channel, percent int) error {
	return b.send(BridgeFrame{Op: OpDuty, Body: BridgeBody{Channel: int(ch), Value: percent}})
}

// Close implements lpf2.Transport.
func (b *Bridge) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()
	err := b.conn.Close()
	<-b.done
	return err
}

func boolValue(on bool) int {
	if on {
		return 1
	}
	return 0
}

// ============================================================
// Server side
// ============================================================

// DefaultPumpInterval is how often a bridge session forwards received UART
// bytes.
const DefaultPumpInterval = time.Millisecond

// BridgeServer exposes local transports to Bridge clients. Each WebSocket
// session attaches to one hub port and gets its own transport from Open,
// which is closed when the session ends.
type BridgeServer struct {
	Open         func(port hub.Port) (lpf2.Transport, error)
	Username     string
	Password     string
	PumpInterval time.Duration

	upgrader websocket.Upgrader
}

// ServeHTTP implements http.Handler.
func (s *BridgeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="lpf2"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("bridge: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	sess := &bridgeSession{conn: conn}
	if err := sess.run(s); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		glog.Warningf("bridge: session %s: %v", r.RemoteAddr, err)
	}
}

type bridgeSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	rxMu    sync.Mutex
	tr      lpf2.Transport
}

func (s *bridgeSession) send(f BridgeFrame) error {
	data, err := MarshalBridgeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *bridgeSession) sendError(err error) error {
	return s.send(BridgeFrame{Op: OpError, Body: BridgeBody{Text: err.Error()}})
}

func (s *bridgeSession) next() (BridgeFrame, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return BridgeFrame{}, err
		}
		if mt == websocket.BinaryMessage {
			return ParseBridgeFrame(data)
		}
	}
}

// forward sends whatever the transport has received. rxMu keeps chunks in
// order between the pump and the write path.
func (s *bridgeSession) forward() error {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	data, err := s.tr.ReadAvailable()
	if len(data) > 0 {
		if serr := s.send(BridgeFrame{Op: OpData, Body: BridgeBody{Data: data}}); serr != nil {
			return serr
		}
	}
	return err
}

func (s *bridgeSession) run(srv *BridgeServer) error {
	f, err := s.next()
	if err != nil {
		return err
	}
	if f.Op != OpAttach || f.Body.Port == nil {
		return s.sendError(fmt.Errorf("expected attach, got op 0x%02X", f.Op))
	}
	port := *f.Body.Port

	tr, err := srv.Open(port)
	if err != nil {
		_ = s.sendError(err)
		return err
	}
	s.tr = tr
	defer tr.Close()

	if err := s.send(BridgeFrame{Op: OpAttach, Body: BridgeBody{Port: &port}}); err != nil {
		return err
	}
	glog.Infof("bridge: session attached to port %s", port.Name())

	interval := srv.PumpInterval
	if interval <= 0 {
		interval = DefaultPumpInterval
	}
	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	defer func() {
		close(stop)
		<-pumpDone
	}()
	go func() {
		defer close(pumpDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.forward(); err != nil {
					glog.V(2).Infof("bridge port %s: %v", port.Name(), err)
				}
			}
		}
	}()

	for {
		f, err := s.next()
		if err != nil {
			return err
		}
		if err := s.handle(f); err != nil {
			glog.V(1).Infof("bridge port %s: op 0x%02X: %v", port.Name(), f.Op, err)
			if serr := s.sendError(err); serr != nil {
				return serr
			}
		}
	}
}

func (s *bridgeSession) handle(f BridgeFrame) error {
	switch f.Op {
	case OpData:
		if _, err := s.tr.Write(f.Body.Data); err != nil {
			return err
		}
		return s.forward()
	case OpConfigure:
		return s.tr.Configure(f.Body.Value, time.Duration(f.Body.Timeout)*time.Millisecond)
	case OpEnable:
		return s.tr.SetEnable(f.Body.Value != 0)
	case OpProbe:
		return s.tr.SetProbe(f.Body.Value != 0)
	case OpDetect:
		on, err := s.tr.Detect()
		if err != nil {
			return err
		}
		return s.send(BridgeFrame{Op: OpDetect, Body: BridgeBody{Value: boolValue(on)}})
	case OpDuty:
		if f.Body.Channel != int(lpf2.ChannelM1) && f.Body.Channel != int(lpf2.ChannelM2) {
			return fmt.Errorf("invalid channel %d", f.Body.Channel)
		}
		return s.tr.SetDuty(lpf2.Channel(f.Body.Channel), f.Body.Value)
	default:
		return fmt.Errorf("unknown op 0x%02X", f.Op)
	}
}
