// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes LPF2 readings to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

// Payload encodings
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// DefaultTimeout bounds connect and publish acknowledgements.
const DefaultTimeout = 5 * time.Second

// Options configures a Publisher.
type Options struct {
	// BrokerURL is mqtt://[user:pass@]host:port[/topic-prefix][?client-id=id].
	BrokerURL string
	ClientID  string
	Format    string
	QoS       byte
	Timeout   time.Duration
	// MinInterval drops readings that arrive sooner than this after the
	// previous publish of the same port.
	MinInterval time.Duration
}

// Document is the published form of one reading.
type Document struct {
	Port   string    `json:"port" cbor:"0,keyasint"`
	Mode   int       `json:"mode" cbor:"1,keyasint"`
	Name   string    `json:"name" cbor:"2,keyasint"`
	Values []float64 `json:"values" cbor:"3,keyasint"`
	Symbol string    `json:"symbol,omitempty" cbor:"4,keyasint,omitempty"`
	Seq    uint64    `json:"seq" cbor:"5,keyasint"`
	At     time.Time `json:"at" cbor:"6,keyasint"`
}

// InfoDocument is the retained identity of the device on a port.
type InfoDocument struct {
	Port     string   `json:"port" cbor:"0,keyasint"`
	TypeID   uint8    `json:"type" cbor:"1,keyasint"`
	Firmware string   `json:"firmware" cbor:"2,keyasint"`
	Hardware string   `json:"hardware" cbor:"3,keyasint"`
	Modes    []string `json:"modes" cbor:"4,keyasint"`
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Source is where Run takes readings from; *lpf2.Device implements it.
type Source interface {
	WaitNext(ctx context.Context, seq uint64) (lpf2.Reading, error)
	Mode(id int) (lpf2.ModeDescriptor, bool)
}

// Publisher sends readings to topics <prefix>/<client-id>/<port>/<mode>.
type Publisher struct {
	client   client
	prefix   string
	clientID string
	opts     Options
}

// ClientOptionsFromURL creates paho options and the topic prefix from a
// broker URL.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	var server string
	if u.Scheme == "" || u.Scheme == "mqtt" {
		server = "tcp"
	} else {
		server = u.Scheme
	}
	server += "://" + u.Host

	topicPrefix := strings.Trim(u.Path, "/")

	opts := paho.NewClientOptions()
	opts.AddBroker(server).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}

	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}

	return opts, topicPrefix, nil
}

// DefaultClientID derives a stable client id from the host's machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("lpf2")
	if err != nil {
		glog.Warningf("telemetry: machine id unavailable: %v", err)
		return "lpf2"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "lpf2-" + id
}

// NewPublisher creates an unconnected Publisher.
func NewPublisher(opts Options) (*Publisher, error) {
	popts, prefix, err := ClientOptionsFromURL(opts.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = popts.ClientID
	}
	if clientID == "" {
		clientID = DefaultClientID()
	}
	popts.SetClientID(clientID)
	popts.SetOnConnectHandler(func(paho.Client) {
		glog.Infof("telemetry: connected to %s as %s", opts.BrokerURL, clientID)
	})
	popts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("telemetry: connection lost: %v", err)
	})

	return newPublisher(paho.NewClient(popts), prefix, clientID, opts)
}

func newPublisher(c client, prefix, clientID string, opts Options) (*Publisher, error) {
	switch opts.Format {
	case "":
		opts.Format = FormatJSON
	case FormatJSON, FormatCBOR:
	default:
		return nil, fmt.Errorf("unsupported payload format %q (use %s or %s)", opts.Format, FormatJSON, FormatCBOR)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", opts.QoS)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Publisher{client: c, prefix: prefix, clientID: clientID, opts: opts}, nil
}

// ClientID returns the MQTT client id in use.
func (p *Publisher) ClientID() string {
	return p.clientID
}

// Topic returns the topic readings of mode d on port are published to.
func (p *Publisher) Topic(port string, d lpf2.ModeDescriptor) string {
	name := strings.ToLower(d.Name)
	if name == "" {
		name = fmt.Sprintf("mode%d", d.ID)
	}
	return p.topic(port, name)
}

func (p *Publisher) topic(parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	if p.prefix != "" {
		all = append(all, p.prefix)
	}
	all = append(all, p.clientID)
	all = append(all, parts...)
	return strings.Join(all, "/")
}

// Connect connects to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", p.opts.BrokerURL, err)
	}
	return nil
}

// Close disconnects, letting in-flight work finish for up to 250ms.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func (p *Publisher) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("no acknowledgement after %v", p.opts.Timeout)
	}
}

func (p *Publisher) encode(v interface{}) ([]byte, error) {
	if p.opts.Format == FormatCBOR {
		return cbor.Marshal(v)
	}
	return json.Marshal(v)
}

// NewDocument builds the published form of r.
func NewDocument(port string, d lpf2.ModeDescriptor, r lpf2.Reading) Document {
	return Document{
		Port:   port,
		Mode:   r.Mode,
		Name:   d.Name,
		Values: r.Values,
		Symbol: d.Symbol,
		Seq:    r.Seq,
		At:     r.At,
	}
}

// Publish sends one reading.
func (p *Publisher) Publish(ctx context.Context, port string, d lpf2.ModeDescriptor, r lpf2.Reading) error {
	payload, err := p.encode(NewDocument(port, d, r))
	if err != nil {
		return err
	}
	topic := p.Topic(port, d)
	if glog.V(3) {
		glog.Infof("PUB %q %d bytes", topic, len(payload))
	}
	return p.wait(ctx, p.client.Publish(topic, p.opts.QoS, false, payload))
}

// PublishInfo sends the device identity on <port>/info, retained.
func (p *Publisher) PublishInfo(ctx context.Context, port string, info lpf2.DeviceInfo, modes []lpf2.ModeDescriptor) error {
	doc := InfoDocument{
		Port:     port,
		TypeID:   info.TypeID,
		Firmware: info.FirmwareVersion.String(),
		Hardware: info.HardwareVersion.String(),
		Modes:    make([]string, 0, len(modes)),
	}
	for _, m := range modes {
		doc.Modes = append(doc.Modes, m.Name)
	}
	payload, err := p.encode(doc)
	if err != nil {
		return err
	}
	return p.wait(ctx, p.client.Publish(p.topic(port, "info"), p.opts.QoS, true, payload))
}

// Run publishes every new reading from src until ctx ends. Publish failures
// are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, src Source, port string) error {
	var seq uint64
	var last time.Time
	for {
		r, err := src.WaitNext(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		seq = r.Seq

		if p.opts.MinInterval > 0 && !last.IsZero() && r.At.Sub(last) < p.opts.MinInterval {
			continue
		}
		d, ok := src.Mode(r.Mode)
		if !ok {
			d = lpf2.ModeDescriptor{ID: r.Mode}
		}
		if err := p.Publish(ctx, port, d, r); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			glog.Warningf("telemetry: publish port %s mode %d: %v", port, r.Mode, err)
			continue
		}
		last = r.At
	}
}
