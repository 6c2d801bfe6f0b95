// Package session opens request-scoped SNMP sessions against the configured agent.
//
// The agent connection (host, port, community) is mutable at runtime and is
// read at the moment each session is opened; a session never observes a
// later update. Every opened session must be closed exactly once by the caller.
//
// Basic Usage:
//
//	factory := session.NewFactory(session.DefaultAgent(), session.Options{})
//
//	s, err := factory.Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	items, err := s.Get(ctx, []string{"1.3.6.1.2.1.1.1.0"})
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/geekxflood/snmpgateway/normalize"
)

// Errors returned by sessions and binding validation.
var (
	// ErrInvalidType is returned for a SET type outside integer|string|octetstring|oid|ipaddress.
	ErrInvalidType = errors.New("invalid type")
	// ErrInvalidValue is returned when a SET value cannot be encoded as its type.
	ErrInvalidValue = errors.New("invalid value")
	// ErrRequestFailed wraps a non-zero error-status in an SNMP response PDU.
	ErrRequestFailed = errors.New("request failed")
)

// Agent is the connection target shared by every outbound request.
type Agent struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Community string `json:"community"`
}

// DefaultAgent returns the agent used when no configuration is provided.
func DefaultAgent() Agent {
	return Agent{Host: "127.0.0.1", Port: 161, Community: "public"}
}

// AgentUpdate carries a partial update; nil fields keep their current value.
type AgentUpdate struct {
	Host      *string `json:"host,omitempty"`
	Port      *int    `json:"port,omitempty"`
	Community *string `json:"community,omitempty"`
}

// Session is a single-use SNMP session bound to one agent.
type Session interface {
	Get(ctx context.Context, oids []string) ([]normalize.Item, error)
	Set(ctx context.Context, bindings []Binding) ([]normalize.Item, error)
	GetBulk(ctx context.Context, root string, nonRepeaters, maxRepetitions int) ([]normalize.Item, error)
	// Walk traverses the subtree at root, handing each batch of bindings to
	// onBatch. It returns when the subtree is exhausted or on the first error.
	Walk(ctx context.Context, root string, onBatch func([]normalize.Item) error) error
	Close() error
}

// Opener produces sessions. The HTTP layer and the poller depend on this
// interface so tests can substitute the protocol collaborator.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Options tune the sessions created by a Factory.
type Options struct {
	Timeout time.Duration
	Retries int
	// Version is "1" or "2c"; anything else falls back to 2c.
	Version string
	Logger  *slog.Logger

	// OnOpen and OnClose are invoked once per opened and closed session.
	OnOpen  func()
	OnClose func()
}

func (o Options) withDefaults() Options {
	out := o
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	if out.Version != "1" {
		out.Version = "2c"
	}
	return out
}

func (o Options) snmpVersion() gosnmp.SnmpVersion {
	if o.Version == "1" {
		return gosnmp.Version1
	}
	return gosnmp.Version2c
}

// Factory opens gosnmp sessions against the current Agent.
type Factory struct {
	mu    sync.RWMutex
	agent Agent
	opts  Options
}

// NewFactory creates a Factory for the given agent.
func NewFactory(agent Agent, opts Options) *Factory {
	return &Factory{agent: agent, opts: opts.withDefaults()}
}

// Agent returns a snapshot of the current agent connection.
func (f *Factory) Agent() Agent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.agent
}

// Update applies a partial agent update and returns the resulting agent.
// Empty strings and non-positive ports are ignored, matching the behaviour of
// the configuration endpoint.
func (f *Factory) Update(u AgentUpdate) (Agent, error) {
	if u.Port != nil && (*u.Port < 0 || *u.Port > 65535) {
		return Agent{}, fmt.Errorf("port must be between 1 and 65535, got %d", *u.Port)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if u.Host != nil && *u.Host != "" {
		f.agent.Host = *u.Host
	}
	if u.Port != nil && *u.Port > 0 {
		f.agent.Port = *u.Port
	}
	if u.Community != nil && *u.Community != "" {
		f.agent.Community = *u.Community
	}
	return f.agent, nil
}

// Replace swaps the whole agent connection, as done on configuration reload.
func (f *Factory) Replace(agent Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agent = agent
}

// Open connects a new session to the agent as configured at call time.
func (f *Factory) Open(_ context.Context) (Session, error) {
	agent := f.Agent()

	g := &gosnmp.GoSNMP{
		Target:    agent.Host,
		Port:      uint16(agent.Port),
		Community: agent.Community,
		Version:   f.opts.snmpVersion(),
		Timeout:   f.opts.Timeout,
		Retries:   f.opts.Retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if f.opts.Logger != nil {
		g.Logger = gosnmp.NewLogger(slogAdapter{f.opts.Logger})
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", net.JoinHostPort(agent.Host, strconv.Itoa(agent.Port)), err)
	}

	if f.opts.OnOpen != nil {
		f.opts.OnOpen()
	}

	return &snmpSession{g: g, onClose: f.opts.OnClose}, nil
}

// snmpSession adapts a connected *gosnmp.GoSNMP to the Session interface.
type snmpSession struct {
	g       *gosnmp.GoSNMP
	once    sync.Once
	closeFn error
	onClose func()
}

func (s *snmpSession) Get(ctx context.Context, oids []string) ([]normalize.Item, error) {
	s.g.Context = ctx
	pkt, err := s.g.Get(oids)
	if err != nil {
		return nil, err
	}
	if err := packetError(pkt); err != nil {
		return nil, err
	}
	return normalize.FromPDUs(pkt.Variables), nil
}

func (s *snmpSession) Set(ctx context.Context, bindings []Binding) ([]normalize.Item, error) {
	pdus := make([]gosnmp.SnmpPDU, 0, len(bindings))
	for _, b := range bindings {
		pdu, err := b.PDU()
		if err != nil {
			return nil, err
		}
		pdus = append(pdus, pdu)
	}

	s.g.Context = ctx
	pkt, err := s.g.Set(pdus)
	if err != nil {
		return nil, err
	}
	if err := packetError(pkt); err != nil {
		return nil, err
	}
	return normalize.FromPDUs(pkt.Variables), nil
}

func (s *snmpSession) GetBulk(ctx context.Context, root string, nonRepeaters, maxRepetitions int) ([]normalize.Item, error) {
	if nonRepeaters < 0 || nonRepeaters > 255 {
		return nil, fmt.Errorf("nonRepeaters out of range: %d", nonRepeaters)
	}
	if maxRepetitions < 0 {
		return nil, fmt.Errorf("maxRepetitions out of range: %d", maxRepetitions)
	}

	s.g.Context = ctx
	pkt, err := s.g.GetBulk([]string{root}, uint8(nonRepeaters), uint32(maxRepetitions))
	if err != nil {
		return nil, err
	}
	if err := packetError(pkt); err != nil {
		return nil, err
	}
	return normalize.FromPDUs(pkt.Variables), nil
}

func (s *snmpSession) Walk(ctx context.Context, root string, onBatch func([]normalize.Item) error) error {
	s.g.Context = ctx
	walk := s.g.BulkWalk
	if s.g.Version == gosnmp.Version1 {
		walk = s.g.Walk
	}
	return walk(root, func(pdu gosnmp.SnmpPDU) error {
		return onBatch([]normalize.Item{normalize.FromPDU(pdu)})
	})
}

func (s *snmpSession) Close() error {
	s.once.Do(func() {
		if s.g.Conn != nil {
			s.closeFn = s.g.Conn.Close()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeFn
}

// packetError turns a non-zero error-status into a transport-level error.
func packetError(pkt *gosnmp.SnmpPacket) error {
	if pkt == nil {
		return fmt.Errorf("%w: empty response", ErrRequestFailed)
	}
	if pkt.Error != gosnmp.NoError {
		return fmt.Errorf("%w: %s (index %d)", ErrRequestFailed, pkt.Error, pkt.ErrorIndex)
	}
	return nil
}

// slogAdapter bridges slog.Logger to gosnmp's Printf-style Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Print(v ...interface{}) {
	a.l.Debug(strings.TrimSpace(fmt.Sprint(v...)))
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
