// Package trap receives SNMP notifications, keeps a bounded most-recent-first
// history and fans every new record out to live subscribers.
//
// Pipeline position:
//
//	UDP :16200 -> gosnmp.TrapListener -> decode -> history -> subscribers
//	                                                           (websocket, nats)
//
// A subscriber that connects later first receives the history snapshot, then
// every new record individually. A slow subscriber misses records instead of
// stalling the listener or the other subscribers.
package trap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
)

// HistoryCapacity is the number of records kept; the oldest are dropped from the tail.
const HistoryCapacity = 100

// Error reasons reported to metrics.
const (
	reasonDecode = "decode"
	reasonPanic  = "panic"
)

// Config controls the Listener.
type Config struct {
	BindAddress string
	Port        int
	Community   string
	// SubscriberBuffer is the default channel capacity of a subscription.
	SubscriberBuffer int
	CloseTimeout     time.Duration

	Translator Translator
	Logger     logging.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.BindAddress == "" {
		out.BindAddress = "0.0.0.0"
	}
	if out.SubscriberBuffer <= 0 {
		out.SubscriberBuffer = 64
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = 3 * time.Second
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = logging.NewComponentLogger("trap", "listener")
	}
	return out
}

// PortConfig reports the bound port and the port requested for the next start.
type PortConfig struct {
	Port          int `json:"port"`
	RequestedPort int `json:"requestedPort"`
}

// Listener owns the trap history and the subscriber set.
type Listener struct {
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics
	decoder decoder

	mu            sync.Mutex
	history       []Record
	subs          map[*Subscription]struct{}
	requestedPort int
	closed        bool

	tl   *gosnmp.TrapListener
	done chan struct{}
}

// New creates a Listener; call Start to bind the UDP socket.
func New(cfg Config) *Listener {
	c := cfg.withDefaults()
	return &Listener{
		cfg:           c,
		logger:        c.Logger,
		metrics:       c.Metrics,
		decoder:       decoder{translator: c.Translator, now: c.Now},
		history:       make([]Record, 0, HistoryCapacity),
		subs:          make(map[*Subscription]struct{}),
		requestedPort: c.Port,
	}
}

// Addr returns the configured listen address.
func (l *Listener) Addr() string {
	return net.JoinHostPort(l.cfg.BindAddress, strconv.Itoa(l.cfg.Port))
}

// Start binds the UDP socket and blocks until the listener is ready, the bind
// fails or ctx is cancelled. Packets are handled on gosnmp's goroutine.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.tl != nil {
		l.mu.Unlock()
		return errors.New("trap listener already started")
	}
	if l.closed {
		l.mu.Unlock()
		return errors.New("trap listener closed")
	}

	tl := gosnmp.NewTrapListener()
	tl.Params = &gosnmp.GoSNMP{
		Version:   gosnmp.Version2c,
		Community: l.cfg.Community,
		Logger:    gosnmp.NewLogger(logAdapter{l.logger}),
	}
	tl.CloseTimeout = l.cfg.CloseTimeout
	tl.OnNewTrap = l.Handle

	l.tl = tl
	l.done = make(chan struct{})
	l.mu.Unlock()

	addr := l.Addr()
	errCh := make(chan error, 1)
	go func() {
		defer close(l.done)
		errCh <- tl.Listen(addr)
	}()

	select {
	case <-tl.Listening():
		l.logger.Info("trap listener started", "addr", addr)
		return nil
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		tl.Close()
		return ctx.Err()
	}
}

// Close stops the UDP listener and ends every subscription.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	tl, done := l.tl, l.done
	subs := l.subs
	l.subs = make(map[*Subscription]struct{})
	l.mu.Unlock()

	if tl != nil {
		tl.Close()
		<-done
	}
	for s := range subs {
		s.closeChannel()
	}
	l.metrics.SetTrapSubscribers(0)

	l.logger.Info("trap listener stopped")
	return nil
}

// Handle is the gosnmp callback for every received packet. Decode failures
// and panics are logged, counted and the packet is discarded.
func (l *Listener) Handle(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("trap handler panic", "remote", addr, "panic", r)
			l.metrics.IncTrapErrors(reasonPanic)
		}
	}()

	record, err := l.decoder.decode(pkt, addr)
	if err != nil {
		l.logger.Warn("discarding trap", "remote", addr, "error", err)
		l.metrics.IncTrapErrors(reasonDecode)
		return
	}

	l.record(record)
	l.metrics.IncTrapsReceived()
	l.logger.Debug("trap received", "id", record.ID, "source", record.SourceAddress, "trap_oid", record.TrapOID, "varbinds", len(record.Varbinds))
}

// record prepends r, truncates the tail and publishes r to every subscriber
// under one lock so a concurrent Subscribe sees r either in its snapshot or
// on its channel, never both.
func (l *Listener) record(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = slices.Insert(l.history, 0, r)
	if len(l.history) > HistoryCapacity {
		clear(l.history[HistoryCapacity:])
		l.history = l.history[:HistoryCapacity]
	}

	for s := range l.subs {
		select {
		case s.ch <- r:
		default:
			s.dropped.Add(1)
			l.metrics.IncSubscriberDrops()
			l.logger.Warn("subscriber buffer full, trap dropped", "subscriber", s.id, "trap_id", r.ID)
		}
	}
}

// Recent returns the first limit records, most recent first. A non-positive
// limit returns the whole history.
func (l *Listener) Recent(limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.history)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(l.history[:n])
}

// Len returns the number of records in the history.
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Subscribe registers a subscription and returns it together with the
// current history snapshot. buffer <= 0 uses the configured default.
func (l *Listener) Subscribe(buffer int) (*Subscription, []Record) {
	if buffer <= 0 {
		buffer = l.cfg.SubscriberBuffer
	}
	s := newSubscription(l, buffer)

	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := slices.Clone(l.history)
	if l.closed {
		s.closeChannel()
		return s, snapshot
	}
	l.subs[s] = struct{}{}
	l.metrics.SetTrapSubscribers(len(l.subs))
	return s, snapshot
}

// Subscribers returns the number of live subscriptions.
func (l *Listener) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Listener) unsubscribe(s *Subscription) {
	l.mu.Lock()
	_, ok := l.subs[s]
	delete(l.subs, s)
	n := len(l.subs)
	l.mu.Unlock()

	if ok {
		s.closeChannel()
		l.metrics.SetTrapSubscribers(n)
	}
}

// Ports returns the bound port and the port requested for the next start.
func (l *Listener) Ports() PortConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return PortConfig{Port: l.cfg.Port, RequestedPort: l.requestedPort}
}

// SetRequestedPort records a port to bind at the next start. The running
// listener keeps its current port.
func (l *Listener) SetRequestedPort(port int) (PortConfig, error) {
	if port < 1 || port > 65535 {
		return PortConfig{}, fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	l.mu.Lock()
	l.requestedPort = port
	cfg := PortConfig{Port: l.cfg.Port, RequestedPort: port}
	l.mu.Unlock()

	l.logger.Info("trap port change requested, restart required", "port", cfg.Port, "requested_port", port)
	return cfg, nil
}

// logAdapter bridges the component logger to gosnmp's Printf-style Logger.
type logAdapter struct{ l logging.Logger }

func (a logAdapter) Print(v ...interface{}) {
	a.l.Debug(fmt.Sprint(v...))
}

func (a logAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}
