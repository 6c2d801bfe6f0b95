// Package forward publishes trap records to NATS.
//
// The forwarder is an ordinary trap subscriber: it drains its subscription and
// publishes each record as JSON. Publish failures are logged and counted and
// never reach the trap listener.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/trap"
)

const (
	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "snmp.traps"
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout = 10 * time.Second
	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait = 2 * time.Second
)

// Publisher is the subset of *nats.Conn used by the forwarder.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Connect dials NATS with reconnection enabled and connection state logged.
func Connect(url string, logger logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewComponentLogger("forward", "nats")
	}

	conn, err := nats.Connect(url,
		nats.Name("snmpgateway"),
		nats.Timeout(ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.Info("connected to NATS", "url", url)
	return conn, nil
}

// Forwarder publishes records received on a subscription.
type Forwarder struct {
	pub     Publisher
	subject string
	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a Forwarder publishing on subject.
func New(pub Publisher, subject string, logger logging.Logger, m *metrics.Metrics) *Forwarder {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = logging.NewComponentLogger("forward", "nats")
	}
	return &Forwarder{pub: pub, subject: subject, logger: logger, metrics: m}
}

// Run publishes every record from sub until ctx is done or the subscription
// ends. It always unsubscribes before returning.
func (f *Forwarder) Run(ctx context.Context, sub *trap.Subscription) {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-sub.C():
			if !ok {
				return
			}
			if err := f.Publish(record); err != nil {
				f.metrics.IncForwardErrors()
				f.logger.Error("failed to forward trap", "trap_id", record.ID, "error", err)
				continue
			}
			f.metrics.IncForwarded()
		}
	}
}

// Publish sends one record with identifying headers.
func (f *Forwarder) Publish(record trap.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal trap %s: %w", record.ID, err)
	}

	msg := nats.NewMsg(f.subject)
	msg.Data = data
	msg.Header.Set("x-trap-id", record.ID)
	msg.Header.Set("x-trap-version", record.Version)
	msg.Header.Set("x-source", record.SourceAddress+":"+strconv.Itoa(record.SourcePort))
	if record.TrapOID != "" {
		msg.Header.Set("x-trap-oid", record.TrapOID)
	}
	if record.TrapName != "" {
		msg.Header.Set("x-trap-name", record.TrapName)
	}

	if err := f.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish trap %s: %w", record.ID, err)
	}

	f.logger.Debug("trap forwarded", "trap_id", record.ID, "subject", f.subject)
	return nil
}
