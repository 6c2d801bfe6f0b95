// Package poller runs a reconfigurable, repeating SNMP query and keeps a
// bounded history of its results.
//
// The poller is either stopped or running with exactly one live timer. Every
// timer tick runs in its own goroutine, so a slow agent may cause ticks to
// overlap. Reconfiguring or stopping cancels the timer only; requests already
// in flight complete and still append their record.
//
// Basic Usage:
//
//	p := poller.New(factory, poller.Options{})
//	defer p.Close()
//
//	enabled, interval := true, 1000
//	cfg, err := p.Reconfigure(poller.Update{IsEnabled: &enabled, Interval: &interval})
//	if errors.Is(err, poller.ErrInvalidConfig) {
//		// rejected, nothing changed
//	}
//
//	records := p.Results(10)
package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/normalize"
	"github.com/geekxflood/snmpgateway/session"
)

// Query types.
const (
	TypeGet     = "get"
	TypeGetBulk = "getbulk"
)

// HistoryCapacity is the number of records kept; the oldest are evicted first.
const HistoryCapacity = 100

// NoDataMessage is reported when a bulk query returns no bindings.
const NoDataMessage = "No data returned from SNMP agent"

// MaxInterval is the largest interval, in milliseconds, that fits a time.Duration.
const MaxInterval = math.MaxInt64 / int64(time.Millisecond)

// MaxNonRepeaters is the largest non-repeaters value a GETBULK PDU carries.
const MaxNonRepeaters = 255

// ErrInvalidConfig is returned by Reconfigure when the merged configuration is rejected.
var ErrInvalidConfig = errors.New("invalid polling configuration")

// Config describes the repeating query.
type Config struct {
	IsEnabled      bool     `json:"isEnabled"`
	Interval       int      `json:"interval"`
	Type           string   `json:"type"`
	OIDs           []string `json:"oids"`
	OID            string   `json:"oid"`
	NonRepeaters   int      `json:"nonRepeaters"`
	MaxRepetitions int      `json:"maxRepetitions"`
}

// DefaultConfig returns the configuration used at startup.
func DefaultConfig() Config {
	return Config{
		IsEnabled:      false,
		Interval:       5000,
		Type:           TypeGet,
		OIDs:           []string{"1.3.6.1.2.1.1.1.0", "1.3.6.1.2.1.1.5.0"},
		OID:            "1.3.6.1.2.1.1",
		NonRepeaters:   0,
		MaxRepetitions: 10,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Interval <= 0 || int64(c.Interval) > MaxInterval {
		return fmt.Errorf("%w: interval must be in 1..%d, got %d", ErrInvalidConfig, MaxInterval, c.Interval)
	}
	switch c.Type {
	case TypeGet:
		if len(c.OIDs) == 0 {
			return fmt.Errorf("%w: oids must not be empty for type %q", ErrInvalidConfig, c.Type)
		}
	case TypeGetBulk:
		if c.OID == "" {
			return fmt.Errorf("%w: oid must not be empty for type %q", ErrInvalidConfig, c.Type)
		}
	default:
		return fmt.Errorf("%w: type must be %q or %q, got %q", ErrInvalidConfig, TypeGet, TypeGetBulk, c.Type)
	}
	if c.NonRepeaters < 0 || c.NonRepeaters > MaxNonRepeaters {
		return fmt.Errorf("%w: nonRepeaters must be in 0..%d, got %d", ErrInvalidConfig, MaxNonRepeaters, c.NonRepeaters)
	}
	if c.MaxRepetitions < 0 {
		return fmt.Errorf("%w: maxRepetitions must not be negative, got %d", ErrInvalidConfig, c.MaxRepetitions)
	}
	return nil
}

func (c Config) clone() Config {
	c.OIDs = slices.Clone(c.OIDs)
	return c
}

// Update carries a partial configuration change; nil fields are left unchanged.
type Update struct {
	IsEnabled      *bool     `json:"isEnabled,omitempty"`
	Interval       *int      `json:"interval,omitempty"`
	Type           *string   `json:"type,omitempty"`
	OIDs           *[]string `json:"oids,omitempty"`
	OID            *string   `json:"oid,omitempty"`
	NonRepeaters   *int      `json:"nonRepeaters,omitempty"`
	MaxRepetitions *int      `json:"maxRepetitions,omitempty"`
}

func (u Update) apply(c Config) Config {
	if u.IsEnabled != nil {
		c.IsEnabled = *u.IsEnabled
	}
	if u.Interval != nil {
		c.Interval = *u.Interval
	}
	if u.Type != nil {
		c.Type = *u.Type
	}
	if u.OIDs != nil {
		c.OIDs = slices.Clone(*u.OIDs)
	}
	if u.OID != nil {
		c.OID = *u.OID
	}
	if u.NonRepeaters != nil {
		c.NonRepeaters = *u.NonRepeaters
	}
	if u.MaxRepetitions != nil {
		c.MaxRepetitions = *u.MaxRepetitions
	}
	return c
}

// Options configure a Poller.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock used for record timestamps.
	Now func() time.Time
}

// Poller owns the poll configuration, its timer and the poll history.
type Poller struct {
	opener  session.Opener
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	cfg       Config
	history   []Record
	stopTimer chan struct{}
	timerDone chan struct{}
	closed    bool

	ticks sync.WaitGroup
	// activeTimers counts live ticker goroutines; it is at most one.
	activeTimers atomic.Int32
}

// New creates a stopped Poller with the default configuration.
func New(opener session.Opener, opts Options) *Poller {
	p := &Poller{
		opener:  opener,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		cfg:     DefaultConfig(),
		history: make([]Record, 0, HistoryCapacity),
	}
	if p.logger == nil {
		p.logger = logging.NewComponentLogger("poller", "scheduler")
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Reconfigure merges u into the current configuration, validates it and
// restarts the timer. On a validation error nothing changes.
func (p *Poller) Reconfigure(u Update) (Config, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return Config{}, errors.New("poller is closed")
	}

	next := u.apply(p.cfg.clone())
	if err := next.Validate(); err != nil {
		current := p.cfg.clone()
		p.mu.Unlock()
		return current, err
	}

	p.cfg = next
	p.stopTimerLocked()
	if next.IsEnabled {
		p.startTimerLocked(time.Duration(next.Interval) * time.Millisecond)
	}
	p.mu.Unlock()

	if next.IsEnabled {
		p.logger.Info("polling started", "type", next.Type, "interval_ms", next.Interval)
	} else {
		p.logger.Info("polling stopped")
	}

	return next.clone(), nil
}

// Config returns a copy of the current configuration.
func (p *Poller) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.clone()
}

// Running reports whether a timer is live.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopTimer != nil
}

// Results returns the last limit records, oldest first. A non-positive
// limit returns the whole history.
func (p *Poller) Results(limit int) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(p.history) {
		start = len(p.history) - limit
	}
	return slices.Clone(p.history[start:])
}

// Len returns the number of records in the history.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// Close stops the timer and waits for in-flight ticks to finish.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopTimerLocked()
	p.mu.Unlock()

	p.ticks.Wait()
	return nil
}

// stopTimerLocked stops the live timer and waits for its goroutine to exit.
// The timer goroutine never takes p.mu, so waiting under the lock is safe.
func (p *Poller) stopTimerLocked() {
	if p.stopTimer == nil {
		return
	}
	close(p.stopTimer)
	<-p.timerDone
	p.stopTimer, p.timerDone = nil, nil
}

func (p *Poller) startTimerLocked(interval time.Duration) {
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stopTimer, p.timerDone = stop, done

	p.activeTimers.Add(1)
	go p.run(interval, stop, done)
}

func (p *Poller) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		p.activeTimers.Add(-1)
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.ticks.Add(1)
			go func() {
				defer p.ticks.Done()
				p.tick(context.Background())
			}()
		}
	}
}

// tick performs one poll with the configuration as it is when the tick starts.
func (p *Poller) tick(ctx context.Context) {
	cfg := p.Config()
	record := p.poll(ctx, cfg)
	p.append(record)
}

func (p *Poller) poll(ctx context.Context, cfg Config) Record {
	record := Record{ID: uuid.NewString(), Timestamp: p.now(), Type: cfg.Type}

	s, err := p.opener.Open(ctx)
	if err != nil {
		return p.failed(record, err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			p.logger.Debug("closing poll session failed", "error", cerr)
		}
	}()

	switch cfg.Type {
	case TypeGetBulk:
		items, err := s.GetBulk(ctx, cfg.OID, cfg.NonRepeaters, cfg.MaxRepetitions)
		if err != nil {
			return p.failed(record, err)
		}
		bulk := normalize.NormalizeBulk(items)
		record.Results = bulk.Results
		if bulk.NoData {
			record.Message = NoDataMessage
			p.metrics.ObservePollTick(cfg.Type, metrics.OutcomeEmpty)
			return record
		}

	default:
		items, err := s.Get(ctx, cfg.OIDs)
		if err != nil {
			return p.failed(record, err)
		}
		record.Results = normalize.NormalizeAll(items)
	}

	p.metrics.ObservePollTick(cfg.Type, metrics.OutcomeSuccess)
	return record
}

func (p *Poller) failed(record Record, err error) Record {
	p.logger.Warn("poll failed", "type", record.Type, "error", err)
	p.metrics.ObservePollTick(record.Type, metrics.OutcomeError)
	record.Error = err.Error()
	return record
}

// append adds a record at the tail and evicts from the head beyond capacity.
func (p *Poller) append(record Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, record)
	if over := len(p.history) - HistoryCapacity; over > 0 {
		p.history = slices.Delete(p.history, 0, over)
	}
}
