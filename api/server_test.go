package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gosnmp/gosnmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/geekxflood/snmpgateway/logging"
	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/normalize"
	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
	"github.com/geekxflood/snmpgateway/trap"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

// fakeAgents keeps the agent in a real Factory but hands out fake sessions.
type fakeAgents struct {
	*session.Factory

	opens  atomic.Int32
	closes atomic.Int32

	mu       sync.Mutex
	openErr  error
	reqErr   error
	items    []normalize.Item
	walk     [][]normalize.Item
	lastOIDs []string
	lastSet  []session.Binding
	lastBulk [3]any
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{Factory: session.NewFactory(session.DefaultAgent(), session.Options{})}
}

func (f *fakeAgents) Open(context.Context) (session.Session, error) {
	f.mu.Lock()
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.opens.Add(1)
	return &fakeSession{agents: f}, nil
}

type fakeSession struct {
	agents *fakeAgents
	closed atomic.Bool
}

func (s *fakeSession) Get(_ context.Context, oids []string) ([]normalize.Item, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	s.agents.lastOIDs = oids
	if s.agents.reqErr != nil {
		return nil, s.agents.reqErr
	}
	if s.agents.items != nil {
		return s.agents.items, nil
	}
	out := make([]normalize.Item, 0, len(oids))
	for _, oid := range oids {
		out = append(out, normalize.NewItem(oid, "OctetString", []byte("value of "+oid)))
	}
	return out, nil
}

func (s *fakeSession) Set(_ context.Context, bindings []session.Binding) ([]normalize.Item, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	s.agents.lastSet = bindings
	if s.agents.reqErr != nil {
		return nil, s.agents.reqErr
	}
	out := make([]normalize.Item, 0, len(bindings))
	for _, b := range bindings {
		pdu, err := b.PDU()
		if err != nil {
			return nil, err
		}
		out = append(out, normalize.FromPDU(pdu))
	}
	return out, nil
}

func (s *fakeSession) GetBulk(_ context.Context, root string, nonRepeaters, maxRepetitions int) ([]normalize.Item, error) {
	s.agents.mu.Lock()
	defer s.agents.mu.Unlock()
	s.agents.lastBulk = [3]any{root, nonRepeaters, maxRepetitions}
	return s.agents.items, s.agents.reqErr
}

func (s *fakeSession) Walk(_ context.Context, _ string, onBatch func([]normalize.Item) error) error {
	s.agents.mu.Lock()
	batches, err := s.agents.walk, s.agents.reqErr
	s.agents.mu.Unlock()
	for _, b := range batches {
		if err := onBatch(b); err != nil {
			return err
		}
	}
	return err
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.agents.closes.Add(1)
	}
	return nil
}

func quietLogger() logging.Logger {
	logger, _, _ := logging.NewLogger(logging.Config{Level: "error", Format: "logfmt", Output: "stderr"})
	return logger
}

func linkDown(n int) *gosnmp.SnmpPacket {
	return &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.SNMPv2Trap,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(n)},
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.6.3.1.1.5.3"},
		},
	}
}

type response struct {
	Results []normalize.Result `json:"results"`
	Message string             `json:"message"`
	Error   string             `json:"error"`
}

var _ = Describe("Server", func() {
	var (
		agents   *fakeAgents
		p        *poller.Poller
		listener *trap.Listener
		m        *metrics.Metrics
		handler  http.Handler
	)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	BeforeEach(func() {
		agents = newFakeAgents()
		m = metrics.New()
		p = poller.New(agents, poller.Options{Logger: quietLogger(), Metrics: m})
		listener = trap.New(trap.Config{Logger: quietLogger(), Metrics: m, Port: 16200})
		handler = NewServer(Config{
			Agents:  agents,
			Poller:  p,
			Traps:   listener,
			Metrics: m,
			Logger:  quietLogger(),
		}).Handler()
	})

	AfterEach(func() {
		Expect(p.Close()).To(Succeed())
		Expect(listener.Close()).To(Succeed())
	})

	Describe("plain routes", func() {
		It("serves the welcome text", func() {
			rec := do(http.MethodGet, "/", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal(WelcomeText))
		})

		It("serves health and metrics", func() {
			Expect(do(http.MethodGet, "/healthz", "").Body.String()).To(Equal("ok"))

			do(http.MethodGet, "/api/snmp/get", "")
			rec := do(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`snmpgateway_requests_total{operation="get",outcome="success"} 1`))
		})
	})

	Describe("GET /api/snmp/get", func() {
		It("queries the default OIDs", func() {
			rec := do(http.MethodGet, "/api/snmp/get", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body response
			decode(rec, &body)
			Expect(body.Results).To(HaveLen(2))
			Expect(body.Results[0].OID).To(Equal("1.3.6.1.2.1.1.1.0"))
			Expect(body.Results[0].String()).To(Equal("value of 1.3.6.1.2.1.1.1.0"))
			Expect(agents.closes.Load()).To(Equal(int32(1)))
		})

		It("splits the oids parameter", func() {
			do(http.MethodGet, "/api/snmp/get?oids=1.3.6.1.2.1.1.3.0,%201.3.6.1.2.1.1.4.0", "")
			Expect(agents.lastOIDs).To(Equal([]string{"1.3.6.1.2.1.1.3.0", "1.3.6.1.2.1.1.4.0"}))
		})

		It("keeps item errors inline", func() {
			agents.items = []normalize.Item{
				normalize.NewItem("1.3.6.1.2.1.1.1.0", "OctetString", []byte("router")),
				normalize.NewItemError("1.3.6.1.2.1.1.99.0", "NoSuchObject"),
			}
			rec := do(http.MethodGet, "/api/snmp/get", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body response
			decode(rec, &body)
			Expect(body.Results[1].Error).To(Equal("NoSuchObject"))
			Expect(body.Results[1].Value).To(BeNil())
		})

		It("maps transport failures to 500 and still closes the session", func() {
			agents.reqErr = errors.New("request timeout (after 1 retries)")
			rec := do(http.MethodGet, "/api/snmp/get", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))

			var body response
			decode(rec, &body)
			Expect(body.Error).To(ContainSubstring("timeout"))
			Expect(agents.opens.Load()).To(Equal(agents.closes.Load()))
		})

		It("maps open failures to 500", func() {
			agents.openErr = errors.New("snmp connect 10.0.0.1:161: no route")
			Expect(do(http.MethodGet, "/api/snmp/get", "").Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("POST /api/snmp/set", func() {
		It("rejects missing fields without opening a session", func() {
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.1.5.0","type":"string"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			var body response
			decode(rec, &body)
			Expect(body.Error).To(Equal("Missing required parameters: oid, type, value"))
			Expect(agents.opens.Load()).To(BeZero())
		})

		It("rejects an unknown type without opening a session", func() {
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.1.5.0","type":"counter64","value":1}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(agents.opens.Load()).To(BeZero())
		})

		It("rejects a value that does not fit the type", func() {
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.1.5.0","type":"ipaddress","value":"not-an-ip"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(agents.opens.Load()).To(BeZero())
		})

		It("rejects malformed JSON", func() {
			Expect(do(http.MethodPost, "/api/snmp/set", `{"oid":`).Code).To(Equal(http.StatusBadRequest))
		})

		It("writes the binding and echoes the response", func() {
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.1.5.0","type":"String","value":"core-sw1"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body response
			decode(rec, &body)
			Expect(body.Results).To(HaveLen(1))
			Expect(body.Results[0].String()).To(Equal("core-sw1"))
			Expect(agents.lastSet).To(HaveLen(1))
			Expect(agents.lastSet[0].Type).To(Equal(session.TypeString))
			Expect(agents.closes.Load()).To(Equal(int32(1)))
		})

		It("accepts integers", func() {
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.2.2.1.7.1","type":"integer","value":2}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body response
			decode(rec, &body)
			Expect(body.Results[0].String()).To(Equal("2"))
		})

		It("maps agent error-status to 500", func() {
			agents.reqErr = errors.Join(session.ErrRequestFailed, errors.New("NotWritable"))
			rec := do(http.MethodPost, "/api/snmp/set", `{"oid":"1.3.6.1.2.1.1.1.0","type":"string","value":"x"}`)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/snmp/getbulk", func() {
		It("uses the documented defaults", func() {
			agents.items = []normalize.Item{normalize.NewItem("1.3.6.1.2.1.1.1.0", "OctetString", []byte("router"))}
			rec := do(http.MethodGet, "/api/snmp/getbulk", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(agents.lastBulk).To(Equal([3]any{"1.3.6.1.2.1.1", 0, 10}))

			var body response
			decode(rec, &body)
			Expect(body.Results).To(HaveLen(1))
			Expect(body.Results[0].Type).To(Equal("OctetString"))
			Expect(body.Message).To(BeEmpty())
		})

		It("reports an empty response", func() {
			rec := do(http.MethodGet, "/api/snmp/getbulk?oid=1.3.6.1.4.1&maxRepetitions=5", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"results":[],"message":"No data returned from SNMP agent"}`))
			Expect(agents.lastBulk).To(Equal([3]any{"1.3.6.1.4.1", 0, 5}))
		})

		It("rejects non-integer parameters", func() {
			rec := do(http.MethodGet, "/api/snmp/getbulk?nonRepeaters=abc", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(agents.opens.Load()).To(BeZero())
		})
	})

	Describe("GET /api/snmp/walk", func() {
		It("collects every batch", func() {
			agents.walk = [][]normalize.Item{
				{normalize.NewItem("1.3.6.1.2.1.1.1.0", "OctetString", []byte("router"))},
				{normalize.NewItem("1.3.6.1.2.1.1.3.0", "TimeTicks", uint32(1234))},
			}
			rec := do(http.MethodGet, "/api/snmp/walk?oid=1.3.6.1.2.1.1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body response
			decode(rec, &body)
			Expect(body.Results).To(HaveLen(2))
			Expect(body.Results[1].String()).To(Equal("1234"))
		})

		It("returns an empty list for an empty subtree", func() {
			rec := do(http.MethodGet, "/api/snmp/walk", "")
			Expect(rec.Body.String()).To(MatchJSON(`{"results":[]}`))
		})
	})

	Describe("agent configuration", func() {
		It("applies a partial update", func() {
			rec := do(http.MethodPost, "/api/config", `{"host":"10.0.0.5","community":"private"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true,"config":{"host":"10.0.0.5","port":161,"community":"private"}}`))

			rec = do(http.MethodGet, "/api/config", "")
			Expect(rec.Body.String()).To(MatchJSON(`{"host":"10.0.0.5","port":161,"community":"private"}`))
		})

		It("rejects an out of range port", func() {
			rec := do(http.MethodPost, "/api/config", `{"port":70000}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(agents.Agent().Port).To(Equal(161))
		})
	})

	Describe("polling", func() {
		It("reconfigures and reports the poller state", func() {
			rec := do(http.MethodPost, "/api/polling/config", `{"isEnabled":true,"interval":20}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var cfgBody struct {
				Success bool          `json:"success"`
				Config  poller.Config `json:"config"`
			}
			decode(rec, &cfgBody)
			Expect(cfgBody.Success).To(BeTrue())
			Expect(cfgBody.Config.Interval).To(Equal(20))

			Eventually(p.Len).Should(BeNumerically(">=", 3))

			rec = do(http.MethodGet, "/api/polling/results?limit=2", "")
			var results struct {
				IsPolling bool            `json:"isPolling"`
				Config    poller.Config   `json:"config"`
				Results   []poller.Record `json:"results"`
			}
			decode(rec, &results)
			Expect(results.IsPolling).To(BeTrue())
			Expect(results.Results).To(HaveLen(2))
			Expect(results.Results[0].Timestamp).To(BeTemporally("<=", results.Results[1].Timestamp))
		})

		It("rejects an invalid configuration", func() {
			rec := do(http.MethodPost, "/api/polling/config", `{"type":"walk"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(p.Config().Type).To(Equal(poller.TypeGet))
		})

		DescribeTable("rejecting out of range values without starting a timer",
			func(body string) {
				rec := do(http.MethodPost, "/api/polling/config", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(p.Running()).To(BeFalse())
				Expect(p.Config()).To(Equal(poller.DefaultConfig()))
			},
			Entry("interval overflowing a duration", `{"isEnabled":true,"interval":9300000000000}`),
			Entry("nonRepeaters above 255", `{"isEnabled":true,"type":"getbulk","nonRepeaters":256}`),
		)

		It("returns an empty history as a list", func() {
			rec := do(http.MethodGet, "/api/polling/results", "")
			var body map[string]any
			decode(rec, &body)
			Expect(body["results"]).To(BeEmpty())
			Expect(body["results"]).NotTo(BeNil())
			Expect(body["isPolling"]).To(BeFalse())
		})
	})

	Describe("traps", func() {
		addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 40000}

		It("lists the most recent traps first", func() {
			for i := 1; i <= 3; i++ {
				listener.Handle(linkDown(i), addr)
			}
			rec := do(http.MethodGet, "/api/traps?limit=2", "")
			var body struct {
				Traps []trap.Record `json:"traps"`
			}
			decode(rec, &body)
			Expect(body.Traps).To(HaveLen(2))
			Expect(body.Traps[0].Varbinds[0].String()).To(Equal("3"))
			Expect(body.Traps[0].TrapName).To(BeEmpty())
			Expect(body.Traps[0].SourceAddress).To(Equal("192.0.2.10"))
		})

		It("records a requested port and says a restart is needed", func() {
			rec := do(http.MethodPost, "/api/traps/config", `{"port":16300}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true,"config":{"port":16200,"requestedPort":16300},"message":"` + RestartMessage + `"}`))
		})

		It("rejects an invalid port", func() {
			Expect(do(http.MethodPost, "/api/traps/config", `{"port":0}`).Code).To(Equal(http.StatusBadRequest))
		})

		It("streams the history then each new trap", func() {
			for i := 1; i <= 5; i++ {
				listener.Handle(linkDown(i), addr)
			}

			srv := httptest.NewServer(handler)
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/traps/stream", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.CloseNow()

			var first struct {
				Event string        `json:"event"`
				Data  []trap.Record `json:"data"`
			}
			Expect(wsjson.Read(ctx, conn, &first)).To(Succeed())
			Expect(first.Event).To(Equal(EventTraps))
			Expect(first.Data).To(HaveLen(5))
			Expect(first.Data[0].Varbinds[0].String()).To(Equal("5"))
			Expect(listener.Subscribers()).To(Equal(1))

			listener.Handle(linkDown(6), addr)

			var next struct {
				Event string      `json:"event"`
				Data  trap.Record `json:"data"`
			}
			Expect(wsjson.Read(ctx, conn, &next)).To(Succeed())
			Expect(next.Event).To(Equal(EventTrap))
			Expect(next.Data.Varbinds[0].String()).To(Equal("6"))

			Expect(conn.Close(websocket.StatusNormalClosure, "")).To(Succeed())
			Eventually(listener.Subscribers).Should(BeZero())
		})
	})

	It("recovers from handler panics", func() {
		srv := NewServer(Config{Agents: agents, Poller: p, Traps: listener, Logger: quietLogger()})
		srv.r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", bytes.NewReader(nil)))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
