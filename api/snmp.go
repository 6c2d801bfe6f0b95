package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/geekxflood/snmpgateway/metrics"
	"github.com/geekxflood/snmpgateway/normalize"
	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
)

// Defaults applied when a query omits its target.
var (
	DefaultGetOIDs = []string{"1.3.6.1.2.1.1.1.0", "1.3.6.1.2.1.1.5.0"}
	DefaultRootOID = "1.3.6.1.2.1.1"
)

type resultsResponse struct {
	Results []normalize.Result `json:"results"`
	Message string             `json:"message,omitempty"`
}

type setRequest struct {
	OID   string `json:"oid"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	oids := DefaultGetOIDs
	if raw := r.URL.Query().Get("oids"); raw != "" {
		oids = splitOIDs(raw)
	}
	if len(oids) == 0 {
		s.fail(w, r, "get", badRequest("oids must not be empty"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.agents.Open(ctx)
	if err != nil {
		s.fail(w, r, "get", err)
		return
	}
	defer sess.Close()

	items, err := sess.Get(ctx, oids)
	if err != nil {
		s.fail(w, r, "get", err)
		return
	}

	s.metrics.ObserveRequest("get", metrics.OutcomeSuccess)
	writeJSON(w, resultsResponse{Results: normalize.NormalizeAll(items)}, http.StatusOK)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, "set", err)
		return
	}
	if req.OID == "" || req.Type == "" || req.Value == nil {
		s.fail(w, r, "set", badRequest("Missing required parameters: oid, type, value"))
		return
	}

	binding, err := session.NewBinding(req.OID, req.Type, req.Value)
	if err != nil {
		s.fail(w, r, "set", err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.agents.Open(ctx)
	if err != nil {
		s.fail(w, r, "set", err)
		return
	}
	defer sess.Close()

	items, err := sess.Set(ctx, []session.Binding{binding})
	if err != nil {
		s.fail(w, r, "set", err)
		return
	}

	s.metrics.ObserveRequest("set", metrics.OutcomeSuccess)
	writeJSON(w, resultsResponse{Results: normalize.NormalizeAll(items)}, http.StatusOK)
}

func (s *Server) handleGetBulk(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("oid")
	if root == "" {
		root = DefaultRootOID
	}
	nonRepeaters, err := queryInt(r, "nonRepeaters", 0)
	if err != nil {
		s.fail(w, r, "getbulk", err)
		return
	}
	maxRepetitions, err := queryInt(r, "maxRepetitions", 10)
	if err != nil {
		s.fail(w, r, "getbulk", err)
		return
	}
	if nonRepeaters < 0 || nonRepeaters > 255 || maxRepetitions < 0 {
		s.fail(w, r, "getbulk", badRequest("nonRepeaters must be in 0..255 and maxRepetitions must not be negative"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.agents.Open(ctx)
	if err != nil {
		s.fail(w, r, "getbulk", err)
		return
	}
	defer sess.Close()

	items, err := sess.GetBulk(ctx, root, nonRepeaters, maxRepetitions)
	if err != nil {
		s.fail(w, r, "getbulk", err)
		return
	}

	bulk := normalize.NormalizeBulk(items)
	if bulk.NoData {
		s.metrics.ObserveRequest("getbulk", metrics.OutcomeEmpty)
		writeJSON(w, resultsResponse{Results: bulk.Results, Message: poller.NoDataMessage}, http.StatusOK)
		return
	}

	s.metrics.ObserveRequest("getbulk", metrics.OutcomeSuccess)
	writeJSON(w, resultsResponse{Results: bulk.Results}, http.StatusOK)
}

func (s *Server) handleWalk(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("oid")
	if root == "" {
		root = DefaultRootOID
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.agents.Open(ctx)
	if err != nil {
		s.fail(w, r, "walk", err)
		return
	}
	defer sess.Close()

	results := make([]normalize.Result, 0)
	err = sess.Walk(ctx, root, func(items []normalize.Item) error {
		results = append(results, normalize.NormalizeAll(items)...)
		return nil
	})
	if err != nil {
		s.fail(w, r, "walk", err)
		return
	}

	s.metrics.ObserveRequest("walk", metrics.OutcomeSuccess)
	writeJSON(w, resultsResponse{Results: results}, http.StatusOK)
}

// fail records the outcome and writes the error with its mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	code := statusFor(err)
	s.metrics.ObserveRequest(operation, metrics.OutcomeError)
	if code >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "operation", operation, "error", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected", "operation", operation, "error", err)
	}
	writeError(w, err, code)
}

func splitOIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	oids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			oids = append(oids, p)
		}
	}
	return oids
}

func describeAgent(a session.Agent) string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
