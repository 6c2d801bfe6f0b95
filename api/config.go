package api

import (
	"net/http"

	"github.com/geekxflood/snmpgateway/poller"
	"github.com/geekxflood/snmpgateway/session"
)

type agentResponse struct {
	Success bool          `json:"success"`
	Config  session.Agent `json:"config"`
}

type pollingConfigResponse struct {
	Success bool          `json:"success"`
	Config  poller.Config `json:"config"`
}

type pollingResultsResponse struct {
	IsPolling bool            `json:"isPolling"`
	Config    poller.Config   `json:"config"`
	Results   []poller.Record `json:"results"`
}

func (s *Server) getAgent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.agents.Agent(), http.StatusOK)
}

func (s *Server) postAgent(w http.ResponseWriter, r *http.Request) {
	var u session.AgentUpdate
	if err := decodeBody(r, &u); err != nil {
		s.fail(w, r, "config", err)
		return
	}

	agent, err := s.agents.Update(u)
	if err != nil {
		s.fail(w, r, "config", badRequest(err.Error()))
		return
	}

	s.logger.InfoContext(r.Context(), "agent connection updated", "agent", describeAgent(agent))
	writeJSON(w, agentResponse{Success: true, Config: agent}, http.StatusOK)
}

func (s *Server) postPollingConfig(w http.ResponseWriter, r *http.Request) {
	var u poller.Update
	if err := decodeBody(r, &u); err != nil {
		s.fail(w, r, "polling", err)
		return
	}

	cfg, err := s.poller.Reconfigure(u)
	if err != nil {
		s.fail(w, r, "polling", err)
		return
	}

	writeJSON(w, pollingConfigResponse{Success: true, Config: cfg}, http.StatusOK)
}

func (s *Server) getPollingResults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultLimit)
	if err != nil {
		s.fail(w, r, "polling", err)
		return
	}

	results := s.poller.Results(limit)
	if results == nil {
		results = []poller.Record{}
	}

	writeJSON(w, pollingResultsResponse{
		IsPolling: s.poller.Running(),
		Config:    s.poller.Config(),
		Results:   results,
	}, http.StatusOK)
}
