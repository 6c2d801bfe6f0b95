package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/geekxflood/snmpgateway/trap"
)

// Stream event names.
const (
	EventTraps = "traps"
	EventTrap  = "trap"
)

// RestartMessage accompanies a trap port change.
const RestartMessage = "Trap port change will take effect after restart"

const streamWriteTimeout = 5 * time.Second

// Event is one message on the live trap stream.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type trapsResponse struct {
	Traps []trap.Record `json:"traps"`
}

type trapConfigRequest struct {
	Port *int `json:"port,omitempty"`
}

type trapConfigResponse struct {
	Success bool            `json:"success"`
	Config  trap.PortConfig `json:"config"`
	Message string          `json:"message"`
}

func (s *Server) getTraps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultLimit)
	if err != nil {
		s.fail(w, r, "traps", err)
		return
	}

	traps := s.traps.Recent(limit)
	if traps == nil {
		traps = []trap.Record{}
	}
	writeJSON(w, trapsResponse{Traps: traps}, http.StatusOK)
}

func (s *Server) postTrapConfig(w http.ResponseWriter, r *http.Request) {
	var req trapConfigRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, "traps", err)
		return
	}

	cfg := s.traps.Ports()
	if req.Port != nil {
		var err error
		if cfg, err = s.traps.SetRequestedPort(*req.Port); err != nil {
			s.fail(w, r, "traps", badRequest(err.Error()))
			return
		}
	}

	writeJSON(w, trapConfigResponse{Success: true, Config: cfg, Message: RestartMessage}, http.StatusOK)
}

// streamTraps upgrades to a WebSocket, sends the history snapshot once and
// then every new record until either side goes away.
func (s *Server) streamTraps(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub, snapshot := s.traps.Subscribe(0)
	defer sub.Unsubscribe()

	// The stream is write-only; CloseRead handles control frames and cancels
	// ctx once the client disconnects.
	ctx := conn.CloseRead(r.Context())

	if snapshot == nil {
		snapshot = []trap.Record{}
	}
	if err := s.send(ctx, conn, Event{Event: EventTraps, Data: snapshot}); err != nil {
		s.logger.DebugContext(r.Context(), "stream closed", "subscriber", sub.ID(), "error", err)
		return
	}
	s.logger.DebugContext(r.Context(), "trap stream opened", "subscriber", sub.ID(), "history", len(snapshot))

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(r.Context(), "trap stream closed by client", "subscriber", sub.ID())
			return
		case record, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "trap listener stopped")
				return
			}
			if err := s.send(ctx, conn, Event{Event: EventTrap, Data: record}); err != nil {
				s.logger.DebugContext(r.Context(), "stream closed", "subscriber", sub.ID(), "error", err)
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
