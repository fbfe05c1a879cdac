// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/breakwater/internal/dataplane/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds on the management network; the browser origin check is
	// left to the operator's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the JSON shape pushed to websocket subscribers.
type wsEvent struct {
	Timestamp  uint64 `json:"timestamp"`
	SrcIP      string `json:"src_ip"`
	DstIP      string `json:"dst_ip"`
	SrcPort    uint16 `json:"src_port"`
	DstPort    uint16 `json:"dst_port"`
	Proto      uint8  `json:"proto"`
	Attack     uint8  `json:"attack"`
	Action     uint8  `json:"action"`
	DropReason uint8  `json:"drop_reason"`
	PPS        uint64 `json:"pps"`
	BPS        uint64 `json:"bps"`
	Score      uint32 `json:"reputation_score"`
	Country    string `json:"country,omitempty"`
	Escalation uint8  `json:"escalation"`
}

func toWSEvent(ev types.Event) wsEvent {
	out := wsEvent{
		Timestamp:  ev.Timestamp,
		SrcIP:      types.IPString(ev.SrcIP),
		DstIP:      types.IPString(ev.DstIP),
		SrcPort:    ev.SrcPort,
		DstPort:    ev.DstPort,
		Proto:      ev.Proto,
		Attack:     ev.Attack,
		Action:     ev.Action,
		DropReason: ev.DropReason,
		PPS:        ev.PPS,
		BPS:        ev.BPS,
		Score:      ev.ReputationScore,
		Escalation: ev.Escalation,
	}
	if ev.Country != 0 {
		out.Country = types.UnpackCountry(ev.Country)
	}
	return out
}

// handleEventsWS streams decision records to a websocket client until it
// disconnects. Records the client cannot keep up with are dropped upstream by
// the broker.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch := s.mgr.SubscribeEvents()
	defer s.mgr.UnsubscribeEvents(id)

	// Reads only service close frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(toWSEvent(ev)); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
