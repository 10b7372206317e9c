package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carrierlink/internal/events"
)

// Event stream over WebSocket using graphql-transport-ws style framing:
// connection_init/connection_ack, ping/pong, subscribe/next/complete.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	CarrierID string   `json:"carrierId"`
	Types     []string `json:"types"`
}

func (p subscribePayload) wants(evt events.Event) bool {
	if len(p.Types) == 0 {
		return true
	}
	for _, t := range p.Types {
		if t == evt.Type {
			return true
		}
	}
	return false
}

// EventsWSHandler handles /events/ws.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeProblem(w, http.StatusServiceUnavailable, "event stream disabled", "", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		carrierID string
		ch        chan events.Event
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, msg string) {
		payload, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if msg.ID == "" {
				fail("", "subscription id required")
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				fail(msg.ID, "subscription id already in use")
				continue
			}
			var pl subscribePayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &pl); err != nil {
					fail(msg.ID, "invalid payload")
					continue
				}
			}
			key := strings.ToUpper(strings.TrimSpace(pl.CarrierID))
			if key == "" {
				key = events.AllCarriers
			}
			ch := s.Bus.Subscribe(key)
			subs[msg.ID] = sub{carrierID: key, ch: ch}
			go func(id string, c chan events.Event, pl subscribePayload) {
				for evt := range c {
					if !pl.wants(evt) {
						continue
					}
					payload, err := json.Marshal(evt)
					if err != nil {
						continue
					}
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, pl)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Bus.Unsubscribe(s0.carrierID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			s.Log.Debug("ignoring websocket message", zap.String("type", msg.Type))
		}
	}
	for id, s0 := range subs {
		s.Bus.Unsubscribe(s0.carrierID, s0.ch)
		delete(subs, id)
	}
}
