package api

import (
	"log"
	"net/http"
	"strings"

	"mt5relay/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay event topics the stream can carry, by query-string name.
var wsTopics = map[string]events.Event{
	"cycle":      events.EventCycleLog,
	"decisions":  events.EventDecision,
	"dispatches": events.EventOrderDispatched,
	"closes":     events.EventOrderClosed,
}

type wsFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// websocket streams relay events to the UI. The client picks topics
// with ?topics=cycle,decisions; the default is the per-cycle log.
func (s *Server) websocket(c *gin.Context) {
	requested := strings.Split(c.DefaultQuery("topics", "cycle"), ",")
	subs := make(map[string]events.Event, len(requested))
	for _, raw := range requested {
		name := strings.TrimSpace(raw)
		if topic, ok := wsTopics[name]; ok {
			subs[name] = topic
		}
	}
	if len(subs) == 0 {
		ko(c, http.StatusBadRequest, "no known topics requested")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[api] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	// One forwarder per topic feeds a merged channel; closing done
	// releases any forwarder stuck on a send after the writer exits.
	merged := make(chan wsFrame, 64)
	done := make(chan struct{})
	defer close(done)
	for name, topic := range subs {
		ch, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(name string, ch <-chan any) {
			for msg := range ch {
				select {
				case merged <- wsFrame{Topic: name, Payload: msg}:
				case <-done:
					return
				}
			}
		}(name, ch)
	}

	// Read pump: we never expect client messages, but reading is what
	// surfaces close frames and dropped connections.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-merged:
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("[api] ws write: %v", err)
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
