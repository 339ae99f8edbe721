package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// The event stream opens with a status snapshot, then replays the hub's
// recent tail before switching to live events, so an operator attaching
// mid-job still sees how that job started.
func registerWSRoute(mux *http.ServeMux, hub *Hub, hooks StatusHooks) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ch, replay := hub.SubscribeWithReplay()
		defer hub.Unsubscribe(ch)

		busy := false
		if hooks.Busy != nil {
			busy = hooks.Busy()
		}
		status := StatusEvent{
			Event: newEvent("status", time.Now().UTC()),
			Busy:  busy,
		}
		if payload, err := json.Marshal(status); err == nil {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		for _, msg := range replay {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}
