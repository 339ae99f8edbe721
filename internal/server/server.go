package server

import (
	"log"
	"net/http"
)

// Handler assembles the ops mux: health, history, status and the event
// stream. The bot has no web UI; this surface is for operators only.
func Handler(hub *Hub, store HistoryStore, hooks StatusHooks) http.Handler {
	mux := http.NewServeMux()
	registerWSRoute(mux, hub, hooks)
	registerAPIRoutes(mux, store, hooks)
	return mux
}

func Serve(addr string, hub *Hub, store HistoryStore, hooks StatusHooks) error {
	log.Printf("ops server at http://%s", addr)
	return http.ListenAndServe(addr, Handler(hub, store, hooks))
}
