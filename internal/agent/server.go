package agent

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/texbridge/internal/transport"
)

// Server exposes an Agent over a websocket channel
type Server struct {
	agent    *Agent
	receiver *transport.Receiver
	maxFrame int
}

func NewServer(agent *Agent, maxFrame int) *Server {
	recv := transport.NewReceiver(agent)
	recv.Logger = agent.Logger
	return &Server{agent: agent, receiver: recv, maxFrame: maxFrame}
}

// SetupRoutes configures the agent's HTTP routes
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/channel", s.HandleChannel).Methods("GET")
	api.HandleFunc("/status", s.HandleStatus).Methods("GET")

	return r
}

// HandleChannel upgrades to a websocket and serves frames until the client
// disconnects.
func (s *Server) HandleChannel(w http.ResponseWriter, r *http.Request) {
	log.Printf("✅ Channel client connected from %s", r.RemoteAddr)
	if err := transport.ServeWS(w, r, s.receiver, s.maxFrame); err != nil {
		log.Printf("Channel error: %v", err)
	}
	log.Printf("Channel client %s disconnected", r.RemoteAddr)
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"pendingTransfers": s.receiver.Pending(),
		"inFlight":         s.agent.InFlight(),
	})
}
