package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rmachado/financedw/utils"
)

// StatusEvent is one stage status transition broadcast to stream clients.
type StatusEvent struct {
	Domain string    `json:"domain"`
	Stage  string    `json:"stage"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// StatusHub fans status transitions out to connected websocket clients.
type StatusHub struct {
	Broadcast  chan StatusEvent
	Register   chan *websocket.Conn
	Unregister chan *websocket.Conn

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *utils.PipelineLogger
}

// NewStatusHub creates a hub with no clients.
func NewStatusHub(logger *utils.PipelineLogger) *StatusHub {
	return &StatusHub{
		Broadcast:  make(chan StatusEvent, 64),
		Register:   make(chan *websocket.Conn),
		Unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		logger:     logger,
	}
}

// Run processes hub events until the context is cancelled.
func (h *StatusHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return

		case conn := <-h.Register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			h.logger.Debug("Status stream client connected (%d total)", h.clientCount())

		case conn := <-h.Unregister:
			h.mu.Lock()
			if h.clients[conn] {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case event := <-h.Broadcast:
			h.broadcast(event)
		}
	}
}

// broadcast sends an event to every client, dropping clients that cannot
// keep up.
func (h *StatusHub) broadcast(event StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *StatusHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// StatusServer exposes run status and manual triggers over HTTP, plus a
// websocket stream of status transitions.
type StatusServer struct {
	orchestrator *Orchestrator
	hub          *StatusHub
	upgrader     websocket.Upgrader
	logger       *utils.PipelineLogger
}

// NewStatusServer creates the server and wires the hub into the status
// tracker.
func NewStatusServer(o *Orchestrator, logger *utils.PipelineLogger) *StatusServer {
	s := &StatusServer{
		orchestrator: o,
		hub:          NewStatusHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	o.Tracker().Subscribe(func(domain, stage, status string) {
		select {
		case s.hub.Broadcast <- StatusEvent{Domain: domain, Stage: stage, Status: status, At: time.Now()}:
		default:
			// A full hub never blocks a pipeline.
		}
	})

	return s
}

// Router builds the HTTP routes.
func (s *StatusServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatusAll).Methods(http.MethodGet)
	router.HandleFunc("/status/{domain}", s.handleStatusDomain).Methods(http.MethodGet)
	router.HandleFunc("/run/{domain}", s.handleRun).Methods(http.MethodPost)
	router.HandleFunc("/retrain/{domain}", s.handleRetrain).Methods(http.MethodPost)
	router.HandleFunc("/ws/status", s.handleStream)
	return router
}

// Serve runs the status server until the context is cancelled.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Status server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Tracker().Snapshot())
}

func (s *StatusServer) handleStatusDomain(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]

	snapshot := s.orchestrator.Tracker().Snapshot()
	stages, ok := snapshot[domain]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown domain " + domain})
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

func (s *StatusServer) handleRun(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	if _, err := s.orchestrator.cfg.Domain(domain); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	// The run outlives the request; progress is observable via /status and
	// the stream.
	go s.orchestrator.RunDomain(context.Background(), domain)
	writeJSON(w, http.StatusAccepted, map[string]string{"domain": domain, "state": "started"})
}

func (s *StatusServer) handleRetrain(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	if _, err := s.orchestrator.cfg.Domain(domain); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	go func() {
		if err := s.orchestrator.Retrain(context.Background(), domain); err != nil {
			s.logger.Error("[%s] Manual retrain failed: %v", domain, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"domain": domain, "state": "retraining"})
}

func (s *StatusServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Status stream upgrade failed: %v", err)
		return
	}

	s.hub.Register <- conn

	// Drain client frames so pings are answered; the stream is one-way.
	go func() {
		defer func() { s.hub.Unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
