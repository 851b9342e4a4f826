// Package httpapi exposes the latest capability values over HTTP and
// forwards control requests to the HAL over the bus.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tdsnode/bus"
	"tdsnode/errcode"
	"tdsnode/types"
)

const defaultRequestTimeout = 5 * time.Second

// Capability is one row of the capability listing.
type Capability struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Info  any    `json:"info,omitempty"`
	State any    `json:"state,omitempty"`
	Value any    `json:"value,omitempty"`
}

type Server struct {
	conn    *bus.Connection
	log     *zap.SugaredLogger
	addr    string
	timeout time.Duration

	mu   sync.RWMutex
	caps map[string]*Capability
	hal  any
}

func New(conn *bus.Connection, cfg types.HTTPConfig, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Server{
		conn:    conn,
		log:     log,
		addr:    cfg.Addr,
		timeout: timeout,
		caps:    map[string]*Capability{},
	}
}

// Handler returns the routed, logged and recovering handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/capabilities", s.list).Methods(http.MethodGet)
	api.HandleFunc("/capabilities/{kind}/{id}", s.get).Methods(http.MethodGet)
	api.HandleFunc("/capabilities/{kind}/{id}/control/{verb}", s.control).Methods(http.MethodPost)

	// Access and panic logs go through the server's zap logger.
	std := zap.NewStdLog(s.log.Desugar())
	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(std), handlers.PrintRecoveryStack(true))(h)
	h = handlers.CORS(handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}))(h)
	return handlers.CombinedLoggingHandler(std.Writer(), h)
}

// Run mirrors the bus into the cache and serves HTTP until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.follow(ctx)
	if s.addr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infow("http api listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http api")
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// follow keeps the latest info, state and value per capability.
func (s *Server) follow(ctx context.Context) {
	capSub := s.conn.Subscribe(bus.T("hal", "capability", "+", "+", "+"))
	halSub := s.conn.Subscribe(bus.T("hal", "state"))
	defer s.conn.Unsubscribe(capSub)
	defer s.conn.Unsubscribe(halSub)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-halSub.Channel():
			s.mu.Lock()
			s.hal = m.Payload
			s.mu.Unlock()
		case m := <-capSub.Channel():
			s.observe(m)
		}
	}
}

func (s *Server) observe(m *bus.Message) {
	if m.Topic.Len() != 5 {
		return
	}
	kind := fmt.Sprint(m.Topic.At(2))
	id := fmt.Sprint(m.Topic.At(3))
	leaf := fmt.Sprint(m.Topic.At(4))
	key := kind + "/" + id

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.caps[key]
	if c == nil {
		c = &Capability{Kind: kind, ID: id}
		s.caps[key] = c
	}
	switch leaf {
	case "info":
		if m.Payload == nil {
			delete(s.caps, key)
			return
		}
		c.Info = m.Payload
	case "state":
		c.State = m.Payload
	case "value":
		c.Value = m.Payload
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	st := s.hal
	s.mu.RUnlock()
	if st == nil {
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorReply{Error: string(errcode.HALNotReady)})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]Capability, 0, len(s.caps))
	for _, c := range s.caps {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	s.mu.RLock()
	c, ok := s.caps[v["kind"]+"/"+v["id"]]
	var cp Capability
	if ok {
		cp = *c
	}
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, types.ErrorReply{Error: string(errcode.UnknownCapability)})
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	var payload map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, types.ErrorReply{Error: string(errcode.InvalidPayload)})
			return
		}
	}

	var id any = v["id"]
	if n, err := strconv.Atoi(v["id"]); err == nil {
		id = n
	}
	topic := bus.T("hal", "capability", v["kind"], id, "control", v["verb"])

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	var body any
	if payload != nil {
		body = payload
	}
	reply, err := s.conn.RequestWait(ctx, s.conn.NewMessage(topic, body, false))
	if err != nil {
		s.log.Warnw("control request timed out", "topic", topic.String(), "error", err)
		writeJSON(w, http.StatusGatewayTimeout, types.ErrorReply{Error: string(errcode.Busy)})
		return
	}
	if e, ok := reply.Payload.(types.ErrorReply); ok {
		writeJSON(w, statusFor(errcode.Code(e.Error)), e)
		return
	}
	writeJSON(w, http.StatusOK, reply.Payload)
}

func statusFor(c errcode.Code) int {
	switch c {
	case errcode.UnknownCapability:
		return http.StatusNotFound
	case errcode.Unsupported:
		return http.StatusNotImplemented
	case errcode.Busy, errcode.HALNotReady:
		return http.StatusServiceUnavailable
	case errcode.SampleTimeout:
		return http.StatusGatewayTimeout
	case errcode.InvalidParams, errcode.InvalidPayload, errcode.InvalidPeriod, errcode.InvalidTopic:
		return http.StatusBadRequest
	case errcode.Rejected, errcode.OutOfRange:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
