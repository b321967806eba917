package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Thejuampi/force-streaming-go/streaming"
)

const maxRequestBytes = 1 << 20

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	xmlMediaType  = contenttype.NewMediaType("text/xml")
)

type serverOptions struct {
	users         map[string]string
	topics        map[string]struct{}
	adviceTimeout time.Duration
	logger        zerolog.Logger
}

// server holds issued sessions and Bayeux clients.
type server struct {
	options serverOptions
	started time.Time

	lock     sync.Mutex
	sessions map[string]string
	clients  map[string]*client

	logins    atomic.Uint64
	published atomic.Uint64
	delivered atomic.Uint64
}

func newServer(options serverOptions) *server {
	if options.adviceTimeout <= 0 {
		options.adviceTimeout = 110 * time.Second
	}
	return &server{
		options:  options,
		started:  time.Now(),
		sessions: make(map[string]string),
		clients:  make(map[string]*client),
	}
}

func (srv *server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Post("/services/Soap/u/*", srv.handleLogin)
	router.Post("/cometd/{version}", srv.handleBayeux)
	router.Route("/admin", func(admin chi.Router) {
		admin.Get("/status", srv.handleStatus)
		admin.Post("/publish/*", srv.handlePublish)
		admin.Delete("/clients/{clientID}", srv.handleDropClient)
	})
	return router
}

func (srv *server) authenticate(username string, password string) bool {
	if len(srv.options.users) == 0 {
		return true
	}
	expected, ok := srv.options.users[username]
	return ok && expected == password
}

func (srv *server) issueSession(username string) string {
	token := newSessionToken()
	srv.lock.Lock()
	srv.sessions[token] = username
	srv.lock.Unlock()
	srv.logins.Add(1)
	return token
}

func (srv *server) validSession(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != streaming.AuthorizationScheme || token == "" {
		return false
	}
	srv.lock.Lock()
	defer srv.lock.Unlock()
	_, found := srv.sessions[token]
	return found
}

func (srv *server) client(id string) *client {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	return srv.clients[id]
}

func (srv *server) addClient() *client {
	current := newClient()
	srv.lock.Lock()
	srv.clients[current.id] = current
	srv.lock.Unlock()
	return current
}

func (srv *server) removeClient(id string) bool {
	srv.lock.Lock()
	current, ok := srv.clients[id]
	delete(srv.clients, id)
	srv.lock.Unlock()
	if ok {
		current.drop()
	}
	return ok
}

func (srv *server) dropAll() {
	srv.lock.Lock()
	clients := srv.clients
	srv.clients = make(map[string]*client)
	srv.lock.Unlock()
	for _, current := range clients {
		current.drop()
	}
}

func (srv *server) clientIDs() []string {
	srv.lock.Lock()
	ids := make([]string, 0, len(srv.clients))
	for id := range srv.clients {
		ids = append(ids, id)
	}
	srv.lock.Unlock()
	sort.Strings(ids)
	return ids
}

// publish queues data on every client subscribed to a pattern matching
// channel and returns how many clients received it.
func (srv *server) publish(channel string, data json.RawMessage) int {
	srv.lock.Lock()
	clients := make([]*client, 0, len(srv.clients))
	for _, current := range srv.clients {
		clients = append(clients, current)
	}
	srv.lock.Unlock()

	srv.published.Add(1)
	count := 0
	for _, current := range clients {
		if current.deliver(channel, data) {
			count++
		}
	}
	srv.delivered.Add(uint64(count))
	return count
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (srv *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	srv.lock.Lock()
	sessions := len(srv.sessions)
	srv.lock.Unlock()

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"server":         "fakeforce",
		"uptime":         time.Since(srv.started).String(),
		"started":        srv.started.Format(time.RFC3339),
		"logins":         srv.logins.Load(),
		"sessions":       sessions,
		"clients":        srv.clientIDs(),
		"published":      srv.published.Load(),
		"delivered":      srv.delivered.Load(),
		"advice_timeout": srv.options.adviceTimeout.String(),
	})
}

func (srv *server) handlePublish(w http.ResponseWriter, r *http.Request) {
	mediaType, err := contenttype.GetMediaType(r)
	if err != nil || !mediaType.Matches(jsonMediaType) {
		jsonResponse(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content-type must be application/json"})
		return
	}
	channel := "/" + strings.Trim(chi.URLParam(r, "*"), "/")
	if channel == "/" || strings.HasPrefix(channel, "/meta/") {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid channel " + channel})
		return
	}

	var data json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&data); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "body must be a json value"})
		return
	}

	count := srv.publish(channel, data)
	srv.options.logger.Debug().Str("channel", channel).Int("clients", count).Msg("published")
	jsonResponse(w, http.StatusOK, map[string]interface{}{"channel": channel, "clients": count})
}

func (srv *server) handleDropClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientID")
	if !srv.removeClient(id) {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "unknown client " + id})
		return
	}
	srv.options.logger.Info().Str("client_id", id).Msg("client dropped")
	w.WriteHeader(http.StatusNoContent)
}
