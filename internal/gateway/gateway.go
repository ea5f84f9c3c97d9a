package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nextcloud/notify-push/internal/dispatch"
	"github.com/nextcloud/notify-push/internal/ncclient"
	"github.com/nextcloud/notify-push/internal/storagemap"
	"github.com/nextcloud/notify-push/internal/wsconn"
)

// versionKey is the well-known Redis key the "set version" test route
// publishes to, mirroring dispatch's metricsKey convention.
const versionKey = "notify_push_version"

// Server wires the WebSocket upgrade endpoint and the small debug/test
// routes (§4.10) onto a *mux.Router, every route mirrored under a /push
// path prefix.
type Server struct {
	WS      *wsconn.Server
	Mapping *storagemap.Cache
	NC      *ncclient.Client
	KV      dispatch.KVStore

	// TestCookie returns the last cookie value delivered over the
	// TestCookie event (§4.10 "test/cookie"); normally *Dispatcher.TestCookie.
	TestCookie func() uint32

	// Version is published to Redis by the "test/version" route.
	Version string

	upgrader websocket.Upgrader
}

// Routes builds the full route table, including the /push-prefixed mirror.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	mount := func(path string, method string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(method)
		r.HandleFunc("/push"+path, h).Methods(method)
	}

	mount("/ws", http.MethodGet, s.handleWebsocket)
	mount("/test/cookie", http.MethodGet, s.handleCookieTest)
	mount("/test/reverse_cookie", http.MethodGet, s.handleReverseCookieTest)
	mount("/test/mapping/{storage_id:[0-9]+}", http.MethodGet, s.handleMappingTest)
	mount("/test/remote/{remote}", http.MethodGet, s.handleRemoteTest)
	mount("/test/version", http.MethodPost, s.handleVersionTest)

	return r
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	forwardedFor := forwardedForChain(r)
	slog.Debug("gateway: new websocket connection", "peer", firstOrEmpty(forwardedFor))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket upgrade failed", "error", err)
		return
	}
	s.WS.Serve(r.Context(), ws, forwardedFor)
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func (s *Server) handleCookieTest(w http.ResponseWriter, r *http.Request) {
	cookie := s.TestCookie()
	slog.Debug("gateway: current test cookie", "cookie", cookie)
	fmt.Fprint(w, strconv.FormatUint(uint64(cookie), 10))
}

func (s *Server) handleReverseCookieTest(w http.ResponseWriter, r *http.Request) {
	cookie, err := s.NC.TestCookie(r.Context())
	if err != nil {
		slog.Warn("gateway: error getting cookie from backend", "error", err)
		fmt.Fprint(w, err.Error())
		return
	}
	slog.Debug("gateway: got remote test cookie", "cookie", cookie)
	fmt.Fprint(w, strconv.FormatUint(uint64(cookie), 10))
}

func (s *Server) handleMappingTest(w http.ResponseWriter, r *http.Request) {
	storageID := mux.Vars(r)["storage_id"]
	access, err := s.Mapping.UsersFor(r.Context(), storageID, "")
	if err != nil {
		slog.Error("gateway: error getting mapping count", "storage_id", storageID, "error", err)
		fmt.Fprint(w, "0")
		return
	}
	slog.Debug("gateway: storage mapping count", "storage_id", storageID, "count", len(access))
	fmt.Fprint(w, strconv.Itoa(len(access)))
}

func (s *Server) handleRemoteTest(w http.ResponseWriter, r *http.Request) {
	remote := mux.Vars(r)["remote"]
	result, err := s.NC.TestSetRemote(r.Context(), remote)
	if err != nil {
		result = err.Error()
	}
	slog.Debug("gateway: test remote result", "requested", remote, "result", result)
	fmt.Fprint(w, result)
}

func (s *Server) handleVersionTest(w http.ResponseWriter, r *http.Request) {
	if err := s.KV.Set(r.Context(), versionKey, s.Version, 0); err != nil {
		slog.Warn("gateway: failed to publish version", "error", err)
		fmt.Fprint(w, "error")
		return
	}
	fmt.Fprint(w, "set")
}
