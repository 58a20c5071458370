package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/interfaces/ws"
)

const recentAlertLimit = 50

// Upgrader accepts websocket upgrades and reports registry sizes.
type Upgrader interface {
	http.Handler
	ConnectionCount() int
	SubscriberCount(topic string) int
}

type SummarySource interface {
	Summaries() []market.Summary
}

// InitialTicker blocks until the first upstream fetch completed.
type InitialTicker interface {
	WaitForInitialTicker(ctx context.Context) error
}

type Deps struct {
	Hub       Upgrader
	Feed      InitialTicker
	Summaries SummarySource
	Alerts    port.AlertHistory
	Wallets   port.WalletDirectory
}

type Router struct {
	mux  *http.ServeMux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	r := &Router{mux: http.NewServeMux(), deps: deps}
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("/exchanges", r.handleExchanges)
	r.mux.HandleFunc("/alerts/whales", r.handleWhaleAlerts)
	r.mux.HandleFunc("/wallets/search", r.handleWalletSearch)
	r.mux.HandleFunc("/wallets/{address}", r.handleWallet)
	r.mux.HandleFunc("/healthz", r.handleHealth)
	r.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not Found")
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Upgrade") != "" {
		r.deps.Hub.ServeHTTP(w, req)
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	switch req.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleExchanges(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Feed.WaitForInitialTicker(req.Context()); err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "Market data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Summaries.Summaries())
}

func (r *Router) handleWhaleAlerts(w http.ResponseWriter, req *http.Request) {
	alerts, err := r.deps.Alerts.Recent(req.Context(), recentAlertLimit)
	if err != nil {
		log.Error().Str("component", "httpapi").Err(err).Msg("load whale alerts failed")
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (r *Router) handleWalletSearch(w http.ResponseWriter, req *http.Request) {
	q := strings.TrimSpace(req.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	hits, err := r.deps.Wallets.SearchWallets(req.Context(), q)
	if err != nil {
		log.Error().Str("component", "httpapi").Str("q", q).Err(err).Msg("wallet search failed")
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (r *Router) handleWallet(w http.ResponseWriter, req *http.Request) {
	profile, err := r.deps.Wallets.FindWallet(req.Context(), req.PathValue("address"))
	switch {
	case errors.Is(err, port.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not Found")
	case err != nil:
		log.Error().Str("component", "httpapi").Err(err).Msg("wallet lookup failed")
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		writeJSON(w, http.StatusOK, profile)
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"connections":       r.deps.Hub.ConnectionCount(),
		"marketSubscribers": r.deps.Hub.SubscriberCount(ws.TopicMarket),
		"whaleSubscribers":  r.deps.Hub.SubscriberCount(ws.TopicWhale),
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Str("component", "httpapi").Err(err).Msg("write response failed")
	}
}
