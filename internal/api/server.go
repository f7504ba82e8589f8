// Package api provides the HTTP API for the outpost ledger.
// GET endpoints are public (read-only observation).
// Controller endpoints take the controller key as a bearer token; the buy
// endpoint takes a participant token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/outposts/internal/auth"
	"github.com/talgya/outposts/internal/engine"
	"github.com/talgya/outposts/internal/outpost"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxTokenTTL       = 24 * time.Hour
)

// Server serves the ledger over HTTP.
type Server struct {
	Ledger      *engine.Ledger
	Controller  engine.Authorizer
	Tokens      *auth.TokenIssuer // nil disables participant tokens and buying
	BuyLimiter  Limiter           // nil disables rate limiting
	Port        int
	CORSOrigins []string
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/outposts", s.handleOutposts)
	mux.HandleFunc("GET /api/v1/outpost/{address}", s.handleOutpost)
	mux.HandleFunc("GET /api/v1/outpost/by-discord/{id}", s.handleOutpostByDiscord)
	mux.HandleFunc("GET /api/v1/participant/{owner}", s.handleParticipant)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Participant endpoint.
	buy := s.handleBuy
	if s.BuyLimiter != nil {
		buy = RateLimitMiddleware(s.BuyLimiter, buy)
	}
	mux.HandleFunc("POST /api/v1/outpost/{address}/buy", buy)

	// Controller endpoints.
	mux.HandleFunc("POST /api/v1/incorporate", s.handleIncorporate)
	mux.HandleFunc("POST /api/v1/outpost/{address}/hire", s.handleHire)
	mux.HandleFunc("POST /api/v1/outpost/{address}/raid", s.handleRaid)
	mux.HandleFunc("POST /api/v1/tokens", s.handleIssueToken)

	return corsMiddleware(s.CORSOrigins, mux)
}

// Start begins serving the HTTP API in a goroutine. Shut the returned server
// down to stop it.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "participant_tokens", s.Tokens != nil, "rate_limited", s.BuyLimiter != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed origins. "*" allows any
// origin, which action clients embedded in third-party pages need.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Encoding")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the bearer credential, or "" if none was sent.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// controllerCaller returns the presented controller credential. The ledger
// decides whether it is the controller; this only rejects requests without
// any credential.
func controllerCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := bearerToken(r)
	if caller == "" {
		writeError(w, fmt.Errorf("%w: %w", outpost.ErrUnauthorized, errMissingToken))
		return "", false
	}
	return caller, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Ledger.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	slot := s.Ledger.Slot()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "outposts",
		"slot":     slot,
		"sim_time": engine.SimTime(slot),
		"stats":    stats,
	})
}

func (s *Server) handleOutposts(w http.ResponseWriter, r *http.Request) {
	aliveOnly, _ := strconv.ParseBool(r.URL.Query().Get("alive"))
	list, err := s.Ledger.Outposts(r.Context(), aliveOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOutpost(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Ledger.Outpost(r.Context(), r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOutpostByDiscord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := outpost.ValidateDiscordID(id); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.Ledger.Outpost(r.Context(), outpost.Address(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := s.Ledger.Participant(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	slot := s.Ledger.Slot()
	wait := p.SlotsUntilPurchase(slot)
	writeJSON(w, http.StatusOK, map[string]any{
		"participant":          p,
		"slot":                 slot,
		"can_purchase":         wait == 0,
		"slots_until_purchase": wait,
		"wait":                 engine.SimTime(wait),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := s.Ledger.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	if s.Tokens == nil {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "Unauthorized", Message: "participant tokens are not configured"})
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, fmt.Errorf("%w: %w", outpost.ErrUnauthorized, errMissingToken))
		return
	}
	owner, err := s.Tokens.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: outpost.Kind(err), Message: err.Error()})
		return
	}
	size, err := outpost.ParseGoodsSize(r.URL.Query().Get("size"))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Ledger.BuyGoods(r.Context(), owner, r.PathValue("address"), size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIncorporate(w http.ResponseWriter, r *http.Request) {
	caller, ok := controllerCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		DiscordID string `json:"discord_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.Ledger.Incorporate(r.Context(), caller, req.DiscordID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleHire(w http.ResponseWriter, r *http.Request) {
	caller, ok := controllerCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.Ledger.HireSecurity(r.Context(), caller, r.PathValue("address"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRaid(w http.ResponseWriter, r *http.Request) {
	caller, ok := controllerCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Goblins uint64 `json:"goblins"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.Ledger.Raid(r.Context(), caller, r.PathValue("address"), req.Goblins)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := controllerCaller(w, r)
	if !ok {
		return
	}
	if s.Controller == nil || !s.Controller.IsController(caller) {
		writeError(w, fmt.Errorf("%w: token issuance is controller only", outpost.ErrUnauthorized))
		return
	}
	if s.Tokens == nil {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "Unauthorized", Message: "participant tokens are not configured"})
		return
	}

	var req struct {
		Owner      string `json:"owner"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ttl := maxTokenTTL
	if req.TTLSeconds > 0 && req.TTLSeconds < int64(maxTokenTTL/time.Second) {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	token, err := s.Tokens.Issue(req.Owner, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("participant token issued", "owner", req.Owner, "ttl", ttl)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"owner":      req.Owner,
		"expires_in": int64(ttl.Seconds()),
	})
}

var errMissingToken = errors.New("missing bearer token")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps ledger errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, outpost.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, outpost.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, outpost.ErrAlreadyExists),
		errors.Is(err, outpost.ErrPurchaseCooldown),
		errors.Is(err, outpost.ErrInsufficientCredz),
		errors.Is(err, outpost.ErrDestroyed):
		return http.StatusConflict
	case errors.Is(err, outpost.ErrOverflow), errors.Is(err, outpost.ErrUnderflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, outpost.ErrInvalidIdentity), errors.Is(err, outpost.ErrInvalidGoodsSize):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: outpost.Kind(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
