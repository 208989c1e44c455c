package authority

import (
	"encoding/json"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mainhub/authority/ratelimit"
	"github.com/mainhub/authority/security"
)

// formBodyLimit bounds the urlencoded request body.
const formBodyLimit = 1024

// SessionResolver resolves the already-authenticated account behind a
// request. The human login system is an external collaborator; the
// handler only consumes its verdict.
type SessionResolver interface {
	AccountID(r *http.Request) (int64, bool)
}

// Handler exposes the protocol over HTTP. Every route pays the local
// route window and the distributed access budget before any work, and
// every caller-caused rejection charges the distributed error budget.
type Handler struct {
	server   *Server
	limiter  *ratelimit.Limiter
	resolver SessionResolver
	config   *Config
	logger   *slog.Logger

	authorizeLimit *ratelimit.RouteLimiter
	tokenLimit     *ratelimit.RouteLimiter
	revokeLimit    *ratelimit.RouteLimiter
}

// NewHandler creates the HTTP surface. Each endpoint gets its own
// route window from the configured route quota.
func NewHandler(server *Server, limiter *ratelimit.Limiter, resolver SessionResolver, config *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	quota := config.RateLimit.Route.Quota()
	return &Handler{
		server:         server,
		limiter:        limiter,
		resolver:       resolver,
		config:         config,
		logger:         logger,
		authorizeLimit: ratelimit.NewRouteLimiter(quota),
		tokenLimit:     ratelimit.NewRouteLimiter(quota),
		revokeLimit:    ratelimit.NewRouteLimiter(quota),
	}
}

// Router mounts the protocol endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Get("/oauth/authorize", h.handleAuthorize)
	r.Post("/oauth/token", h.handleToken)
	r.Post("/oauth/token/revoke", h.handleRevoke)
	return r
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.gate(w, r, h.authorizeLimit)
	if !ok {
		return
	}

	accountID, authed := h.resolver.AccountID(r)
	if !authed {
		h.failRedirect(w, r, ip)
		return
	}

	q := r.URL.Query()
	req := &AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		Scope:        q.Get("scope"),
		RedirectURI:  q.Get("redirect_uri"),
		State:        q.Get("state"),
		AccountID:    accountID,
	}

	redirect, err := h.server.Authorize(r.Context(), req, ip)
	if err != nil {
		if isInternal(err) {
			h.internalError(w, r, err)
			return
		}
		h.failRedirect(w, r, ip)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.gate(w, r, h.tokenLimit)
	if !ok {
		return
	}
	if !h.parseForm(w, r, ip) {
		return
	}

	req := &ExchangeRequest{
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
	}

	resp, err := h.server.Exchange(r.Context(), req, ip)
	if err != nil {
		h.fail(w, r, ip, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write token response", "error", err)
	}
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.gate(w, r, h.revokeLimit)
	if !ok {
		return
	}
	if !h.parseForm(w, r, ip) {
		return
	}

	req := &RevokeRequest{
		ClientID:      r.PostForm.Get("client_id"),
		ClientSecret:  r.PostForm.Get("client_secret"),
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
	}

	if err := h.server.Revoke(r.Context(), req, ip); err != nil {
		h.fail(w, r, ip, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// gate runs the error-budget block, the local route window, and the
// distributed access budget, in that order. An error-blocked address is
// rejected even when the request itself is well formed; local route
// exhaustion escalates one unit into the distributed error budget
// before rejecting.
func (h *Handler) gate(w http.ResponseWriter, r *http.Request, route *ratelimit.RouteLimiter) (string, bool) {
	ip := security.GetClientIP(r, h.config.RateLimit.TrustProxy, h.config.RateLimit.TrustedProxyCount)

	res, blocked, err := h.limiter.ErrorBlocked(r.Context(), ip)
	if err != nil {
		h.internalError(w, r, err)
		return ip, false
	}
	if blocked {
		h.rateLimited(w, res, ip, "error")
		return ip, false
	}

	if ip != h.config.RateLimit.TrustedAddress {
		if allowed, retryAfter := route.Allow(ip, time.Now()); !allowed {
			if _, err := h.limiter.ConsumeError(r.Context(), ip); err != nil {
				h.internalError(w, r, err)
				return ip, false
			}
			h.rateLimited(w, ratelimit.Result{RetryAfter: retryAfter}, ip, "route")
			return ip, false
		}
	}

	res, err = h.limiter.ConsumeAccess(r.Context(), ip)
	if err != nil {
		h.internalError(w, r, err)
		return ip, false
	}
	h.writeLimitHeaders(w, res)
	if !res.Allowed {
		h.rateLimited(w, res, ip, "access")
		return ip, false
	}
	return ip, true
}

// parseForm enforces the urlencoded content type and the body limit.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request, ip string) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		h.fail(w, r, ip, badRequest("unsupported content type"))
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, formBodyLimit)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, ip, badRequest("unparseable form body"))
		return false
	}
	return true
}

// fail answers a failed token or revoke call: internal errors are 500
// and free; caller errors charge the error budget, which may itself
// escalate into a 429.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, ip string, err error) {
	if isInternal(err) {
		h.internalError(w, r, err)
		return
	}

	res, cerr := h.limiter.ConsumeError(r.Context(), ip)
	if cerr != nil {
		h.internalError(w, r, cerr)
		return
	}
	if !res.Allowed {
		h.rateLimited(w, res, ip, "error")
		return
	}

	w.WriteHeader(statusOf(err))
}

// failRedirect answers a failed authorize call: charge the error budget
// and send the caller to the generic failure destination with no detail.
func (h *Handler) failRedirect(w http.ResponseWriter, r *http.Request, ip string) {
	res, err := h.limiter.ConsumeError(r.Context(), ip)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !res.Allowed {
		h.rateLimited(w, res, ip, "error")
		return
	}
	http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("internal error",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", w.Header().Get("X-Request-Id"),
		"error", err)
	w.WriteHeader(http.StatusInternalServerError)
}

func (h *Handler) rateLimited(w http.ResponseWriter, res ratelimit.Result, ip, budget string) {
	h.server.auditor.LogRateLimitExceeded(ip, budget)

	seconds := int(math.Ceil(res.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
}

func (h *Handler) writeLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if !h.limiter.ExposeHeaders() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// requestID tags every request and its log line with a fresh uuid.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request handled",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
