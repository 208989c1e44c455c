// Package authority implements an OAuth2-style authorization server
// for pre-registered applications: opaque encrypted bearer credentials
// issued on behalf of already-authenticated accounts, a two-tier token
// cache, and layered rate limiting on every protocol operation.
package authority

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/mainhub/authority/cache"
	"github.com/mainhub/authority/instrumentation"
	"github.com/mainhub/authority/security"
	"github.com/mainhub/authority/storage"
	"github.com/mainhub/authority/token"
)

// Keys holds the three symmetric keys, one per credential kind. They
// must never be shared across kinds.
type Keys struct {
	Code    []byte
	Access  []byte
	Refresh []byte
}

// AuthorizeRequest carries the authorize query plus the account id the
// session layer resolved for the caller.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	Scope        string
	RedirectURI  string
	State        string
	AccountID    int64
}

// ExchangeRequest carries the token endpoint form fields.
type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	GrantType    string
	Code         string
	RefreshToken string
	RedirectURI  string
}

// RevokeRequest carries the revoke endpoint form fields.
type RevokeRequest struct {
	ClientID      string
	ClientSecret  string
	Token         string
	TokenTypeHint string
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Server is the protocol orchestrator. It composes the token codec,
// the cache, and the audit log; rate limiting happens in the HTTP
// handler before any of these methods run.
type Server struct {
	keys    Keys
	cache   *cache.Cache
	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	now     func() time.Time

	codeLifetime  time.Duration
	tokenLifetime time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewServer creates the orchestrator and starts the business-expiry
// sweep loop when sweepInterval is positive. Close stops the loop.
func NewServer(keys Keys, c *cache.Cache, config *Config, logger *slog.Logger, auditor *security.Auditor, metrics *instrumentation.Metrics) (*Server, error) {
	if len(keys.Code) != security.KeySize || len(keys.Access) != security.KeySize || len(keys.Refresh) != security.KeySize {
		return nil, errors.New("all three keys must be 32 bytes")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		keys:          keys,
		cache:         c,
		logger:        logger,
		auditor:       auditor,
		metrics:       metrics,
		now:           time.Now,
		codeLifetime:  config.Lifetimes.Code.Std(),
		tokenLifetime: config.Lifetimes.Token.Std(),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go s.sweepLoop(config.SweepInterval.Std())
	} else {
		close(s.doneCh)
	}
	return s, nil
}

// Authorize validates the request against the client registry, mints an
// authorization code, persists it, and returns the redirect URL. Caller
// errors come back as *Error with Internal=false; the handler turns
// them into the generic failure redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest, ip string) (string, error) {
	if !validAuthorizeRequest(req) {
		return "", badRequest("malformed authorize request")
	}

	app, err := s.cache.GetApplication(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure(req.ClientID, ip, "unknown client")
			return "", badRequest("unknown client")
		}
		return "", internalError("application lookup failed", err)
	}

	if !security.SecureCompare(app.RedirectURI, req.RedirectURI) {
		s.auditor.LogAuthFailure(req.ClientID, ip, "redirect mismatch")
		return "", badRequest("redirect mismatch")
	}

	code, err := token.Issue(s.keys.Code, app.ID)
	if err != nil {
		return "", internalError("code mint failed", err)
	}

	rec := &storage.TokenRecord{
		ClientID:  app.ID,
		UID:       code.UID,
		AccountID: req.AccountID,
		Scope:     req.Scope,
		ExpiresAt: s.now().Add(s.codeLifetime).Unix(),
	}
	if err := s.cache.PutToken(ctx, storage.KindCode, rec); err != nil {
		return "", internalError("code store failed", err)
	}

	s.auditor.LogCodeIssued(accountLabel(req.AccountID), app.ID, ip)
	s.metrics.RecordCodeIssued(ctx)

	redirect := req.RedirectURI + "?code=" + url.QueryEscape(code.Token)
	if req.State != "" {
		redirect += "&state=" + url.QueryEscape(req.State)
	}
	return redirect, nil
}

// Exchange implements the token endpoint for both grant types. The
// consumed code or refresh record is deleted before the new pair is
// minted, so a crash in between loses the credential rather than
// double-spending it.
func (s *Server) Exchange(ctx context.Context, req *ExchangeRequest, ip string) (*TokenResponse, error) {
	if !validExchangeRequest(req) {
		return nil, badRequest("malformed token request")
	}

	app, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, ip)
	if err != nil {
		return nil, err
	}
	if !security.SecureCompare(app.RedirectURI, req.RedirectURI) {
		s.auditor.LogAuthFailure(req.ClientID, ip, "redirect mismatch")
		return nil, badRequest("redirect mismatch")
	}

	var (
		kind       storage.Kind
		credential string
		key        []byte
	)
	switch req.GrantType {
	case "authorization_code":
		kind, credential, key = storage.KindCode, req.Code, s.keys.Code
	case "refresh_token":
		kind, credential, key = storage.KindRefresh, req.RefreshToken, s.keys.Refresh
	}

	// Decode, lookup, and claim failures all collapse into the same
	// rejection so nothing can be enumerated.
	claims, ok := token.Decode(credential, key)
	if !ok || claims.ClientID != app.ID {
		s.auditor.LogAuthFailure(app.ID, ip, "invalid "+kind.String())
		return nil, badRequest("invalid " + kind.String())
	}

	source, err := s.cache.ConsumeToken(ctx, kind, app.ID, claims.UID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure(app.ID, ip, kind.String()+" not found")
			return nil, badRequest(kind.String() + " not found")
		}
		return nil, internalError(kind.String()+" consume failed", err)
	}

	if source.ExpiresAt <= s.now().Unix() {
		s.auditor.LogAuthFailure(app.ID, ip, kind.String()+" expired")
		return nil, badRequest(kind.String() + " expired")
	}

	pair, err := token.IssuePair(s.keys.Access, s.keys.Refresh, app.ID)
	if err != nil {
		return nil, internalError("pair mint failed", err)
	}

	expiresAt := s.now().Add(s.tokenLifetime).Unix()
	rec := &storage.TokenRecord{
		ClientID:  app.ID,
		UID:       pair.UID,
		AccountID: source.AccountID,
		Scope:     source.Scope,
		ExpiresAt: expiresAt,
	}
	if err := s.cache.PutToken(ctx, storage.KindAccess, rec); err != nil {
		return nil, internalError("access token store failed", err)
	}
	if err := s.cache.PutToken(ctx, storage.KindRefresh, rec); err != nil {
		return nil, internalError("refresh token store failed", err)
	}

	s.auditor.LogTokenIssued(accountLabel(source.AccountID), app.ID, ip, req.GrantType)
	s.metrics.RecordTokensIssued(ctx, req.GrantType)

	return &TokenResponse{
		TokenType:    "Bearer",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Scope:        source.Scope,
		ExpiresIn:    int64(s.tokenLifetime.Seconds()),
	}, nil
}

// Revoke deletes both members of the pair named by the supplied token.
// An unknown or foreign token is a no-op success so validity cannot be
// probed; only client authentication failures are reported.
func (s *Server) Revoke(ctx context.Context, req *RevokeRequest, ip string) error {
	if !validRevokeRequest(req) {
		return badRequest("malformed revoke request")
	}

	app, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, ip)
	if err != nil {
		return err
	}

	claims, ok := token.Decode(req.Token, s.keys.Access)
	if !ok {
		claims, ok = token.Decode(req.Token, s.keys.Refresh)
		if !ok {
			return nil
		}
	}
	if claims.ClientID != app.ID {
		return nil
	}

	s.deletePair(ctx, app.ID, claims.UID)
	s.auditor.LogTokenRevoked(app.ID, ip)
	s.metrics.RecordTokensRevoked(ctx)
	return nil
}

// ValidateResourceToken decodes a bearer Authorization header, checks
// the record behind it, and returns the owning account id. Expired
// records are lazily deleted. This is the entry point resource-serving
// components call.
func (s *Server) ValidateResourceToken(ctx context.Context, header string) (int64, bool) {
	scheme, credential, ok := token.ExtractBearer(header)
	if !ok || scheme != "Bearer" || !validToken(credential) {
		return 0, false
	}

	claims, ok := token.Decode(credential, s.keys.Access)
	if !ok {
		return 0, false
	}

	rec, err := s.cache.GetToken(ctx, storage.KindAccess, claims.ClientID, claims.UID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("access token lookup failed",
				"client_id", claims.ClientID,
				"error", err)
		}
		return 0, false
	}

	if rec.ExpiresAt <= s.now().Unix() {
		s.deletePair(ctx, claims.ClientID, claims.UID)
		return 0, false
	}
	return rec.AccountID, true
}

// authenticateClient resolves the application and verifies its secret.
// Unknown client and bad secret are both 401, indistinguishable beyond
// that.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, ip string) (*storage.Application, error) {
	app, err := s.cache.GetApplication(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure(clientID, ip, "unknown client")
			return nil, unauthorized("unknown client")
		}
		return nil, internalError("application lookup failed", err)
	}
	if !security.SecureCompare(app.Secret, clientSecret) {
		s.auditor.LogAuthFailure(clientID, ip, "bad secret")
		return nil, unauthorized("bad secret")
	}
	return app, nil
}

// deletePair removes the access and refresh records sharing one uid.
// Both deletes are attempted independently.
func (s *Server) deletePair(ctx context.Context, clientID, uid string) {
	s.cache.DeleteToken(ctx, storage.KindAccess, clientID, uid)
	s.cache.DeleteToken(ctx, storage.KindRefresh, clientID, uid)
}

func (s *Server) sweepLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cache.SweepExpired(context.Background(), s.now().Unix())
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the sweep loop and waits for it to exit.
func (s *Server) Close() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func accountLabel(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
