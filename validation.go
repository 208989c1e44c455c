package authority

import "regexp"

// SupportedScope is the single scope this server grants.
const SupportedScope = "identify"

// Character-set rules for request fields. Everything else is rejected
// before any lookup happens.
var (
	clientIDPattern = regexp.MustCompile(`^[0-9]+$`)
	secretPattern   = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	tokenPattern    = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hintPattern     = regexp.MustCompile(`^[a-z_]+$`)
)

func validClientID(s string) bool {
	return clientIDPattern.MatchString(s)
}

func validSecret(s string) bool {
	return secretPattern.MatchString(s)
}

func validToken(s string) bool {
	return tokenPattern.MatchString(s)
}

func validHint(s string) bool {
	return hintPattern.MatchString(s)
}

// validAuthorizeRequest checks the authorize query shape. The redirect
// URI only has to be present here; it is matched against the registered
// value later.
func validAuthorizeRequest(req *AuthorizeRequest) bool {
	if !validClientID(req.ClientID) {
		return false
	}
	if req.Scope != SupportedScope {
		return false
	}
	if req.ResponseType != "code" {
		return false
	}
	return req.RedirectURI != ""
}

// validExchangeRequest checks the token request shape per grant type.
func validExchangeRequest(req *ExchangeRequest) bool {
	if !validClientID(req.ClientID) {
		return false
	}
	if !validSecret(req.ClientSecret) {
		return false
	}
	switch req.GrantType {
	case "authorization_code":
		if !validToken(req.Code) {
			return false
		}
	case "refresh_token":
		if !validToken(req.RefreshToken) {
			return false
		}
	default:
		return false
	}
	return req.RedirectURI != ""
}

// validRevokeRequest checks the revoke request shape. The hint is
// validated for shape but otherwise ignored.
func validRevokeRequest(req *RevokeRequest) bool {
	if !validClientID(req.ClientID) {
		return false
	}
	if !validSecret(req.ClientSecret) {
		return false
	}
	if !validToken(req.Token) {
		return false
	}
	return validHint(req.TokenTypeHint)
}
