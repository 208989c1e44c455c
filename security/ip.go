package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the caller's network address from the request.
// With trustProxy enabled it consults X-Forwarded-For (skipping the
// rightmost trustedProxyCount hops) and X-Real-IP before falling back
// to the connection address.
//
// Only enable trustProxy behind a reverse proxy you control; otherwise
// callers can spoof their address and dodge rate limiting.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the client entry out of an X-Forwarded-For
// list. The header reads "client, proxy1, proxy2"; the rightmost
// trustedProxyCount entries were appended by proxies we control, so the
// client is just left of them.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount < 1 {
		trustedProxyCount = 1
	}

	hops := strings.Split(xff, ",")
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
