// Package token implements the opaque bearer token codec. A token is
// the string "cipher.nonce": the secretbox seal of "<clientID>.<uid>"
// under one of the process keys, joined with the base64url nonce it was
// sealed with. The token carries no inspectable claims; everything it
// means is what decryption under the right key reveals.
package token

import (
	"fmt"
	"strings"

	"github.com/mainhub/authority/security"
)

// uidBytes is the entropy of the per-issuance identifier. The uid is
// not secret on its own; unforgeability comes from the sealed envelope.
const uidBytes = 8

// Issued is a freshly minted single token.
type Issued struct {
	UID   string
	Token string
}

// Pair is a freshly minted access/refresh pair. Both members share one
// uid and payload so they can be looked up and deleted together, but
// each is sealed under its own key with its own nonce.
type Pair struct {
	UID          string
	AccessToken  string
	RefreshToken string
}

// Claims is the decrypted content of a valid token.
type Claims struct {
	ClientID string
	UID      string
}

// Issue mints an opaque token for clientID under key. An error means
// the underlying primitives failed and must be treated as an internal
// fault, never as a caller rejection.
func Issue(key []byte, clientID string) (*Issued, error) {
	uid, err := security.RandomID(uidBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	tok, err := seal(clientID+"."+uid, key)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Issued{UID: uid, Token: tok}, nil
}

// IssuePair mints an access/refresh pair for clientID sharing a single uid.
func IssuePair(accessKey, refreshKey []byte, clientID string) (*Pair, error) {
	uid, err := security.RandomID(uidBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token pair: %w", err)
	}
	payload := clientID + "." + uid

	access, err := seal(payload, accessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := seal(payload, refreshKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return &Pair{UID: uid, AccessToken: access, RefreshToken: refresh}, nil
}

// Decode opens tok under key. Malformed shape, bad base64, a wrong key
// and a tampered box all collapse to ok=false; callers get no oracle
// for which check failed.
func Decode(tok string, key []byte) (*Claims, bool) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}

	nonce, ok := security.FromBase64(parts[1])
	if !ok {
		return nil, false
	}
	payload, ok := security.Decrypt(parts[0], key, nonce)
	if !ok {
		return nil, false
	}

	parts = strings.Split(payload, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	return &Claims{ClientID: parts[0], UID: parts[1]}, true
}

// ExtractBearer splits an Authorization header into its scheme and
// credential. Anything other than exactly two non-empty space-separated
// parts is invalid.
func ExtractBearer(header string) (scheme, credential string, ok bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func seal(payload string, key []byte) (string, error) {
	nonce, err := security.NewNonce()
	if err != nil {
		return "", err
	}
	sealed, err := security.Encrypt(payload, key, nonce)
	if err != nil {
		return "", err
	}
	return sealed + "." + security.ToBase64(nonce), nil
}
