// Package storage defines the persistence interfaces and record types
// for the authorization server: the application (client) registry and
// the three token tables (code, access_token, refresh_token), each
// keyed by the composite (clientID, uid) identity.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a lookup key.
var ErrNotFound = errors.New("record not found")

// Kind selects one of the three token tables.
type Kind int

const (
	// KindCode is an authorization code record.
	KindCode Kind = iota
	// KindAccess is an access token record.
	KindAccess
	// KindRefresh is a refresh token record.
	KindRefresh
)

// Kinds lists all token kinds, in sweep order.
func Kinds() []Kind {
	return []Kind{KindCode, KindAccess, KindRefresh}
}

// String returns the backing table name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindAccess:
		return "access_token"
	case KindRefresh:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// TokenRecord is the stored state of an issued code, access token or
// refresh token. ExpiresAt is the business expiry in epoch seconds; it
// is the authoritative validity deadline, checked by the orchestrator
// on every use.
type TokenRecord struct {
	ClientID  string
	UID       string
	AccountID int64
	Scope     string
	ExpiresAt int64
}

// Application is a pre-registered client application. Rows are created
// out-of-band and are read-only from this subsystem's perspective.
type Application struct {
	ID          string
	Secret      string
	RedirectURI string
	Name        string
	LoginURL    string
	ExternalID  string
}

// TokenStore persists token records of all three kinds.
// All methods accept context.Context for cancellation.
type TokenStore interface {
	// AddToken inserts a record into the kind's table.
	AddToken(ctx context.Context, kind Kind, rec *TokenRecord) error

	// GetToken retrieves a record by composite key.
	// Returns ErrNotFound when no record exists.
	GetToken(ctx context.Context, kind Kind, clientID, uid string) (*TokenRecord, error)

	// DeleteToken removes a record by composite key. The claimed result
	// reports whether this call deleted the row: under concurrent
	// deletes of the same key exactly one caller observes claimed=true,
	// which is what makes codes and refresh tokens single-use.
	DeleteToken(ctx context.Context, kind Kind, clientID, uid string) (claimed bool, err error)

	// DeleteExpiredTokens removes every record of the kind whose
	// business expiry is at or before now (epoch seconds).
	DeleteExpiredTokens(ctx context.Context, kind Kind, now int64) error
}

// ApplicationStore reads the client application registry.
type ApplicationStore interface {
	// GetApplication retrieves an application by id.
	// Returns ErrNotFound when the id is not registered.
	GetApplication(ctx context.Context, id string) (*Application, error)

	// ListApplications returns the whole registry.
	ListApplications(ctx context.Context) ([]*Application, error)
}
