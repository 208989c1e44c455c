package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mainhub/authority/storage"
)

func TestTokenLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := &storage.TokenRecord{ClientID: "1", UID: "abc", AccountID: 7, Scope: "identify", ExpiresAt: 1000}
	if err := s.AddToken(ctx, storage.KindCode, rec); err != nil {
		t.Fatalf("AddToken() error = %v", err)
	}

	got, err := s.GetToken(ctx, storage.KindCode, "1", "abc")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if *got != *rec {
		t.Errorf("GetToken() = %+v, want %+v", got, rec)
	}

	// Kinds are separate tables.
	if _, err := s.GetToken(ctx, storage.KindAccess, "1", "abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetToken(access) error = %v, want ErrNotFound", err)
	}

	claimed, err := s.DeleteToken(ctx, storage.KindCode, "1", "abc")
	if err != nil || !claimed {
		t.Fatalf("DeleteToken() = %v, %v, want true, nil", claimed, err)
	}
	claimed, err = s.DeleteToken(ctx, storage.KindCode, "1", "abc")
	if err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if claimed {
		t.Error("second DeleteToken() claimed = true, want false")
	}
}

func TestDeleteTokenSingleClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := &storage.TokenRecord{ClientID: "1", UID: "abc", AccountID: 7, Scope: "identify", ExpiresAt: 1000}
	if err := s.AddToken(ctx, storage.KindRefresh, rec); err != nil {
		t.Fatalf("AddToken() error = %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	claims := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.DeleteToken(ctx, storage.KindRefresh, "1", "abc")
			if err != nil {
				t.Errorf("DeleteToken() error = %v", err)
				return
			}
			claims <- claimed
		}()
	}
	wg.Wait()
	close(claims)

	winners := 0
	for claimed := range claims {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("concurrent DeleteToken() produced %d winners, want exactly 1", winners)
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.AddToken(ctx, storage.KindAccess, &storage.TokenRecord{ClientID: "1", UID: "old", ExpiresAt: 100}); err != nil {
		t.Fatalf("AddToken() error = %v", err)
	}
	if err := s.AddToken(ctx, storage.KindAccess, &storage.TokenRecord{ClientID: "1", UID: "new", ExpiresAt: 9000}); err != nil {
		t.Fatalf("AddToken() error = %v", err)
	}

	if err := s.DeleteExpiredTokens(ctx, storage.KindAccess, 500); err != nil {
		t.Fatalf("DeleteExpiredTokens() error = %v", err)
	}

	if _, err := s.GetToken(ctx, storage.KindAccess, "1", "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired record survived the purge")
	}
	if _, err := s.GetToken(ctx, storage.KindAccess, "1", "new"); err != nil {
		t.Errorf("live record was purged: err = %v", err)
	}
}

func TestApplications(t *testing.T) {
	s := New()
	ctx := context.Background()

	app := &storage.Application{ID: "1", Secret: "s", RedirectURI: "https://a/cb", Name: "A"}
	s.SeedApplication(app)

	got, err := s.GetApplication(ctx, "1")
	if err != nil {
		t.Fatalf("GetApplication() error = %v", err)
	}
	if *got != *app {
		t.Errorf("GetApplication() = %+v, want %+v", got, app)
	}

	if _, err := s.GetApplication(ctx, "2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetApplication(unknown) error = %v, want ErrNotFound", err)
	}

	apps, err := s.ListApplications(ctx)
	if err != nil {
		t.Fatalf("ListApplications() error = %v", err)
	}
	if len(apps) != 1 {
		t.Errorf("ListApplications() returned %d apps, want 1", len(apps))
	}
}
