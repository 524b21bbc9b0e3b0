package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morrigan-server/morrigan/internal/models"
)

func newRecord(id, clientID string) *models.ConnectionRecord {
	return &models.ConnectionRecord{
		ID:        id,
		ClientID:  clientID,
		ReportURL: "http://localhost:8081/providers/connection/connect",
		Open:      true,
	}
}

func TestMemStoreConnections(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if _, err := s.GetConnection(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConnection(missing) = %v, want ErrNotFound", err)
	}

	rec := newRecord("c-1", "cliX")
	if err := s.PutConnection(ctx, rec); err != nil {
		t.Fatalf("PutConnection: %v", err)
	}

	got, err := s.GetConnection(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.ClientID != "cliX" {
		t.Errorf("ClientID = %q, want %q", got.ClientID, "cliX")
	}

	byClient, err := s.GetConnectionByClientID(ctx, "cliX")
	if err != nil {
		t.Fatalf("GetConnectionByClientID: %v", err)
	}
	if byClient.ID != "c-1" {
		t.Errorf("byClient.ID = %q, want %q", byClient.ID, "c-1")
	}

	// Mutating the returned copy must not leak into the store.
	got.Alive = true
	fresh, _ := s.GetConnection(ctx, "c-1")
	if fresh.Alive {
		t.Error("store returned a shared reference instead of a copy")
	}

	all, err := s.ListConnections(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListConnections = %v, %v; want one record", all, err)
	}

	if err := s.DeleteConnection(ctx, "c-1"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, err := s.GetConnection(ctx, "c-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConnection after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.GetConnectionByClientID(ctx, "cliX"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConnectionByClientID after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteConnection(ctx, "c-1"); err != nil {
		t.Errorf("second DeleteConnection = %v, want nil", err)
	}
}

func TestMemStoreClientIndexFollowsLatest(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.PutConnection(ctx, newRecord("c-1", "cliX"))
	_ = s.PutConnection(ctx, newRecord("c-2", "cliX"))

	// Deleting the superseded record must not break the index for the new one.
	_ = s.DeleteConnection(ctx, "c-1")
	got, err := s.GetConnectionByClientID(ctx, "cliX")
	if err != nil {
		t.Fatalf("GetConnectionByClientID: %v", err)
	}
	if got.ID != "c-2" {
		t.Errorf("index points at %q, want %q", got.ID, "c-2")
	}
}

func TestMemStoreTokenPurge(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now()

	stale := &models.TokenRecord{ID: "t-old", Subject: "c-1", Expires: models.NewISOTime(now.Add(-10 * time.Minute))}
	fresh := &models.TokenRecord{ID: "t-new", Subject: "c-2", Expires: models.NewISOTime(now.Add(time.Minute))}
	_ = s.PutToken(ctx, stale)
	_ = s.PutToken(ctx, fresh)

	if purged := s.purgeExpiredTokens(now); purged != 1 {
		t.Fatalf("purgeExpiredTokens = %d, want 1", purged)
	}
	if _, err := s.GetToken(ctx, "t-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale token survived the purge: %v", err)
	}
	if _, err := s.GetToken(ctx, "t-new"); err != nil {
		t.Errorf("fresh token was purged: %v", err)
	}
}
