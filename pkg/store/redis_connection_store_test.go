package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"booktalk/pkg/domain"
)

func TestRedisConnectionStoreRoundTrip(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisConnectionStore(redis.Addr(), "")
	expires := time.Now().UTC().Add(time.Hour)

	conn := domain.Connection{
		ID:        "c1",
		UserID:    "u1",
		Role:      domain.RoleCustomer,
		Email:     "c@example.com",
		Name:      "Customer One",
		ExpiresAt: expires,
	}
	if err := s.SaveConnection(conn); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetConnection("c1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.UserID != "u1" || got.Role != domain.RoleCustomer {
		t.Fatalf("unexpected row: %+v", got)
	}

	conns, err := s.ListConnectionsByUser("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c1" {
		t.Fatalf("expected one connection for u1, got %+v", conns)
	}
}

func TestRedisConnectionStoreDeleteIsIdempotent(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisConnectionStore(redis.Addr(), "")
	expires := time.Now().UTC().Add(time.Hour)

	_ = s.SaveConnection(domain.Connection{ID: "c1", UserID: "u1", ExpiresAt: expires})
	_ = s.SaveConnection(domain.Connection{ID: "c2", UserID: "u1", ExpiresAt: expires})

	if err := s.DeleteConnection("c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteConnection("c1"); err != nil {
		t.Fatalf("repeat delete should be a no-op: %v", err)
	}
	if err := s.DeleteConnection("never-existed"); err != nil {
		t.Fatalf("deleting an absent row should be a no-op: %v", err)
	}

	conns, err := s.ListConnectionsByUser("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "c2" {
		t.Fatalf("expected only c2 to remain, got %+v", conns)
	}
}

func TestRedisConnectionStoreExpiryHidesRows(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisConnectionStore(redis.Addr(), "")

	err := s.SaveConnection(domain.Connection{
		ID:        "c1",
		UserID:    "u1",
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	redis.FastForward(2 * time.Minute)

	if _, ok, err := s.GetConnection("c1"); err != nil || ok {
		t.Fatalf("expected expired connection to read as absent: ok=%v err=%v", ok, err)
	}
	conns, err := s.ListConnectionsByUser("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected no live connections, got %+v", conns)
	}
}

func TestRedisConnectionStoreRejectsAlreadyExpired(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisConnectionStore(redis.Addr(), "")

	err := s.SaveConnection(domain.Connection{
		ID:        "c1",
		UserID:    "u1",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err == nil {
		t.Fatalf("expected save of already-expired connection to fail")
	}
}
