package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"sceneplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestGetUserByAPIKeyHash_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	createdAt := time.Now().Truncate(time.Second)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE api_key_hash = \$1`).
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "broker_credential", "rate_limit", "rate_limit_burst", "created_at"}).
			AddRow(id.String(), "analyst", "pl-key", 5, 10, createdAt))

	user, err := s.GetUserByAPIKeyHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("GetUserByAPIKeyHash failed: %v", err)
	}
	if user.ID != id {
		t.Errorf("got ID %v, want %v", user.ID, id)
	}
	if user.BrokerCredential != "pl-key" {
		t.Errorf("got credential %q, want pl-key", user.BrokerCredential)
	}
	if user.RateLimit != 5 || user.RateLimitBurst != 10 {
		t.Errorf("got rate limit %d/%d, want 5/10", user.RateLimit, user.RateLimitBurst)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByID(context.Background(), id)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	user := &store.User{ID: uuid.New(), Name: "analyst", BrokerCredential: "pl-key", CreatedAt: time.Now()}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, user.Name, "hash", "pl-key", 0, 0, user.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateUser(context.Background(), user, "hash"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func TestUpsertScene(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	scene := &store.Scene{ID: "landsat:LC80", Status: "active", FetchedAt: time.Now()}

	mock.ExpectExec(`INSERT INTO scenes (.+) ON CONFLICT \(id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertScene(context.Background(), nil, scene); err != nil {
		t.Fatalf("UpsertScene failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
