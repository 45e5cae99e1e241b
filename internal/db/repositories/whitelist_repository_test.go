package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

var whitelistCols = []string{"id", "app_id", "network", "label", "is_active", "created_at"}

func newWhitelistRepo(t *testing.T) (*WhitelistRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWhitelistRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestWhitelistCreate(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("INSERT INTO app_ip_whitelist").WillReturnResult(sqlmock.NewResult(1, 1))

	e := &models.AppWhitelistEntry{AppID: "app-1", Network: "10.0.0.0/8", Active: true}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestWhitelistCreate_DBError(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("INSERT INTO app_ip_whitelist").WillReturnError(errDB)

	if err := repo.Create(context.Background(), &models.AppWhitelistEntry{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestWhitelistGetByID(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT.*FROM app_ip_whitelist WHERE id").
		WithArgs("wl-1", "app-1").
		WillReturnRows(sqlmock.NewRows(whitelistCols).
			AddRow("wl-1", "app-1", "203.0.113.5", "office", true, time.Now()))

	e, err := repo.GetByID(context.Background(), "app-1", "wl-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.Network != "203.0.113.5" || e.Label == nil || *e.Label != "office" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestWhitelistGetByID_NotFound(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT.*FROM app_ip_whitelist WHERE id").
		WillReturnRows(sqlmock.NewRows(whitelistCols))

	e, err := repo.GetByID(context.Background(), "app-1", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil, got %+v", e)
	}
}

func TestWhitelistListByApp(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT.*FROM app_ip_whitelist WHERE app_id").
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(whitelistCols).
			AddRow("wl-1", "app-1", "10.0.0.0/8", nil, true, time.Now()).
			AddRow("wl-2", "app-1", "2001:db8::/32", nil, false, time.Now()))

	entries, err := repo.ListByApp(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[1].Active {
		t.Error("second entry should be inactive")
	}
}

func TestWhitelistUpdate(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("UPDATE app_ip_whitelist SET is_active").
		WithArgs("wl-1", "app-1", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &models.AppWhitelistEntry{ID: "wl-1", AppID: "app-1", Active: false}
	if err := repo.Update(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWhitelistDelete(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("DELETE FROM app_ip_whitelist").
		WithArgs("wl-1", "app-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Delete(context.Background(), "app-1", "wl-1")
	if err != nil || !ok {
		t.Errorf("Delete() = %v, %v; want true, nil", ok, err)
	}
}

func TestWhitelistDelete_Missing(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("DELETE FROM app_ip_whitelist").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Delete(context.Background(), "app-1", "nope")
	if err != nil || ok {
		t.Errorf("Delete() = %v, %v; want false, nil", ok, err)
	}
}
