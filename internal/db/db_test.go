package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agenda/internal/config"
	"agenda/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "agenda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.UpsertProvider(context.Background(), model.Provider{ID: "p1", Name: "Dr. One", IsActive: true}))
	return db
}

func newAppointment(t *testing.T, db *DB, date, tm string) *model.Appointment {
	t.Helper()
	clientID, err := db.FindOrCreateClient(context.Background(), fmt.Sprintf("%s-%s@example.com", date, tm), "Client", "", "")
	require.NoError(t, err)
	return &model.Appointment{ProviderID: "p1", ClientID: clientID, Date: date, Time: tm}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agenda.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())
}

func TestFindOrCreateClient(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id1, err := db.FindOrCreateClient(ctx, "  Ann@Example.com ", "Ann", "555", "")
	require.NoError(t, err)
	id2, err := db.FindOrCreateClient(ctx, "ann@example.com", "Ann Smith", "", "DOC-1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var c model.Client
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT email, name, phone, document FROM clients WHERE id = ?`, id1,
	).Scan(&c.Email, &c.Name, &c.Phone, &c.Document))
	assert.Equal(t, "ann@example.com", c.Email)
	assert.Equal(t, "Ann Smith", c.Name)
	assert.Equal(t, "555", c.Phone)
	assert.Equal(t, "DOC-1", c.Document)

	_, err = db.FindOrCreateClient(ctx, "  ", "Nobody", "", "")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestFindOrCreateClient_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = db.FindOrCreateClient(ctx, "same@example.com", "Same", "", "")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestCreateAppointment_UniqueSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := newAppointment(t, db, "2025-03-10", "10:00")
	first.NumberOfPeople = 2
	first.Participants = []model.Participant{{Name: "Bo", Document: "X"}}
	require.NoError(t, db.CreateAppointment(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.StatusPending, first.Status)

	second := newAppointment(t, db, "2025-03-10", "10:00")
	second.ClientID = first.ClientID
	err := db.CreateAppointment(ctx, second)
	assert.True(t, errors.Is(err, model.ErrSlotAlreadyTaken))

	// A different hour is fine.
	require.NoError(t, db.CreateAppointment(ctx, newAppointment(t, db, "2025-03-10", "11:00")))

	// Cancelling frees the slot.
	require.NoError(t, db.SetStatus(ctx, first.ID, model.StatusCancelled))
	rebook := newAppointment(t, db, "2025-03-10", "10:00")
	require.NoError(t, db.CreateAppointment(ctx, rebook))

	// Cancelled is final.
	err = db.SetStatus(ctx, first.ID, model.StatusPending)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	err = db.SetStatus(ctx, first.ID, model.StatusConfirmed)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	all, err := db.GetAppointments(ctx, "p1", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := db.GetAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, []model.Participant{{Name: "Bo", Document: "X"}}, got.Participants)
	require.NotNil(t, got.Client)
	assert.Equal(t, "Client", got.Client.Name)
}

func TestCreateAppointment_ConcurrentSameSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const n = 10
	appts := make([]*model.Appointment, n)
	for i := range appts {
		appts[i] = newAppointment(t, db, "2025-03-10", "09:00")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.CreateAppointment(ctx, appts[i])
		}(i)
	}
	wg.Wait()

	ok, taken := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrSlotAlreadyTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)
}

func TestSetStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := newAppointment(t, db, "2025-03-10", "10:00")
	require.NoError(t, db.CreateAppointment(ctx, a))
	require.NoError(t, db.SetStatus(ctx, a.ID, model.StatusConfirmed))

	err := db.SetStatus(ctx, a.ID, model.Status("archived"))
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	err = db.SetStatus(ctx, "missing", model.StatusConfirmed)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	history, err := db.AppointmentHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.Status(""), history[0].From)
	assert.Equal(t, model.StatusPending, history[0].To)
	assert.Equal(t, model.StatusPending, history[1].From)
	assert.Equal(t, model.StatusConfirmed, history[1].To)
}

func TestListAppointments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, d := range []struct{ date, tm string }{
		{"2025-03-10", "11:00"}, {"2025-03-10", "09:00"}, {"2025-03-12", "10:00"}, {"2025-04-01", "10:00"},
	} {
		require.NoError(t, db.CreateAppointment(ctx, newAppointment(t, db, d.date, d.tm)))
	}

	got, err := db.ListAppointments(ctx, AppointmentFilter{ProviderID: "p1", DateFrom: "2025-03-01", DateTo: "2025-03-31"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "09:00", got[0].Time)
	assert.Equal(t, "11:00", got[1].Time)
	assert.Equal(t, "2025-03-12", got[2].Date)
	assert.NotNil(t, got[0].Client)

	require.NoError(t, db.SetStatus(ctx, got[0].ID, model.StatusConfirmed))
	confirmed, err := db.ListAppointments(ctx, AppointmentFilter{Status: model.StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	page, err := db.ListAppointments(ctx, AppointmentFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestSyncProvidersFromConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := &config.ProvidersConfig{
		Providers: []config.ProviderConfig{
			{ID: "dr-a", Name: "A", Rules: []config.RuleConfig{{Days: []int{1, 3}, Start: "09:00", End: "12:00"}}},
			{ID: "dr-b", Name: "B"},
		},
		Defaults: config.DefaultsConfig{Rules: []config.RuleConfig{{Days: []int{2}, Start: "10:00", End: "11:00"}}},
	}

	synced, err := db.SyncProvidersFromConfig(ctx, cfg)
	require.NoError(t, err)
	// p1 from newTestDB is not in the file and gets deactivated.
	assert.ElementsMatch(t, []string{"dr-a", "dr-b", "p1"}, synced)

	rules, err := db.GetRules(ctx, "dr-a")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 1, rules[0].DayOfWeek)
	assert.Equal(t, 3, rules[1].DayOfWeek)

	rules, err = db.GetRules(ctx, "dr-b")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "10:00", rules[0].StartTime)

	providers, err := db.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	p1, err := db.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p1.IsActive)

	// Re-sync replaces instead of appending.
	cfg.Providers[0].Rules = []config.RuleConfig{{Days: []int{5}, Start: "13:00", End: "15:00"}}
	_, err = db.SyncProvidersFromConfig(ctx, cfg)
	require.NoError(t, err)
	rules, err = db.GetRules(ctx, "dr-a")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 5, rules[0].DayOfWeek)

	// Deactivated providers expose no rules.
	_, err = db.SyncProvidersFromConfig(ctx, &config.ProvidersConfig{Providers: []config.ProviderConfig{{ID: "dr-b", Name: "B"}}})
	require.NoError(t, err)
	rules, err = db.GetRules(ctx, "dr-a")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = db.GetProvider(ctx, "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestBackup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateAppointment(ctx, newAppointment(t, db, "2025-03-10", "10:00")))

	dir := t.TempDir()
	svc := NewBackupService(db, BackupConfig{Dir: dir, Retention: time.Hour}, zerolog.Nop())
	dest := svc.RunOnce(ctx)
	require.NotEmpty(t, dest)

	restored, err := Open(ctx, dest)
	require.NoError(t, err)
	defer restored.Close()
	appts, err := restored.GetAppointments(ctx, "p1", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, appts, 1)

	assert.Error(t, db.Backup(ctx, dest), "existing destination must not be overwritten")
}

func TestCleanupBackups(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "agenda_old.db")
	fresh := filepath.Join(dir, "agenda_new.db")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	deleted, err := CleanupBackups(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)

	deleted, err = CleanupBackups(dir, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestStoreFailuresMapToUnavailable(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := New(sqlDB)
	ctx := context.Background()

	mock.ExpectQuery("SELECT r.id, r.provider_id").WithArgs("p1").WillReturnError(errors.New("disk I/O error"))
	_, err = db.GetRules(ctx, "p1")
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))

	mock.ExpectQuery("FROM appointments a").WithArgs("p1", "2025-03-10").WillReturnError(errors.New("database is locked"))
	_, err = db.GetAppointments(ctx, "p1", "2025-03-10")
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))

	mock.ExpectQuery("INSERT INTO clients").WillReturnError(errors.New("database is locked"))
	_, err = db.FindOrCreateClient(ctx, "a@b.c", "Ann", "", "")
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	err = db.CreateAppointment(ctx, &model.Appointment{ProviderID: "p1", ClientID: "c1", Date: "2025-03-10", Time: "10:00"})
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))
	assert.False(t, errors.Is(err, model.ErrSlotAlreadyTaken))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	err = db.CreateAppointment(ctx, &model.Appointment{ProviderID: "p1", ClientID: "c1", Date: "2025-03-10", Time: "10:00"})
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRules_ScansRows(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	rows := sqlmock.NewRows([]string{"id", "provider_id", "day_of_week", "start_time", "end_time", "is_active"}).
		AddRow(1, "p1", 1, "09:00", "13:00", true).
		AddRow(2, "p1", 1, "14:00", "17:00", true)
	mock.ExpectQuery("FROM availability_rules r").WithArgs("p1").WillReturnRows(rows)

	got, err := New(sqlDB).GetRules(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []model.AvailabilityRule{
		{ID: 1, ProviderID: "p1", DayOfWeek: 1, StartTime: "09:00", EndTime: "13:00", IsActive: true},
		{ID: 2, ProviderID: "p1", DayOfWeek: 1, StartTime: "14:00", EndTime: "17:00", IsActive: true},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus_StatusChangedUnderneath(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM appointments").WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs("confirmed", sqlmock.AnyArg(), "a1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = New(sqlDB).SetStatus(context.Background(), "a1", model.StatusConfirmed)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}
