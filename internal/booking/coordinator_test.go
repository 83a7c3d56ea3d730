package booking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agenda/internal/db"
	"agenda/internal/model"
	"agenda/internal/notify"
	"agenda/internal/slots"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 2025-03-10 is a Monday.
const monday = "2025-03-10"

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
	err     error
	block   bool
}

func (r *recordingNotifier) NotifyBooked(ctx context.Context, n notify.Notice) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

type testEnv struct {
	db       *db.DB
	coord    *Coordinator
	notifier *recordingNotifier
	slots    *slots.Service
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "agenda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.UpsertProvider(ctx, model.Provider{ID: "p1", Name: "Dr. One", TelegramChatID: 7, IsActive: true}))
	require.NoError(t, database.UpsertProvider(ctx, model.Provider{ID: "p-off", Name: "Dr. Off", IsActive: false}))
	require.NoError(t, database.ReplaceRules(ctx, "p1", []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "13:00", IsActive: true},
		{DayOfWeek: 1, StartTime: "14:00", EndTime: "17:00", IsActive: true},
	}))

	gen := slots.NewGenerator(
		slots.WithLocation(time.UTC),
		slots.WithClock(func() time.Time { return now }),
	)
	svc := slots.NewService(database, database, gen)
	rec := &recordingNotifier{}

	coord := NewCoordinator(Config{
		Slots:         svc,
		Clients:       database,
		Appointments:  database,
		Providers:     database,
		Notifier:      rec,
		NotifyTimeout: 100 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	return &testEnv{db: database, coord: coord, notifier: rec, slots: svc}
}

var beforeMonday = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func request(tm string) Request {
	return Request{
		ProviderID: "p1",
		Date:       monday,
		Time:       tm,
		ServiceRef: "consultation",
		Client:     ClientInfo{Email: "Ann@Example.com", Name: "Ann", Phone: "555"},
	}
}

func TestBook_Success(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	res, err := env.coord.Book(ctx, request("11:00"))
	require.NoError(t, err)
	require.NoError(t, res.NotificationErr)
	assert.Equal(t, model.StatusPending, res.Appointment.Status)
	assert.Equal(t, "11:00", res.Appointment.Time)
	assert.Equal(t, 1, res.Appointment.NumberOfPeople)
	assert.NotEmpty(t, res.Appointment.ID)

	require.Equal(t, 1, env.notifier.count())
	n := env.notifier.notices[0]
	assert.Equal(t, "ann@example.com", n.Client.Email)
	assert.Equal(t, "Dr. One", n.Provider.Name)
	assert.Equal(t, int64(7), n.Provider.TelegramChatID)

	daySlots, err := env.slots.Slots(ctx, "p1", monday)
	require.NoError(t, err)
	s, ok := slots.Find(daySlots, "11:00")
	require.True(t, ok)
	assert.False(t, s.Available)

	// Same email resolves to the same client.
	res2, err := env.coord.Book(ctx, request("12:00"))
	require.NoError(t, err)
	assert.Equal(t, res.Appointment.ClientID, res2.Appointment.ClientID)
}

func TestBook_SlotAlreadyTaken(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	_, err := env.coord.Book(ctx, request("10:00"))
	require.NoError(t, err)

	other := request("10:00")
	other.Client = ClientInfo{Email: "bob@example.com", Name: "Bob"}
	_, err = env.coord.Book(ctx, other)
	assert.True(t, errors.Is(err, model.ErrSlotAlreadyTaken))

	appts, err := env.db.GetAppointments(ctx, "p1", monday)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
	assert.Equal(t, 1, env.notifier.count())
}

func TestBook_PaddedDateHitsSameSlot(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	_, err := env.coord.Book(ctx, request("11:00"))
	require.NoError(t, err)

	for i, date := range []string{" " + monday, monday + "\n", "\t" + monday + " "} {
		req := request("11:00")
		req.Date = date
		req.Client = ClientInfo{Email: fmt.Sprintf("other%d@example.com", i), Name: "Other"}
		_, err := env.coord.Book(ctx, req)
		assert.True(t, errors.Is(err, model.ErrSlotAlreadyTaken), "date %q: got %v", date, err)
	}

	req := request("12:00")
	req.Date = " " + monday
	res, err := env.coord.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, monday, res.Appointment.Date)

	appts, err := env.db.GetAppointments(ctx, "p1", monday)
	require.NoError(t, err)
	assert.Len(t, appts, 2)
}

func TestBook_CancelledSlotIsBookable(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	res, err := env.coord.Book(ctx, request("15:00"))
	require.NoError(t, err)
	require.NoError(t, env.db.SetStatus(ctx, res.Appointment.ID, model.StatusCancelled))

	_, err = env.coord.Book(ctx, request("15:00"))
	assert.NoError(t, err)
}

func TestBook_InvalidInput(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	tests := []struct {
		name string
		mut  func(r *Request)
	}{
		{"not offered", func(r *Request) { r.Time = "08:00" }},
		{"in lunch gap", func(r *Request) { r.Time = "13:00" }},
		{"off grid", func(r *Request) { r.Time = "10:30" }},
		{"bad time", func(r *Request) { r.Time = "ten" }},
		{"bad date", func(r *Request) { r.Date = "10/03/2025" }},
		{"no provider", func(r *Request) { r.ProviderID = "" }},
		{"unknown provider", func(r *Request) { r.ProviderID = "ghost" }},
		{"inactive provider", func(r *Request) { r.ProviderID = "p-off" }},
		{"weekday without rules", func(r *Request) { r.Date = "2025-03-11" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("10:00")
			tt.mut(&req)
			_, err := env.coord.Book(ctx, req)
			assert.True(t, errors.Is(err, model.ErrInvalidInput), "got %v", err)
		})
	}
	assert.Zero(t, env.notifier.count())
}

func TestBook_PastSlot(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC))

	_, err := env.coord.Book(context.Background(), request("11:00"))
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = env.coord.Book(context.Background(), request("12:00"))
	assert.NoError(t, err)
}

func TestBook_ValidationFailed(t *testing.T) {
	env := newTestEnv(t, beforeMonday)

	req := request("10:00")
	req.Client.Name = "A"
	req.Client.Email = "not-an-email"
	_, err := env.coord.Book(context.Background(), req)
	require.True(t, errors.Is(err, model.ErrValidationFailed))

	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "email")
}

func TestBook_GroupBooking(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	req := request("09:00")
	req.Participants = []model.Participant{{Name: "Bo", Document: "B-1"}, {Name: "Cy", Document: "C-1"}}
	_, err := env.coord.Book(ctx, req)
	assert.True(t, errors.Is(err, model.ErrValidationFailed), "main client document is required")

	req.Client.Document = "A-1"
	res, err := env.coord.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Appointment.NumberOfPeople)

	stored, err := env.db.GetAppointment(ctx, res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, req.Participants, stored.Participants)
	assert.Equal(t, "A-1", stored.Client.Document)
}

func TestBook_NotificationFailureKeepsBooking(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	env.notifier.err = errors.New("sendgrid 503")
	ctx := context.Background()

	res, err := env.coord.Book(ctx, request("16:00"))
	require.NoError(t, err)
	assert.True(t, errors.Is(res.NotificationErr, model.ErrNotificationFailed))

	appts, err := env.db.GetAppointments(ctx, "p1", monday)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, model.StatusPending, appts[0].Status)
}

func TestBook_NotificationTimeout(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	env.notifier.block = true

	start := time.Now()
	res, err := env.coord.Book(context.Background(), request("14:00"))
	require.NoError(t, err)
	assert.True(t, errors.Is(res.NotificationErr, model.ErrNotificationFailed))
	assert.True(t, errors.Is(res.NotificationErr, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv(t, beforeMonday)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request("10:00")
			req.Client = ClientInfo{Email: "c" + string(rune('a'+i)) + "@example.com", Name: "Client"}
			_, errs[i] = env.coord.Book(ctx, req)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, model.ErrSlotAlreadyTaken), "got %v", err)
	}
	assert.Equal(t, 1, ok)

	appts, err := env.db.GetAppointments(ctx, "p1", monday)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

type mockSnapshotter struct {
	mock.Mock
}

func (m *mockSnapshotter) Snapshot(ctx context.Context, providerID, date string) ([]slots.TimeSlot, []model.Appointment, error) {
	args := m.Called(ctx, providerID, date)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]slots.TimeSlot), args.Get(1).([]model.Appointment), args.Error(2)
}

type mockClients struct {
	mock.Mock
}

func (m *mockClients) FindOrCreateClient(ctx context.Context, email, name, phone, document string) (string, error) {
	args := m.Called(ctx, email, name, phone, document)
	return args.String(0), args.Error(1)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	return m.Called(ctx, a).Error(0)
}

func TestBook_StoreFailures(t *testing.T) {
	ctx := context.Background()
	free := []slots.TimeSlot{{Time: "10:00", Available: true}}

	t.Run("SnapshotUnavailable", func(t *testing.T) {
		snap := new(mockSnapshotter)
		snap.On("Snapshot", ctx, "p1", monday).Return(nil, nil, model.Unavailable("get rules", errors.New("locked"))).Once()
		coord := NewCoordinator(Config{Slots: snap, Logger: zerolog.Nop()})

		_, err := coord.Book(ctx, request("10:00"))
		assert.True(t, errors.Is(err, model.ErrStoreUnavailable))
	})

	t.Run("ClientUpsertFails", func(t *testing.T) {
		snap, clients := new(mockSnapshotter), new(mockClients)
		snap.On("Snapshot", ctx, "p1", monday).Return(free, []model.Appointment{}, nil).Once()
		clients.On("FindOrCreateClient", ctx, "Ann@Example.com", "Ann", "555", "").Return("", errors.New("disk I/O")).Once()
		coord := NewCoordinator(Config{Slots: snap, Clients: clients, Logger: zerolog.Nop()})

		_, err := coord.Book(ctx, request("10:00"))
		assert.True(t, errors.Is(err, model.ErrStoreUnavailable))
	})

	t.Run("InsertRaceMapsToSlotTaken", func(t *testing.T) {
		snap, clients, writer := new(mockSnapshotter), new(mockClients), new(mockWriter)
		snap.On("Snapshot", ctx, "p1", monday).Return(free, []model.Appointment{}, nil).Once()
		clients.On("FindOrCreateClient", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("c1", nil).Once()
		writer.On("CreateAppointment", ctx, mock.AnythingOfType("*model.Appointment")).Return(model.ErrSlotAlreadyTaken).Once()
		rec := &recordingNotifier{}
		coord := NewCoordinator(Config{Slots: snap, Clients: clients, Appointments: writer, Notifier: rec, Logger: zerolog.Nop()})

		_, err := coord.Book(ctx, request("10:00"))
		assert.True(t, errors.Is(err, model.ErrSlotAlreadyTaken))
		assert.Zero(t, rec.count())
	})
}
