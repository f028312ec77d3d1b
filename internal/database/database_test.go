package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorgomez09/garagedesk/internal/apierr"
	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/database"
	"github.com/victorgomez09/garagedesk/internal/database/databasetest"
	"github.com/victorgomez09/garagedesk/internal/garage"
)

func newUser(t *testing.T, db *database.DB, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "x:y", Role: models.RoleStaff, Active: true}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestMigrate_Idempotent(t *testing.T) {
	db := databasetest.New(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestUsers_CreateThenGet(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)

	u := &models.User{Username: "Jane", Email: "Jane@Example.com", Password: "a:b", Role: models.RoleAdmin, Active: true}
	require.NoError(t, db.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	got, err := db.GetUserByUsername(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.Active)

	got, err = db.GetUserByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = db.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestUsers_DuplicateUsernameConflicts(t *testing.T) {
	db := databasetest.New(t)
	newUser(t, db, "jane")

	err := db.CreateUser(context.Background(), &models.User{Username: "jane", Password: "p", Role: models.RoleStaff})
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestUsers_RecordLoginFailureLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))
	u := newUser(t, db, "jane")
	lockUntil := clock.Now().Add(30 * time.Minute)

	for i := 1; i < 5; i++ {
		n, locked, err := db.RecordLoginFailure(ctx, u.ID, 5, lockUntil)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.False(t, locked)
	}
	n, locked, err := db.RecordLoginFailure(ctx, u.ID, 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, locked)

	got, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(lockUntil))
	assert.True(t, got.IsLocked(clock.Now()))

	last := clock.Now()
	require.NoError(t, db.ClearLoginFailures(ctx, u.ID, &last))
	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
	require.NotNil(t, got.LastLogin)
}

func TestSessions_CascadeOnUserDelete(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	u := newUser(t, db, "jane")
	now := time.Now().UTC()

	s := &models.Session{UserID: u.ID, TokenHash: "h1", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivityAt: now}
	require.NoError(t, db.CreateSession(ctx, s))

	gotS, gotU, err := db.GetSessionWithUser(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, gotS.ID)
	assert.Equal(t, "jane", gotU.Username)

	require.NoError(t, db.DeleteUser(ctx, u.ID))
	_, _, err = db.GetSessionWithUser(ctx, "h1")
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestSessions_DeleteStale(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	u := newUser(t, db, "jane")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for hash, s := range map[string]models.Session{
		"live":     {CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivityAt: now},
		"expired":  {CreatedAt: now, ExpiresAt: now.Add(-time.Second), LastActivityAt: now},
		"boundary": {CreatedAt: now, ExpiresAt: now, LastActivityAt: now},
		"idle":     {CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivityAt: now.Add(-31 * time.Minute)},
	} {
		s.UserID, s.TokenHash = u.ID, hash
		require.NoError(t, db.CreateSession(ctx, &s))
	}

	n, err := db.DeleteStaleSessions(ctx, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	live, err := db.ListUserSessions(ctx, u.ID, now, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.ElementsMatch(t, []string{"live", "boundary"}, []string{live[0].TokenHash, live[1].TokenHash})

	deleted, err := db.DeleteSession(ctx, "live")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = db.DeleteSession(ctx, "live")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAudit_InsertThenList(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	u := newUser(t, db, "jane")
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertAuditLog(ctx, &models.AuditLog{ID: "a1", UserID: &u.ID, Username: "jane", Action: "login", Timestamp: base}))
	require.NoError(t, db.InsertAuditLog(ctx, &models.AuditLog{ID: "a2", Username: "ghost", Action: "login_failed", Details: "unknown_user", Timestamp: base.Add(time.Second)}))

	all, err := db.ListAuditLogs(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID)
	assert.Nil(t, all[0].UserID)

	mine, err := db.ListAuditLogs(ctx, models.AuditFilter{UserID: &u.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "login", mine[0].Action)

	// deleting the user keeps the trail
	require.NoError(t, db.DeleteUser(ctx, u.ID))
	all, err = db.ListAuditLogs(ctx, models.AuditFilter{Action: "login"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].UserID)
	assert.Equal(t, "jane", all[0].Username)
}

func TestGarage_CustomerVehicleServiceCascade(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)

	c := &garage.Customer{Name: "John Doe", Email: "john@example.com"}
	require.NoError(t, db.CreateCustomer(ctx, c))
	v := &garage.Vehicle{CustomerID: c.ID, Make: "Toyota", Model: "Corolla", Year: 2018, LicensePlate: "kaa 123a"}
	require.NoError(t, db.CreateVehicle(ctx, v))
	assert.Equal(t, "KAA 123A", v.LicensePlate)
	s := &garage.Service{VehicleID: v.ID, ServiceType: "Oil Change", CostCents: 5000}
	require.NoError(t, db.CreateService(ctx, s))

	require.NoError(t, db.DeleteCustomer(ctx, c.ID))

	_, err := db.GetVehicle(ctx, v.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	_, err = db.GetService(ctx, s.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestGarage_VehicleRequiresCustomer(t *testing.T) {
	db := databasetest.New(t)
	err := db.CreateVehicle(context.Background(), &garage.Vehicle{CustomerID: 99, Make: "VW", Model: "Golf", Year: 2010, LicensePlate: "X1"})
	assert.ErrorIs(t, err, apierr.ErrInvalidReference)
}

func TestGarage_DuplicatePlateConflicts(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	c := &garage.Customer{Name: "A"}
	require.NoError(t, db.CreateCustomer(ctx, c))
	require.NoError(t, db.CreateVehicle(ctx, &garage.Vehicle{CustomerID: c.ID, Make: "VW", Model: "Golf", Year: 2010, LicensePlate: "AB1"}))

	err := db.CreateVehicle(ctx, &garage.Vehicle{CustomerID: c.ID, Make: "VW", Model: "Polo", Year: 2012, LicensePlate: "ab1"})
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestGarage_ServiceAutoAssignsLeastBusyTechnician(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)

	c := &garage.Customer{Name: "A"}
	require.NoError(t, db.CreateCustomer(ctx, c))
	v := &garage.Vehicle{CustomerID: c.ID, Make: "VW", Model: "Golf", Year: 2010, LicensePlate: "AB1"}
	require.NoError(t, db.CreateVehicle(ctx, v))

	busy := &garage.Technician{Name: "Busy", Active: true}
	idle := &garage.Technician{Name: "Idle", Active: true}
	off := &garage.Technician{Name: "Off", Active: false}
	for _, tech := range []*garage.Technician{busy, idle, off} {
		require.NoError(t, db.CreateTechnician(ctx, tech))
	}

	first := &garage.Service{VehicleID: v.ID, ServiceType: "Brakes"}
	require.NoError(t, db.CreateService(ctx, first))
	require.NotNil(t, first.TechnicianID)
	assert.Equal(t, busy.ID, *first.TechnicianID, "ties go to the lowest id")

	second := &garage.Service{VehicleID: v.ID, ServiceType: "Tyres"}
	require.NoError(t, db.CreateService(ctx, second))
	require.NotNil(t, second.TechnicianID)
	assert.Equal(t, idle.ID, *second.TechnicianID)

	got, err := db.GetTechnician(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpenJobs)
}

func TestGarage_CompletingServiceStampsCompletedAt(t *testing.T) {
	ctx := context.Background()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))

	c := &garage.Customer{Name: "A"}
	require.NoError(t, db.CreateCustomer(ctx, c))
	v := &garage.Vehicle{CustomerID: c.ID, Make: "VW", Model: "Golf", Year: 2010, LicensePlate: "AB1"}
	require.NoError(t, db.CreateVehicle(ctx, v))
	s := &garage.Service{VehicleID: v.ID, ServiceType: "Brakes", CostCents: 12000}
	require.NoError(t, db.CreateService(ctx, s))
	assert.Nil(t, s.CompletedAt)

	clock.Advance(time.Hour)
	s.Status = garage.StatusCompleted
	require.NoError(t, db.UpdateService(ctx, s))
	require.NotNil(t, s.CompletedAt)
	assert.True(t, s.CompletedAt.Equal(clock.Now()))

	stats, err := db.Dashboard(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 12000, stats.ServiceRevenueCents)
	assert.Equal(t, 0, stats.PendingServices)
}

func TestGarage_PartsLowStockFilter(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)

	require.NoError(t, db.CreatePart(ctx, &garage.Part{Name: "Brake pad", StockQuantity: 2, MinStock: 5, PriceCents: 2500}))
	require.NoError(t, db.CreatePart(ctx, &garage.Part{Name: "Oil filter", StockQuantity: 40, MinStock: 10, PriceCents: 800}))

	low, err := db.ListParts(ctx, true, garage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Brake pad", low[0].Name)
	assert.True(t, low[0].LowStock)

	all, err := db.ListParts(ctx, false, garage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGarage_BookingAndPayment(t *testing.T) {
	ctx := context.Background()
	clock := databasetest.NewClock()
	db := databasetest.New(t, database.WithClock(clock.Now))

	c := &garage.Customer{Name: "A"}
	require.NoError(t, db.CreateCustomer(ctx, c))

	err := db.CreateBooking(ctx, &garage.Booking{CustomerID: c.ID, ServiceType: "Wash", BookingDate: "2024-06-14", BookingTime: "10:00"})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	b := &garage.Booking{CustomerID: c.ID, ServiceType: "Wash", BookingDate: "2024-06-16", BookingTime: "10:00"}
	require.NoError(t, db.CreateBooking(ctx, b))

	p := &garage.Payment{BookingID: &b.ID, AmountCents: 1500, Method: garage.MethodCash}
	require.NoError(t, db.CreatePayment(ctx, p))
	assert.NotEmpty(t, p.TransactionID)

	stats, err := db.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCustomers)
	assert.Equal(t, 1, stats.PendingBookings)
	assert.EqualValues(t, 1500, stats.PaymentsCents)
	require.Len(t, stats.RecentBookings, 1)

	// removing the booking keeps the payment record
	require.NoError(t, db.DeleteBooking(ctx, b.ID))
	got, err := db.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BookingID)
}

func TestGarage_UpdateMissingIsNotFound(t *testing.T) {
	db := databasetest.New(t)
	err := db.UpdateCustomer(context.Background(), &garage.Customer{ID: 42, Name: "x"})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.ErrorIs(t, db.DeletePart(context.Background(), 42), apierr.ErrNotFound)
}
