package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
	"github.com/homerun-app/homerun-server/service/payment"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeGateway is an in-memory payment.Gateway. Failure modes are switched on
// per test; onUpdate lets a test interfere between the provider call and the
// row write.
type fakeGateway struct {
	mu     sync.Mutex
	nextID int
	auths  map[string]*payment.Authorization

	declineNext  bool
	authorizeErr error
	updateErr    error
	captureErr   error
	voidErr      error
	onAuthorize  func(authorizationID string)
	onUpdate     func(authorizationID string, newAmount int64)

	voided []string
}

var _ payment.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{auths: make(map[string]*payment.Authorization)}
}

func (g *fakeGateway) register(id string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auths[id] = &payment.Authorization{ID: id, Status: payment.AuthStatusRequiresCapture, Amount: amount, Currency: "USD"}
}

func (g *fakeGateway) Authorize(ctx context.Context, amount int64, currency, payerRef string, bookingID uint) (*payment.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.declineNext {
		g.declineNext = false
		return nil, fmt.Errorf("%w: card declined", models.ErrPaymentDeclined)
	}
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	g.nextID++
	auth := &payment.Authorization{
		ID:       fmt.Sprintf("auth_%d", g.nextID),
		Status:   payment.AuthStatusRequiresCapture,
		Amount:   amount,
		Currency: currency,
	}
	g.auths[auth.ID] = auth
	hook := g.onAuthorize
	g.mu.Unlock()
	if hook != nil {
		hook(auth.ID)
	}
	g.mu.Lock()
	return &payment.Authorization{ID: auth.ID, Status: auth.Status, Amount: auth.Amount, Currency: auth.Currency}, nil
}

func (g *fakeGateway) UpdateAuthorizedAmount(ctx context.Context, authorizationID string, newAmount int64) (string, error) {
	g.mu.Lock()
	if g.updateErr != nil {
		g.mu.Unlock()
		return "", g.updateErr
	}
	auth, ok := g.auths[authorizationID]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("authorization %s not found", authorizationID)
	}
	auth.Amount = newAmount
	hook := g.onUpdate
	g.mu.Unlock()

	if hook != nil {
		hook(authorizationID, newAmount)
	}
	return payment.AuthStatusRequiresCapture, nil
}

func (g *fakeGateway) Capture(ctx context.Context, authorizationID string, amount int64) (*payment.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	auth, ok := g.auths[authorizationID]
	if !ok {
		return nil, fmt.Errorf("authorization %s not found", authorizationID)
	}
	auth.Status = payment.AuthStatusSucceeded
	return &payment.CaptureResult{CapturedAmount: amount, Status: payment.AuthStatusSucceeded}, nil
}

func (g *fakeGateway) Void(ctx context.Context, authorizationID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.voidErr != nil {
		return "", g.voidErr
	}
	if auth, ok := g.auths[authorizationID]; ok {
		auth.Status = payment.AuthStatusCanceled
	}
	g.voided = append(g.voided, authorizationID)
	return payment.AuthStatusCanceled, nil
}

func (g *fakeGateway) GetAuthorization(ctx context.Context, authorizationID string) (*payment.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	auth, ok := g.auths[authorizationID]
	if !ok {
		return nil, fmt.Errorf("authorization %s not found", authorizationID)
	}
	return &payment.Authorization{ID: auth.ID, Status: auth.Status, Amount: auth.Amount, Currency: auth.Currency}, nil
}

func (g *fakeGateway) setAmount(authorizationID string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auths[authorizationID].Amount = amount
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.ProfessionalSettings{}, &models.Booking{}, &models.ReconciliationItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newManager(t *testing.T) (*Manager, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	gw := newFakeGateway()
	return NewManager(db, gw, nil, zap.NewNop()), gw, db
}

func seedSettings(t *testing.T, db *gorm.DB, professionalID uint, hourlyRate int64) {
	t.Helper()
	settings := models.DefaultProfessionalSettings(professionalID)
	settings.HourlyRate = hourlyRate
	if err := db.Create(settings).Error; err != nil {
		t.Fatalf("seed settings: %v", err)
	}
}

// mondaySlot is a weekday morning inside the default working hours.
func mondaySlot() time.Time {
	return time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
}

func createRequest(professionalID uint) *CreateRequest {
	customer := uint(42)
	return &CreateRequest{
		CustomerID:      &customer,
		ProfessionalID:  professionalID,
		ScheduledStart:  mondaySlot(),
		DurationMinutes: 120,
		PayerReference:  "pm_test_1",
	}
}

func TestCreateAuthorizesBooking(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)

	booking, err := m.Create(context.Background(), createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if booking.Status != models.BookingStatusAuthorized {
		t.Fatalf("status = %s, want authorized", booking.Status)
	}
	if booking.AmountEstimated != 24000 {
		t.Fatalf("amount_estimated = %d, want 24000", booking.AmountEstimated)
	}
	if booking.AmountAuthorized != 24000 {
		t.Fatalf("amount_authorized = %d, want 24000", booking.AmountAuthorized)
	}
	if booking.AuthorizationRef == "" {
		t.Fatalf("authorization_ref not recorded")
	}

	var stored models.Booking
	if err := db.First(&stored, booking.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != models.BookingStatusAuthorized || stored.AuthorizationRef != booking.AuthorizationRef {
		t.Fatalf("row not updated: %+v", stored)
	}
}

func TestCreateFloorsToMinimum(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 1000)

	req := createRequest(1)
	req.DurationMinutes = 60

	booking, err := m.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if booking.AmountEstimated != PlatformMinimumAmount {
		t.Fatalf("amount_estimated = %d, want platform minimum %d", booking.AmountEstimated, PlatformMinimumAmount)
	}
}

func TestCreateValidation(t *testing.T) {
	m, _, _ := newManager(t)

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing professional", func(r *CreateRequest) { r.ProfessionalID = 0 }},
		{"missing start", func(r *CreateRequest) { r.ScheduledStart = time.Time{} }},
		{"zero duration", func(r *CreateRequest) { r.DurationMinutes = 0 }},
		{"missing payer reference", func(r *CreateRequest) { r.PayerReference = "" }},
	}
	for _, tc := range cases {
		req := createRequest(1)
		tc.mutate(req)
		if _, err := m.Create(context.Background(), req); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("%s: err = %v, want validation error", tc.name, err)
		}
	}
}

func TestCreateDeclineRemovesBooking(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	gw.declineNext = true

	_, err := m.Create(context.Background(), createRequest(1))
	if !errors.Is(err, models.ErrPaymentDeclined) {
		t.Fatalf("err = %v, want payment declined", err)
	}

	var count int64
	if err := db.Model(&models.Booking{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("declined booking left %d rows", count)
	}
}

func TestCreateUnknownOutcomeQueuesReconciliation(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	gw.authorizeErr = errors.New("network timeout")

	_, err := m.Create(context.Background(), createRequest(1))
	if err == nil || errors.Is(err, models.ErrPaymentDeclined) {
		t.Fatalf("err = %v, want non-decline failure", err)
	}

	var booking models.Booking
	if err := db.First(&booking).Error; err != nil {
		t.Fatalf("booking row missing after unknown outcome: %v", err)
	}
	if booking.Status != models.BookingStatusPaymentFailed {
		t.Fatalf("status = %s, want payment_failed", booking.Status)
	}

	var items []models.ReconciliationItem
	if err := db.Find(&items).Error; err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 || items[0].Kind != models.ReconciliationKindAmountSync {
		t.Fatalf("items = %+v, want one amount_sync entry", items)
	}
}

func TestCreateRecordFailureQueuesReconciliation(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)

	// Break the row write that records the authorization: funds are then
	// reserved at the provider with nothing local saying so.
	gw.onAuthorize = func(string) {
		if err := db.Migrator().DropTable(&models.Booking{}); err != nil {
			t.Errorf("drop table: %v", err)
		}
	}

	_, err := m.Create(context.Background(), createRequest(1))
	if err == nil {
		t.Fatalf("want error when authorization cannot be recorded")
	}

	var items []models.ReconciliationItem
	if err := db.Find(&items).Error; err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 || items[0].Kind != models.ReconciliationKindAmountSync {
		t.Fatalf("items = %+v, want one amount_sync entry", items)
	}
	if items[0].AuthorizationRef == "" || items[0].ProviderAmount != 24000 {
		t.Fatalf("queued item missing provider side: %+v", items[0])
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)

	existing := models.Booking{
		ProfessionalID:  1,
		ScheduledStart:  mondaySlot().Add(time.Hour),
		ScheduledEnd:    mondaySlot().Add(2 * time.Hour),
		DurationMinutes: 60,
		Status:          models.BookingStatusConfirmed,
		Currency:        "USD",
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := m.Create(context.Background(), createRequest(1))
	if !errors.Is(err, models.ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want slot no longer available", err)
	}
}

func TestCreateRejectsFullDay(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)

	for i := 0; i < 3; i++ {
		start := mondaySlot().Add(time.Duration(i+3) * time.Hour)
		b := models.Booking{
			ProfessionalID:  1,
			ScheduledStart:  start,
			ScheduledEnd:    start.Add(30 * time.Minute),
			DurationMinutes: 30,
			Status:          models.BookingStatusConfirmed,
			Currency:        "USD",
		}
		if err := db.Create(&b).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	req := createRequest(1)
	req.ScheduledStart = mondaySlot().Add(-time.Hour) // clear of the seeded slots
	_, err := m.Create(context.Background(), req)
	if !errors.Is(err, models.ErrSlotNoLongerAvailable) {
		t.Fatalf("err = %v, want slot no longer available", err)
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := createRequest(1)
			req.PayerReference = fmt.Sprintf("pm_test_%d", i)
			_, err := m.Create(context.Background(), req)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrSlotNoLongerAvailable):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d; want exactly one of each", wins, conflicts)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := m.CheckIn(ctx, booking.ID, time.Time{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	done, err := m.CheckOut(ctx, booking.ID)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	if done.Status != models.BookingStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if done.AmountCaptured == nil || *done.AmountCaptured != done.AmountAuthorized {
		t.Fatalf("captured %v, want full authorized amount %d", done.AmountCaptured, done.AmountAuthorized)
	}

	auth, err := gw.GetAuthorization(ctx, done.AuthorizationRef)
	if err != nil {
		t.Fatalf("GetAuthorization: %v", err)
	}
	if auth.Status != payment.AuthStatusSucceeded {
		t.Fatalf("provider status = %s, want succeeded", auth.Status)
	}

	var stored models.Booking
	if err := db.First(&stored, booking.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.PaymentStatus != "paid" {
		t.Fatalf("payment_status = %q, want paid", stored.PaymentStatus)
	}
}

func TestCheckOutCapturesExtensions(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := m.CheckIn(ctx, booking.ID, time.Time{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	extended, err := m.Extend(ctx, booking.ID, 30)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}

	done, err := m.CheckOut(ctx, booking.ID)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if done.AmountCaptured == nil || *done.AmountCaptured != extended.AmountAuthorized {
		t.Fatalf("captured %v, want extended total %d", done.AmountCaptured, extended.AmountAuthorized)
	}
}

func TestCheckOutCorrectsDivergedAmount(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Confirm(ctx, booking.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := m.CheckIn(ctx, booking.ID, time.Time{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	// Provider holds more than the row records, as after a partially
	// failed extension.
	gw.setAmount(booking.AuthorizationRef, booking.AmountAuthorized+6000)

	done, err := m.CheckOut(ctx, booking.ID)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if done.AmountCaptured == nil || *done.AmountCaptured != booking.AmountAuthorized+6000 {
		t.Fatalf("captured %v, want provider amount %d", done.AmountCaptured, booking.AmountAuthorized+6000)
	}

	var items []models.ReconciliationItem
	if err := db.Where("kind = ?", models.ReconciliationKindAmountSync).Find(&items).Error; err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("want one amount_sync item, got %d", len(items))
	}
}

func TestCancelVoidsAuthorization(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	canceled, err := m.Cancel(ctx, booking.ID, "customer request", "customer")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != models.BookingStatusCanceled {
		t.Fatalf("status = %s, want canceled", canceled.Status)
	}
	if len(gw.voided) != 1 || gw.voided[0] != booking.AuthorizationRef {
		t.Fatalf("voided = %v, want [%s]", gw.voided, booking.AuthorizationRef)
	}

	var stored models.Booking
	if err := db.First(&stored, booking.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.CancelReason != "customer request" || stored.CanceledBy != "customer" {
		t.Fatalf("cancel metadata not recorded: %+v", stored)
	}
}

func TestCancelSurvivesVoidFailure(t *testing.T) {
	m, gw, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	gw.voidErr = errors.New("provider unavailable")

	canceled, err := m.Cancel(ctx, booking.ID, "rain", "professional")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != models.BookingStatusCanceled {
		t.Fatalf("status = %s, want canceled", canceled.Status)
	}

	var count int64
	if err := db.Model(&models.ReconciliationItem{}).
		Where("kind = ?", models.ReconciliationKindAmountSync).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("want one queued item for the failed void, got %d", count)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	m, _, db := newManager(t)
	ctx := context.Background()

	completed := models.Booking{
		ProfessionalID:  1,
		ScheduledStart:  mondaySlot(),
		ScheduledEnd:    mondaySlot().Add(time.Hour),
		DurationMinutes: 60,
		Status:          models.BookingStatusCompleted,
		Currency:        "USD",
	}
	if err := db.Create(&completed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.Cancel(ctx, completed.ID, "too late", "customer"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("cancel completed: err = %v, want invalid transition", err)
	}
	if _, err := m.Confirm(ctx, completed.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("confirm completed: err = %v, want invalid transition", err)
	}
	if _, err := m.CheckOut(ctx, completed.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("check out completed: err = %v, want invalid transition", err)
	}
}

func TestCheckOutRequiresInProgress(t *testing.T) {
	m, _, db := newManager(t)
	seedSettings(t, db, 1, 12000)
	ctx := context.Background()

	booking, err := m.Create(ctx, createRequest(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Authorized, never confirmed or started.
	if _, err := m.CheckOut(ctx, booking.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
}
