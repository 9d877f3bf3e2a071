package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestReserveCreatesHeldReservation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)
	appointmentID := mustAppointmentID(test, "appt-1")
	metadata := mustMetadata(test, `{"practitioner":"np-7"}`)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), appointmentID, mustUnits(test, 6), metadata)
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if reservation.State() != ReservationStateHeld {
		test.Fatalf("expected held reservation, got %s", reservation.State())
	}
	if reservation.Units() != 6 {
		test.Fatalf("expected 6 units held, got %d", reservation.Units())
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.ReservedUnits() != 6 || updated.UsedUnits() != 0 {
		test.Fatalf("expected reserved=6 used=0, got reserved=%d used=%d", updated.ReservedUnits(), updated.UsedUnits())
	}
}

func TestReserveRefusesOverdraw(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)
	metadata := mustMetadata(test, "")

	if _, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 6), metadata); err != nil {
		test.Fatalf("first reserve: %v", err)
	}
	_, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-2"), mustUnits(test, 5), metadata)
	if !errors.Is(err, ErrInsufficientUnits) {
		test.Fatalf("expected ErrInsufficientUnits, got %v", err)
	}
	if _, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-3"), mustUnits(test, 4), metadata); err != nil {
		test.Fatalf("reserve remaining capacity: %v", err)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.ReservedUnits() != 10 {
		test.Fatalf("expected reserved=10, got %d", updated.ReservedUnits())
	}
}

func TestReserveRejectsDuplicateAppointmentHold(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)
	appointmentID := mustAppointmentID(test, "appt-dup")
	metadata := mustMetadata(test, "")

	if _, err := service.Reserve(context.Background(), authorization.ID(), appointmentID, mustUnits(test, 2), metadata); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	_, err := service.Reserve(context.Background(), authorization.ID(), appointmentID, mustUnits(test, 2), metadata)
	if !errors.Is(err, ErrReservationExists) {
		test.Fatalf("expected ErrReservationExists, got %v", err)
	}
}

func TestReserveRequiresActiveAuthorization(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{name: "pending window", start: fixedNow.Add(24 * time.Hour), end: fixedNow.Add(48 * time.Hour)},
		{name: "expired window", start: fixedNow.Add(-48 * time.Hour), end: fixedNow.Add(-24 * time.Hour)},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			authorization := seedAuthorizationWindow(test, store, 10, 0, 0, testCase.start, testCase.end)
			service := mustNewService(test, store)
			_, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 1), mustMetadata(test, ""))
			if !errors.Is(err, ErrAuthorizationNotReservable) {
				test.Fatalf("expected ErrAuthorizationNotReservable, got %v", err)
			}
		})
	}
}

func TestReserveUnknownAuthorization(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	_, err := service.Reserve(context.Background(), mustAuthorizationID(test, "missing"), mustAppointmentID(test, "appt-1"), mustUnits(test, 1), mustMetadata(test, ""))
	if !errors.Is(err, ErrAuthorizationNotFound) {
		test.Fatalf("expected ErrAuthorizationNotFound, got %v", err)
	}
}

func TestConcurrentReservesNeverExceedCapacity(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)
	metadata := mustMetadata(test, "")

	const attempts = 32
	var waitGroup sync.WaitGroup
	successes := make(chan Units, attempts)
	for attempt := 0; attempt < attempts; attempt++ {
		waitGroup.Add(1)
		go func(attempt int) {
			defer waitGroup.Done()
			appointmentID := mustAppointmentID(test, fmt.Sprintf("appt-%d", attempt))
			if _, err := service.Reserve(context.Background(), authorization.ID(), appointmentID, mustUnits(test, 3), metadata); err == nil {
				successes <- 3
			}
		}(attempt)
	}
	waitGroup.Wait()
	close(successes)

	var reservedTotal int64
	for units := range successes {
		reservedTotal += units.Int64()
	}
	if reservedTotal > 10 {
		test.Fatalf("reserved %d units against a ceiling of 10", reservedTotal)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.ReservedUnits() != reservedTotal {
		test.Fatalf("expected reserved=%d, got %d", reservedTotal, updated.ReservedUnits())
	}
	if updated.UsedUnits()+updated.ReservedUnits() > updated.TotalUnits().Int64() {
		test.Fatalf("invariant violated: used=%d reserved=%d total=%d", updated.UsedUnits(), updated.ReservedUnits(), updated.TotalUnits().Int64())
	}
}

func TestCommitReclassifiesReservedToUsed(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)
	metadata := mustMetadata(test, "")

	first, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), metadata)
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if _, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-2"), mustUnits(test, 6), metadata); err != nil {
		test.Fatalf("second reserve: %v", err)
	}
	if err := service.Commit(context.Background(), first.ID()); err != nil {
		test.Fatalf("commit: %v", err)
	}

	updated := store.mustAuthorization(test, authorization.ID())
	if updated.UsedUnits() != 4 || updated.ReservedUnits() != 6 {
		test.Fatalf("expected used=4 reserved=6, got used=%d reserved=%d", updated.UsedUnits(), updated.ReservedUnits())
	}
	committed := store.mustReservation(test, first.ID())
	if committed.State() != ReservationStateCommitted {
		test.Fatalf("expected committed reservation, got %s", committed.State())
	}
}

func TestCommitIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Commit(context.Background(), reservation.ID()); err != nil {
		test.Fatalf("first commit: %v", err)
	}
	if err := service.Commit(context.Background(), reservation.ID()); err != nil {
		test.Fatalf("second commit should be idempotent success, got %v", err)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.UsedUnits() != 4 || updated.ReservedUnits() != 0 {
		test.Fatalf("counters mutated twice: used=%d reserved=%d", updated.UsedUnits(), updated.ReservedUnits())
	}
}

func TestCommitAfterReleaseFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Release(context.Background(), reservation.ID(), ReleaseUserCancelled); err != nil {
		test.Fatalf("release: %v", err)
	}
	err = service.Commit(context.Background(), reservation.ID())
	if !errors.Is(err, ErrReservationClosed) {
		test.Fatalf("expected ErrReservationClosed, got %v", err)
	}
}

func TestReleaseReturnsUnitsToPool(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 7), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Release(context.Background(), reservation.ID(), ReleaseNoShow); err != nil {
		test.Fatalf("release: %v", err)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.ReservedUnits() != 0 || updated.AvailableUnits() != 10 {
		test.Fatalf("expected full capacity restored, got reserved=%d available=%d", updated.ReservedUnits(), updated.AvailableUnits())
	}
	released := store.mustReservation(test, reservation.ID())
	if released.State() != ReservationStateReleased {
		test.Fatalf("expected released reservation, got %s", released.State())
	}
}

func TestReleaseAfterCommitFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	service := mustNewService(test, store)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Commit(context.Background(), reservation.ID()); err != nil {
		test.Fatalf("commit: %v", err)
	}
	err = service.Release(context.Background(), reservation.ID(), ReleaseUserCancelled)
	if !errors.Is(err, ErrReservationClosed) {
		test.Fatalf("expected ErrReservationClosed, got %v", err)
	}
}

func TestReleaseRejectsUnknownReason(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	err := service.Release(context.Background(), mustReservationID(test, "res-1"), ReleaseReason("weather"))
	if !errors.Is(err, ErrInvalidReleaseReason) {
		test.Fatalf("expected ErrInvalidReleaseReason, got %v", err)
	}
}

func TestCommitExhaustsAuthorization(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 4, 0, 0)
	service := mustNewService(test, store)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Commit(context.Background(), reservation.ID()); err != nil {
		test.Fatalf("commit: %v", err)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.Status() != AuthorizationStatusExhausted {
		test.Fatalf("expected exhausted authorization, got %s", updated.Status())
	}
	_, err = service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-2"), mustUnits(test, 1), mustMetadata(test, ""))
	if !errors.Is(err, ErrAuthorizationNotReservable) {
		test.Fatalf("expected ErrAuthorizationNotReservable, got %v", err)
	}
}

func TestCommitAllowedAfterWindowExpiry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	authorization := seedAuthorization(test, store, 10, 0, 0)
	clock := &steppingClock{now: fixedNow}
	service := mustNewServiceWithClock(test, store, clock.Now)

	reservation, err := service.Reserve(context.Background(), authorization.ID(), mustAppointmentID(test, "appt-1"), mustUnits(test, 4), mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	// The window closes between scheduling and session completion; the
	// delivered session stays billable.
	clock.Advance(90 * 24 * time.Hour)
	if err := service.Commit(context.Background(), reservation.ID()); err != nil {
		test.Fatalf("commit after expiry: %v", err)
	}
	updated := store.mustAuthorization(test, authorization.ID())
	if updated.UsedUnits() != 4 {
		test.Fatalf("expected used=4, got %d", updated.UsedUnits())
	}
}

func TestReserveValidatesArguments(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	ctx := context.Background()

	_, err := service.Reserve(ctx, AuthorizationID{}, mustAppointmentID(test, "appt"), mustUnits(test, 1), mustMetadata(test, ""))
	if !errors.Is(err, ErrInvalidAuthorizationID) {
		test.Fatalf("expected ErrInvalidAuthorizationID, got %v", err)
	}
	_, err = service.Reserve(ctx, mustAuthorizationID(test, "auth"), AppointmentID{}, mustUnits(test, 1), mustMetadata(test, ""))
	if !errors.Is(err, ErrInvalidAppointmentID) {
		test.Fatalf("expected ErrInvalidAppointmentID, got %v", err)
	}
	_, err = service.Reserve(ctx, mustAuthorizationID(test, "auth"), mustAppointmentID(test, "appt"), Units(0), mustMetadata(test, ""))
	if !errors.Is(err, ErrInvalidUnits) {
		test.Fatalf("expected ErrInvalidUnits, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	_, err := NewService(nil, func() time.Time { return fixedNow })
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	_, err = NewService(newStubStore(test), nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}

var fixedNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *steppingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *steppingClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(delta)
}

// stubStore is a synchronized in-memory Store. WithTx serializes whole
// transactions so interleaving matches a per-authorization row lock.
type stubStore struct {
	txMu              sync.Mutex
	mu                sync.Mutex
	authorizations    map[string]Authorization
	reservations      map[string]Reservation
	heldByAppointment map[string]string

	getAuthorizationError  error
	applyDeltaError        error
	createReservationError error
	getReservationError    error
	updateStateError       error
	listStaleError         error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		authorizations:    make(map[string]Authorization),
		reservations:      make(map[string]Reservation),
		heldByAppointment: make(map[string]string),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	return fn(ctx, store)
}

func (store *stubStore) CreateAuthorization(ctx context.Context, authorization Authorization) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := authorization.ID().String()
	if _, exists := store.authorizations[key]; exists {
		return ErrAuthorizationExists
	}
	store.authorizations[key] = authorization
	return nil
}

func (store *stubStore) GetAuthorization(ctx context.Context, id AuthorizationID) (Authorization, error) {
	if store.getAuthorizationError != nil {
		return Authorization{}, store.getAuthorizationError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	authorization, ok := store.authorizations[id.String()]
	if !ok {
		return Authorization{}, ErrAuthorizationNotFound
	}
	return authorization, nil
}

func (store *stubStore) ApplyDelta(ctx context.Context, id AuthorizationID, usedDelta int64, reservedDelta int64) (Authorization, error) {
	if store.applyDeltaError != nil {
		return Authorization{}, store.applyDeltaError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, ok := store.authorizations[id.String()]
	if !ok {
		return Authorization{}, ErrAuthorizationNotFound
	}
	updated, err := NewAuthorization(
		previous.ID(),
		previous.PatientID(),
		previous.TotalUnits(),
		previous.UsedUnits()+usedDelta,
		previous.ReservedUnits()+reservedDelta,
		previous.Status(),
		previous.StartDate(),
		previous.EndDate(),
	)
	if err != nil {
		return Authorization{}, err
	}
	store.authorizations[id.String()] = updated
	return updated, nil
}

func (store *stubStore) UpdateAuthorizationStatus(ctx context.Context, id AuthorizationID, from AuthorizationStatus, to AuthorizationStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, ok := store.authorizations[id.String()]
	if !ok {
		return ErrAuthorizationNotFound
	}
	if previous.Status() != from {
		return ErrInvalidAuthorizationStatus
	}
	updated, err := NewAuthorization(previous.ID(), previous.PatientID(), previous.TotalUnits(), previous.UsedUnits(), previous.ReservedUnits(), to, previous.StartDate(), previous.EndDate())
	if err != nil {
		return err
	}
	store.authorizations[id.String()] = updated
	return nil
}

func (store *stubStore) SetTotalUnits(ctx context.Context, id AuthorizationID, totalUnits Units) (Authorization, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, ok := store.authorizations[id.String()]
	if !ok {
		return Authorization{}, ErrAuthorizationNotFound
	}
	updated, err := NewAuthorization(previous.ID(), previous.PatientID(), totalUnits, previous.UsedUnits(), previous.ReservedUnits(), previous.Status(), previous.StartDate(), previous.EndDate())
	if err != nil {
		return Authorization{}, err
	}
	store.authorizations[id.String()] = updated
	return updated, nil
}

func (store *stubStore) CreateReservation(ctx context.Context, reservation Reservation) error {
	if store.createReservationError != nil {
		return store.createReservationError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	key := reservation.ID().String()
	appointmentKey := reservation.AppointmentID().String()
	if _, exists := store.reservations[key]; exists {
		return ErrReservationExists
	}
	if _, exists := store.heldByAppointment[appointmentKey]; exists {
		return ErrReservationExists
	}
	store.reservations[key] = reservation
	store.heldByAppointment[appointmentKey] = key
	return nil
}

func (store *stubStore) GetReservation(ctx context.Context, id ReservationID) (Reservation, error) {
	if store.getReservationError != nil {
		return Reservation{}, store.getReservationError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[id.String()]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return reservation, nil
}

func (store *stubStore) FindHeldByAppointment(ctx context.Context, id AppointmentID) (Reservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	reservationID, ok := store.heldByAppointment[id.String()]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return store.reservations[reservationID], nil
}

func (store *stubStore) UpdateReservationState(ctx context.Context, id ReservationID, from ReservationState, to ReservationState) error {
	if store.updateStateError != nil {
		return store.updateStateError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, ok := store.reservations[id.String()]
	if !ok {
		return ErrReservationNotFound
	}
	if previous.State() != from {
		return ErrReservationClosed
	}
	updated, err := NewReservation(previous.ID(), previous.AuthorizationID(), previous.AppointmentID(), previous.Units(), to, previous.CreatedAt(), previous.Metadata())
	if err != nil {
		return err
	}
	store.reservations[id.String()] = updated
	if to.Terminal() {
		delete(store.heldByAppointment, previous.AppointmentID().String())
	}
	return nil
}

func (store *stubStore) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error) {
	if store.listStaleError != nil {
		return nil, store.listStaleError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	stale := make([]Reservation, 0)
	for _, reservation := range store.reservations {
		if reservation.State() == ReservationStateHeld && reservation.CreatedAt().Before(cutoff) {
			stale = append(stale, reservation)
		}
	}
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (store *stubStore) mustAuthorization(test *testing.T, id AuthorizationID) Authorization {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	authorization, ok := store.authorizations[id.String()]
	if !ok {
		test.Fatalf("authorization %s not found", id.String())
	}
	return authorization
}

func (store *stubStore) mustReservation(test *testing.T, id ReservationID) Reservation {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[id.String()]
	if !ok {
		test.Fatalf("reservation %s not found", id.String())
	}
	return reservation
}

var seedCounter struct {
	mu    sync.Mutex
	value int
}

func nextSeedID() string {
	seedCounter.mu.Lock()
	defer seedCounter.mu.Unlock()
	seedCounter.value++
	return fmt.Sprintf("auth-%d", seedCounter.value)
}

func seedAuthorization(test *testing.T, store *stubStore, total int64, used int64, reserved int64) Authorization {
	test.Helper()
	return seedAuthorizationWindow(test, store, total, used, reserved, fixedNow.Add(-30*24*time.Hour), fixedNow.Add(30*24*time.Hour))
}

func seedAuthorizationWindow(test *testing.T, store *stubStore, total int64, used int64, reserved int64, start time.Time, end time.Time) Authorization {
	test.Helper()
	authorization := mustAuthorizationRecord(test, nextSeedID(), total, used, reserved, start, end)
	if err := store.CreateAuthorization(context.Background(), authorization); err != nil {
		test.Fatalf("seed authorization: %v", err)
	}
	return authorization
}

func mustAuthorizationRecord(test *testing.T, rawID string, total int64, used int64, reserved int64, start time.Time, end time.Time) Authorization {
	test.Helper()
	status := AuthorizationStatusActive
	if fixedNow.Before(start) {
		status = AuthorizationStatusPending
	}
	authorization, err := NewAuthorization(
		mustAuthorizationID(test, rawID),
		mustPatientID(test, "patient-1"),
		mustUnits(test, total),
		used,
		reserved,
		status,
		start,
		end,
	)
	if err != nil {
		test.Fatalf("authorization: %v", err)
	}
	return authorization
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	return mustNewServiceWithClock(test, store, func() time.Time { return fixedNow }, options...)
}

func mustNewServiceWithClock(test *testing.T, store Store, now func() time.Time, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAuthorizationID(test *testing.T, raw string) AuthorizationID {
	test.Helper()
	value, err := NewAuthorizationID(raw)
	if err != nil {
		test.Fatalf("authorization id: %v", err)
	}
	return value
}

func mustPatientID(test *testing.T, raw string) PatientID {
	test.Helper()
	value, err := NewPatientID(raw)
	if err != nil {
		test.Fatalf("patient id: %v", err)
	}
	return value
}

func mustAppointmentID(test *testing.T, raw string) AppointmentID {
	test.Helper()
	value, err := NewAppointmentID(raw)
	if err != nil {
		test.Fatalf("appointment id: %v", err)
	}
	return value
}

func mustReservationID(test *testing.T, raw string) ReservationID {
	test.Helper()
	value, err := NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return value
}

func mustUnits(test *testing.T, raw int64) Units {
	test.Helper()
	value, err := NewUnits(raw)
	if err != nil {
		test.Fatalf("units: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustJustification(test *testing.T, raw string) Justification {
	test.Helper()
	value, err := NewJustification(raw)
	if err != nil {
		test.Fatalf("justification: %v", err)
	}
	return value
}
