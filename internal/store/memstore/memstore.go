// Package memstore provides an in-memory ledger.Store. Concurrency control
// is striped by authorization id, so transactions against different
// authorizations proceed in parallel while all mutations of one
// authorization serialize behind its stripe.
package memstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/praxishealth/authledger/pkg/ledger"
)

const shardCount = 64

const (
	errorOperationStore       = "store"
	errorSubjectAuthorization = "authorization"
	errorSubjectReservation   = "reservation"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeApplyDelta       = "apply_delta"
	errorCodeUpdateStatus     = "update_status"
	errorCodeSetTotal         = "set_total_units"
	errorCodeUpdateState      = "update_state"
)

// Store implements ledger.Store over process memory.
type Store struct {
	mu                sync.RWMutex
	shards            [shardCount]sync.Mutex
	authorizations    map[string]ledger.Authorization
	reservations      map[string]ledger.Reservation
	heldByAppointment map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		authorizations:    make(map[string]ledger.Authorization),
		reservations:      make(map[string]ledger.Reservation),
		heldByAppointment: make(map[string]string),
	}
}

// WithTx runs fn against a transactional view. Mutations apply in place
// under the authorization's stripe lock and are undone in reverse order if
// fn returns an error, so a failed transaction leaves no partial state.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	transaction := &txStore{store: store, lockedShards: make(map[uint32]struct{})}
	err := fn(ctx, transaction)
	if err != nil {
		transaction.rollback()
	}
	transaction.unlockAll()
	return err
}

func (store *Store) CreateAuthorization(ctx context.Context, authorization ledger.Authorization) error {
	return store.single(authorization.ID(), func(transaction *txStore) error {
		return transaction.CreateAuthorization(ctx, authorization)
	})
}

func (store *Store) GetAuthorization(ctx context.Context, id ledger.AuthorizationID) (ledger.Authorization, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.authorizationLocked(id)
}

func (store *Store) ApplyDelta(ctx context.Context, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	var updated ledger.Authorization
	err := store.single(id, func(transaction *txStore) error {
		var applyErr error
		updated, applyErr = transaction.ApplyDelta(ctx, id, usedDelta, reservedDelta)
		return applyErr
	})
	return updated, err
}

func (store *Store) UpdateAuthorizationStatus(ctx context.Context, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	return store.single(id, func(transaction *txStore) error {
		return transaction.UpdateAuthorizationStatus(ctx, id, from, to)
	})
}

func (store *Store) SetTotalUnits(ctx context.Context, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	var updated ledger.Authorization
	err := store.single(id, func(transaction *txStore) error {
		var setErr error
		updated, setErr = transaction.SetTotalUnits(ctx, id, totalUnits)
		return setErr
	})
	return updated, err
}

func (store *Store) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	return store.single(reservation.AuthorizationID(), func(transaction *txStore) error {
		return transaction.CreateReservation(ctx, reservation)
	})
}

func (store *Store) GetReservation(ctx context.Context, id ledger.ReservationID) (ledger.Reservation, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	reservation, ok := store.reservations[id.String()]
	if !ok {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
	}
	return reservation, nil
}

func (store *Store) FindHeldByAppointment(ctx context.Context, id ledger.AppointmentID) (ledger.Reservation, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	reservationID, ok := store.heldByAppointment[id.String()]
	if !ok {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
	}
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
	}
	return reservation, nil
}

func (store *Store) UpdateReservationState(ctx context.Context, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	reservation, err := store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	return store.single(reservation.AuthorizationID(), func(transaction *txStore) error {
		return transaction.UpdateReservationState(ctx, id, from, to)
	})
}

func (store *Store) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	stale := make([]ledger.Reservation, 0)
	for _, reservation := range store.reservations {
		if reservation.State() == ledger.ReservationStateHeld && reservation.CreatedAt().Before(cutoff) {
			stale = append(stale, reservation)
		}
	}
	sort.Slice(stale, func(left, right int) bool {
		return stale[left].CreatedAt().Before(stale[right].CreatedAt())
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// single runs one mutation as its own transaction under the stripe lock.
func (store *Store) single(id ledger.AuthorizationID, fn func(transaction *txStore) error) error {
	transaction := &txStore{store: store, lockedShards: make(map[uint32]struct{})}
	transaction.lockAuthorization(id)
	err := fn(transaction)
	if err != nil {
		transaction.rollback()
	}
	transaction.unlockAll()
	return err
}

func (store *Store) authorizationLocked(id ledger.AuthorizationID) (ledger.Authorization, error) {
	authorization, ok := store.authorizations[id.String()]
	if !ok {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeGet, ledger.ErrAuthorizationNotFound)
	}
	return authorization, nil
}

func shardFor(id ledger.AuthorizationID) uint32 {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(id.String()))
	return hash.Sum32() % shardCount
}

// txStore applies mutations in place and journals the undo for rollback.
type txStore struct {
	store        *Store
	lockedShards map[uint32]struct{}
	journal      []func()
}

func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) lockAuthorization(id ledger.AuthorizationID) {
	shard := shardFor(id)
	if _, held := transaction.lockedShards[shard]; held {
		return
	}
	transaction.store.shards[shard].Lock()
	transaction.lockedShards[shard] = struct{}{}
}

func (transaction *txStore) unlockAll() {
	for shard := range transaction.lockedShards {
		transaction.store.shards[shard].Unlock()
	}
	transaction.lockedShards = make(map[uint32]struct{})
}

func (transaction *txStore) rollback() {
	transaction.store.mu.Lock()
	defer transaction.store.mu.Unlock()
	for position := len(transaction.journal) - 1; position >= 0; position-- {
		transaction.journal[position]()
	}
	transaction.journal = nil
}

func (transaction *txStore) CreateAuthorization(ctx context.Context, authorization ledger.Authorization) error {
	transaction.lockAuthorization(authorization.ID())
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	key := authorization.ID().String()
	if _, exists := store.authorizations[key]; exists {
		return wrapStoreError(errorSubjectAuthorization, errorCodeDuplicate, ledger.ErrAuthorizationExists)
	}
	store.authorizations[key] = authorization
	transaction.journal = append(transaction.journal, func() {
		delete(store.authorizations, key)
	})
	return nil
}

func (transaction *txStore) GetAuthorization(ctx context.Context, id ledger.AuthorizationID) (ledger.Authorization, error) {
	transaction.lockAuthorization(id)
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.authorizationLocked(id)
}

func (transaction *txStore) ApplyDelta(ctx context.Context, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	transaction.lockAuthorization(id)
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, err := store.authorizationLocked(id)
	if err != nil {
		return ledger.Authorization{}, err
	}
	updated, err := ledger.NewAuthorization(
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
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeApplyDelta, err)
	}
	key := id.String()
	store.authorizations[key] = updated
	transaction.journal = append(transaction.journal, func() {
		store.authorizations[key] = previous
	})
	return updated, nil
}

func (transaction *txStore) UpdateAuthorizationStatus(ctx context.Context, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	transaction.lockAuthorization(id)
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, err := store.authorizationLocked(id)
	if err != nil {
		return err
	}
	if previous.Status() != from {
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, fmt.Errorf("%w: status is %s", ledger.ErrInvalidAuthorizationStatus, previous.Status()))
	}
	updated, err := ledger.NewAuthorization(
		previous.ID(),
		previous.PatientID(),
		previous.TotalUnits(),
		previous.UsedUnits(),
		previous.ReservedUnits(),
		to,
		previous.StartDate(),
		previous.EndDate(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, err)
	}
	key := id.String()
	store.authorizations[key] = updated
	transaction.journal = append(transaction.journal, func() {
		store.authorizations[key] = previous
	})
	return nil
}

func (transaction *txStore) SetTotalUnits(ctx context.Context, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	transaction.lockAuthorization(id)
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	previous, err := store.authorizationLocked(id)
	if err != nil {
		return ledger.Authorization{}, err
	}
	updated, err := ledger.NewAuthorization(
		previous.ID(),
		previous.PatientID(),
		totalUnits,
		previous.UsedUnits(),
		previous.ReservedUnits(),
		previous.Status(),
		previous.StartDate(),
		previous.EndDate(),
	)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeSetTotal, err)
	}
	key := id.String()
	store.authorizations[key] = updated
	transaction.journal = append(transaction.journal, func() {
		store.authorizations[key] = previous
	})
	return updated, nil
}

func (transaction *txStore) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	transaction.lockAuthorization(reservation.AuthorizationID())
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	key := reservation.ID().String()
	if _, exists := store.reservations[key]; exists {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	appointmentKey := reservation.AppointmentID().String()
	if _, exists := store.heldByAppointment[appointmentKey]; exists {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	store.reservations[key] = reservation
	store.heldByAppointment[appointmentKey] = key
	transaction.journal = append(transaction.journal, func() {
		delete(store.reservations, key)
		delete(store.heldByAppointment, appointmentKey)
	})
	return nil
}

func (transaction *txStore) GetReservation(ctx context.Context, id ledger.ReservationID) (ledger.Reservation, error) {
	reservation, err := transaction.store.GetReservation(ctx, id)
	if err != nil {
		return ledger.Reservation{}, err
	}
	transaction.lockAuthorization(reservation.AuthorizationID())
	// Re-read under the stripe lock: the first read raced concurrent writers.
	return transaction.store.GetReservation(ctx, id)
}

func (transaction *txStore) FindHeldByAppointment(ctx context.Context, id ledger.AppointmentID) (ledger.Reservation, error) {
	reservation, err := transaction.store.FindHeldByAppointment(ctx, id)
	if err != nil {
		return ledger.Reservation{}, err
	}
	transaction.lockAuthorization(reservation.AuthorizationID())
	return transaction.store.FindHeldByAppointment(ctx, id)
}

func (transaction *txStore) UpdateReservationState(ctx context.Context, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	reservation, err := transaction.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	if reservation.State() != from {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, ledger.ErrReservationClosed)
	}
	updated, err := ledger.NewReservation(
		reservation.ID(),
		reservation.AuthorizationID(),
		reservation.AppointmentID(),
		reservation.Units(),
		to,
		reservation.CreatedAt(),
		reservation.Metadata(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, err)
	}
	key := id.String()
	appointmentKey := reservation.AppointmentID().String()
	store.reservations[key] = updated
	indexedID, indexed := store.heldByAppointment[appointmentKey]
	if to.Terminal() && indexed && indexedID == key {
		delete(store.heldByAppointment, appointmentKey)
	}
	transaction.journal = append(transaction.journal, func() {
		store.reservations[key] = reservation
		if to.Terminal() && indexed && indexedID == key {
			store.heldByAppointment[appointmentKey] = key
		}
	})
	return nil
}

func (transaction *txStore) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	return transaction.store.ListStaleHeld(ctx, cutoff, limit)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
