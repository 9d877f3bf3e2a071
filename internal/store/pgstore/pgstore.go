// Package pgstore implements ledger.Store directly over pgx for deployments
// that run Postgres without GORM. The schema matches gormstore's tables; the
// guarded counter update is one conditional UPDATE ... RETURNING statement.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxishealth/authledger/pkg/ledger"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"

	errorSubjectAuthorization = "authorization"
	errorSubjectReservation   = "reservation"
	errorSubjectTransaction   = "transaction"
	errorCodeBegin            = "begin"
	errorCodeCommit           = "commit"
	errorCodeCreate           = "create"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeApplyDelta       = "apply_delta"
	errorCodeUpdateStatus     = "update_status"
	errorCodeSetTotal         = "set_total_units"
	errorCodeUpdateState      = "update_state"

	sqlInsertAuthorization = `
		insert into authorizations(
			authorization_id, patient_id, total_units, used_units, reserved_units, status, start_date, end_date, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`

	sqlSelectAuthorization = `
		select authorization_id, patient_id, total_units, used_units, reserved_units, status, start_date, end_date
		from authorizations
		where authorization_id = $1
	`

	sqlSelectAuthorizationForUpdate = sqlSelectAuthorization + `
		for update
	`

	sqlApplyDelta = `
		update authorizations
		set used_units = used_units + $2,
		    reserved_units = reserved_units + $3,
		    updated_at = now()
		where authorization_id = $1
		  and used_units + $2 >= 0
		  and reserved_units + $3 >= 0
		  and used_units + reserved_units + $2 + $3 <= total_units
		returning authorization_id, patient_id, total_units, used_units, reserved_units, status, start_date, end_date
	`

	sqlUpdateAuthorizationStatus = `
		update authorizations
		set status = $3, updated_at = now()
		where authorization_id = $1 and status = $2
	`

	sqlSetTotalUnits = `
		update authorizations
		set total_units = $2, updated_at = now()
		where authorization_id = $1 and used_units + reserved_units <= $2
		returning authorization_id, patient_id, total_units, used_units, reserved_units, status, start_date, end_date
	`

	sqlInsertReservation = `
		insert into reservations(
			reservation_id, authorization_id, appointment_id, held_appointment_id, units, state, metadata, created_at, updated_at
		)
		values($1, $2, $3, $3, $4, $5, coalesce(nullif($6,''),'{}')::jsonb, $7, now())
	`

	sqlSelectReservation = `
		select reservation_id, authorization_id, appointment_id, units, state, metadata::text, created_at
		from reservations
		where reservation_id = $1
	`

	sqlSelectHeldByAppointment = `
		select reservation_id, authorization_id, appointment_id, units, state, metadata::text, created_at
		from reservations
		where held_appointment_id = $1
	`

	sqlUpdateReservationState = `
		update reservations
		set state = $3,
		    held_appointment_id = case when $3 in ('committed','released') then null else held_appointment_id end,
		    updated_at = now()
		where reservation_id = $1 and state = $2
	`

	sqlListStaleHeld = `
		select reservation_id, authorization_id, appointment_id, units, state, metadata::text, created_at
		from reservations
		where state = 'held' and created_at < $1
		order by created_at asc
		limit $2
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, storeUnavailable(err))
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, storeUnavailable(err))
	}
	return nil
}

func (store *Store) CreateAuthorization(ctx context.Context, authorization ledger.Authorization) error {
	return createAuthorization(ctx, store.pool, authorization)
}

func (store *Store) GetAuthorization(ctx context.Context, id ledger.AuthorizationID) (ledger.Authorization, error) {
	return getAuthorization(ctx, store.pool, id, sqlSelectAuthorization)
}

func (store *Store) ApplyDelta(ctx context.Context, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	return applyDelta(ctx, store.pool, id, usedDelta, reservedDelta)
}

func (store *Store) UpdateAuthorizationStatus(ctx context.Context, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	return updateAuthorizationStatus(ctx, store.pool, id, from, to)
}

func (store *Store) SetTotalUnits(ctx context.Context, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	return setTotalUnits(ctx, store.pool, id, totalUnits)
}

func (store *Store) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	return createReservation(ctx, store.pool, reservation)
}

func (store *Store) GetReservation(ctx context.Context, id ledger.ReservationID) (ledger.Reservation, error) {
	return getReservation(ctx, store.pool, id, sqlSelectReservation)
}

func (store *Store) FindHeldByAppointment(ctx context.Context, id ledger.AppointmentID) (ledger.Reservation, error) {
	return findHeldByAppointment(ctx, store.pool, id)
}

func (store *Store) UpdateReservationState(ctx context.Context, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	return updateReservationState(ctx, store.pool, id, from, to)
}

func (store *Store) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	return listStaleHeld(ctx, store.pool, cutoff, limit)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) CreateAuthorization(ctx context.Context, authorization ledger.Authorization) error {
	return createAuthorization(ctx, store.tx, authorization)
}

func (store *TxStore) GetAuthorization(ctx context.Context, id ledger.AuthorizationID) (ledger.Authorization, error) {
	return getAuthorization(ctx, store.tx, id, sqlSelectAuthorizationForUpdate)
}

func (store *TxStore) ApplyDelta(ctx context.Context, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	return applyDelta(ctx, store.tx, id, usedDelta, reservedDelta)
}

func (store *TxStore) UpdateAuthorizationStatus(ctx context.Context, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	return updateAuthorizationStatus(ctx, store.tx, id, from, to)
}

func (store *TxStore) SetTotalUnits(ctx context.Context, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	return setTotalUnits(ctx, store.tx, id, totalUnits)
}

func (store *TxStore) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	return createReservation(ctx, store.tx, reservation)
}

func (store *TxStore) GetReservation(ctx context.Context, id ledger.ReservationID) (ledger.Reservation, error) {
	return getReservation(ctx, store.tx, id, sqlSelectReservation)
}

func (store *TxStore) FindHeldByAppointment(ctx context.Context, id ledger.AppointmentID) (ledger.Reservation, error) {
	return findHeldByAppointment(ctx, store.tx, id)
}

func (store *TxStore) UpdateReservationState(ctx context.Context, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	return updateReservationState(ctx, store.tx, id, from, to)
}

func (store *TxStore) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	return listStaleHeld(ctx, store.tx, cutoff, limit)
}

func createAuthorization(ctx context.Context, runner querier, authorization ledger.Authorization) error {
	_, err := runner.Exec(ctx, sqlInsertAuthorization,
		authorization.ID().String(),
		authorization.PatientID().String(),
		authorization.TotalUnits().Int64(),
		authorization.UsedUnits(),
		authorization.ReservedUnits(),
		authorization.Status().String(),
		authorization.StartDate(),
		authorization.EndDate(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAuthorization, errorCodeDuplicate, ledger.ErrAuthorizationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAuthorization, errorCodeCreate, storeUnavailable(err))
	}
	return nil
}

func getAuthorization(ctx context.Context, runner querier, id ledger.AuthorizationID, query string) (ledger.Authorization, error) {
	row := runner.QueryRow(ctx, query, id.String())
	authorization, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeGet, ledger.ErrAuthorizationNotFound)
	}
	if err != nil {
		return ledger.Authorization{}, err
	}
	return authorization, nil
}

func applyDelta(ctx context.Context, runner querier, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	row := runner.QueryRow(ctx, sqlApplyDelta, id.String(), usedDelta, reservedDelta)
	authorization, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := getAuthorization(ctx, runner, id, sqlSelectAuthorization); getErr != nil {
			return ledger.Authorization{}, getErr
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeApplyDelta, ledger.ErrInvariantViolation)
	}
	if err != nil {
		return ledger.Authorization{}, err
	}
	return authorization, nil
}

func updateAuthorizationStatus(ctx context.Context, runner querier, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	tag, err := runner.Exec(ctx, sqlUpdateAuthorizationStatus, id.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, storeUnavailable(err))
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := getAuthorization(ctx, runner, id, sqlSelectAuthorization); getErr != nil {
			return getErr
		}
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, ledger.ErrInvalidAuthorizationStatus)
	}
	return nil
}

func setTotalUnits(ctx context.Context, runner querier, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	row := runner.QueryRow(ctx, sqlSetTotalUnits, id.String(), totalUnits.Int64())
	authorization, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := getAuthorization(ctx, runner, id, sqlSelectAuthorization); getErr != nil {
			return ledger.Authorization{}, getErr
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeSetTotal, ledger.ErrInvariantViolation)
	}
	if err != nil {
		return ledger.Authorization{}, err
	}
	return authorization, nil
}

func createReservation(ctx context.Context, runner querier, reservation ledger.Reservation) error {
	_, err := runner.Exec(ctx, sqlInsertReservation,
		reservation.ID().String(),
		reservation.AuthorizationID().String(),
		reservation.AppointmentID().String(),
		reservation.Units().Int64(),
		reservation.State().String(),
		reservation.Metadata().String(),
		reservation.CreatedAt(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, storeUnavailable(err))
	}
	return nil
}

func getReservation(ctx context.Context, runner querier, id ledger.ReservationID, query string) (ledger.Reservation, error) {
	row := runner.QueryRow(ctx, query, id.String())
	reservation, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
	}
	if err != nil {
		return ledger.Reservation{}, err
	}
	return reservation, nil
}

func findHeldByAppointment(ctx context.Context, runner querier, id ledger.AppointmentID) (ledger.Reservation, error) {
	row := runner.QueryRow(ctx, sqlSelectHeldByAppointment, id.String())
	reservation, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
	}
	if err != nil {
		return ledger.Reservation{}, err
	}
	return reservation, nil
}

func updateReservationState(ctx context.Context, runner querier, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	tag, err := runner.Exec(ctx, sqlUpdateReservationState, id.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, storeUnavailable(err))
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := getReservation(ctx, runner, id, sqlSelectReservation); getErr != nil {
			return getErr
		}
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, ledger.ErrReservationClosed)
	}
	return nil
}

func listStaleHeld(ctx context.Context, runner querier, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	rows, err := runner.Query(ctx, sqlListStaleHeld, cutoff, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, storeUnavailable(err))
	}
	defer rows.Close()
	reservations := make([]ledger.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, storeUnavailable(err))
	}
	return reservations, nil
}

func scanAuthorization(row pgx.Row) (ledger.Authorization, error) {
	var (
		authorizationIDValue string
		patientIDValue       string
		totalUnitsValue      int64
		usedUnitsValue       int64
		reservedUnitsValue   int64
		statusValue          string
		startDate            time.Time
		endDate              time.Time
	)
	if err := row.Scan(&authorizationIDValue, &patientIDValue, &totalUnitsValue, &usedUnitsValue, &reservedUnitsValue, &statusValue, &startDate, &endDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Authorization{}, err
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeGet, storeUnavailable(err))
	}
	authorizationID, err := ledger.NewAuthorizationID(authorizationIDValue)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	patientID, err := ledger.NewPatientID(patientIDValue)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	totalUnits, err := ledger.NewUnits(totalUnitsValue)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	status, err := ledger.ParseAuthorizationStatus(statusValue)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	authorization, err := ledger.NewAuthorization(authorizationID, patientID, totalUnits, usedUnitsValue, reservedUnitsValue, status, startDate, endDate)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	return authorization, nil
}

func scanReservation(row pgx.Row) (ledger.Reservation, error) {
	var (
		reservationIDValue   string
		authorizationIDValue string
		appointmentIDValue   string
		unitsValue           int64
		stateValue           string
		metadataValue        string
		createdAt            time.Time
	)
	if err := row.Scan(&reservationIDValue, &authorizationIDValue, &appointmentIDValue, &unitsValue, &stateValue, &metadataValue, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Reservation{}, err
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, storeUnavailable(err))
	}
	reservationID, err := ledger.NewReservationID(reservationIDValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	authorizationID, err := ledger.NewAuthorizationID(authorizationIDValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	appointmentID, err := ledger.NewAppointmentID(appointmentIDValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	units, err := ledger.NewUnits(unitsValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	state, err := ledger.ParseReservationState(stateValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	reservation, err := ledger.NewReservation(reservationID, authorizationID, appointmentID, units, state, createdAt, metadata)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func storeUnavailable(err error) error {
	return errors.Join(ledger.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
