package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/praxishealth/authledger/pkg/ledger"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"

	errorSubjectAuthorization = "authorization"
	errorSubjectReservation   = "reservation"
	errorCodeCreate           = "create"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeApplyDelta       = "apply_delta"
	errorCodeUpdateStatus     = "update_status"
	errorCodeSetTotal         = "set_total_units"
	errorCodeUpdateState      = "update_state"
)

// Store implements ledger.Store using GORM (Postgres or SQLite).
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Authorization{}, &Reservation{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAuthorization(ctx context.Context, authorization ledger.Authorization) error {
	model := Authorization{
		AuthorizationID: authorization.ID().String(),
		PatientID:       authorization.PatientID().String(),
		TotalUnits:      authorization.TotalUnits().Int64(),
		UsedUnits:       authorization.UsedUnits(),
		ReservedUnits:   authorization.ReservedUnits(),
		Status:          authorization.Status().String(),
		StartDate:       authorization.StartDate(),
		EndDate:         authorization.EndDate(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAuthorization, errorCodeDuplicate, ledger.ErrAuthorizationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAuthorization, errorCodeCreate, storeUnavailable(err))
	}
	return nil
}

func (store *Store) GetAuthorization(ctx context.Context, id ledger.AuthorizationID) (ledger.Authorization, error) {
	var model Authorization
	err := store.db.WithContext(ctx).
		Where("authorization_id = ?", id.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeGet, ledger.ErrAuthorizationNotFound)
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeGet, storeUnavailable(err))
	}
	return mapAuthorization(model)
}

// ApplyDelta performs the guarded counter update as a single conditional
// UPDATE: the invariant check and the increment are one statement, so no
// interleaving of concurrent callers can overdraw the authorization.
func (store *Store) ApplyDelta(ctx context.Context, id ledger.AuthorizationID, usedDelta int64, reservedDelta int64) (ledger.Authorization, error) {
	result := store.db.WithContext(ctx).
		Model(&Authorization{}).
		Where("authorization_id = ?", id.String()).
		Where("used_units + ? >= 0", usedDelta).
		Where("reserved_units + ? >= 0", reservedDelta).
		Where("used_units + reserved_units + ? <= total_units", usedDelta+reservedDelta).
		Updates(map[string]interface{}{
			"used_units":     gorm.Expr("used_units + ?", usedDelta),
			"reserved_units": gorm.Expr("reserved_units + ?", reservedDelta),
		})
	if result.Error != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeApplyDelta, storeUnavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetAuthorization(ctx, id); err != nil {
			return ledger.Authorization{}, err
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeApplyDelta, ledger.ErrInvariantViolation)
	}
	return store.GetAuthorization(ctx, id)
}

func (store *Store) UpdateAuthorizationStatus(ctx context.Context, id ledger.AuthorizationID, from ledger.AuthorizationStatus, to ledger.AuthorizationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Authorization{}).
		Where("authorization_id = ? AND status = ?", id.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, storeUnavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetAuthorization(ctx, id); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectAuthorization, errorCodeUpdateStatus, ledger.ErrInvalidAuthorizationStatus)
	}
	return nil
}

func (store *Store) SetTotalUnits(ctx context.Context, id ledger.AuthorizationID, totalUnits ledger.Units) (ledger.Authorization, error) {
	result := store.db.WithContext(ctx).
		Model(&Authorization{}).
		Where("authorization_id = ?", id.String()).
		Where("used_units + reserved_units <= ?", totalUnits.Int64()).
		Update("total_units", totalUnits.Int64())
	if result.Error != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeSetTotal, storeUnavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetAuthorization(ctx, id); err != nil {
			return ledger.Authorization{}, err
		}
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeSetTotal, ledger.ErrInvariantViolation)
	}
	return store.GetAuthorization(ctx, id)
}

func (store *Store) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	appointmentID := reservation.AppointmentID().String()
	model := Reservation{
		ReservationID:     reservation.ID().String(),
		AuthorizationID:   reservation.AuthorizationID().String(),
		AppointmentID:     appointmentID,
		HeldAppointmentID: &appointmentID,
		Units:             reservation.Units().Int64(),
		State:             reservation.State().String(),
		Metadata:          datatypesJSON(reservation.Metadata().String()),
		CreatedAt:         reservation.CreatedAt(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, storeUnavailable(err))
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, id ledger.ReservationID) (ledger.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Where("reservation_id = ?", id.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, storeUnavailable(err))
	}
	return mapReservation(model)
}

func (store *Store) FindHeldByAppointment(ctx context.Context, id ledger.AppointmentID) (ledger.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Where("held_appointment_id = ?", id.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, storeUnavailable(err))
	}
	return mapReservation(model)
}

// UpdateReservationState transitions held reservations conditionally; zero
// affected rows on an existing reservation means another caller already
// closed it. Terminal transitions clear the held-appointment marker so the
// appointment can be re-reserved later.
func (store *Store) UpdateReservationState(ctx context.Context, id ledger.ReservationID, from ledger.ReservationState, to ledger.ReservationState) error {
	updates := map[string]interface{}{"state": to.String()}
	if to.Terminal() {
		updates["held_appointment_id"] = nil
	}
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND state = ?", id.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, storeUnavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetReservation(ctx, id); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateState, ledger.ErrReservationClosed)
	}
	return nil
}

func (store *Store) ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Reservation, error) {
	var rows []Reservation
	query := store.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", ledger.ReservationStateHeld.String(), cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, storeUnavailable(err))
	}
	reservations := make([]ledger.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func mapAuthorization(model Authorization) (ledger.Authorization, error) {
	authorizationID, err := ledger.NewAuthorizationID(model.AuthorizationID)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	patientID, err := ledger.NewPatientID(model.PatientID)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	totalUnits, err := ledger.NewUnits(model.TotalUnits)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	status, err := ledger.ParseAuthorizationStatus(model.Status)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	authorization, err := ledger.NewAuthorization(authorizationID, patientID, totalUnits, model.UsedUnits, model.ReservedUnits, status, model.StartDate, model.EndDate)
	if err != nil {
		return ledger.Authorization{}, wrapStoreError(errorSubjectAuthorization, errorCodeInvalid, err)
	}
	return authorization, nil
}

func mapReservation(model Reservation) (ledger.Reservation, error) {
	reservationID, err := ledger.NewReservationID(model.ReservationID)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	authorizationID, err := ledger.NewAuthorizationID(model.AuthorizationID)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	appointmentID, err := ledger.NewAppointmentID(model.AppointmentID)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	units, err := ledger.NewUnits(model.Units)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	state, err := ledger.ParseReservationState(model.State)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	reservation, err := ledger.NewReservation(reservationID, authorizationID, appointmentID, units, state, model.CreatedAt, metadata)
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

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
