package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Units is a positive count of billable service units.
type Units int64

// NewUnits validates a unit count and ensures it is strictly positive.
func NewUnits(raw int64) (Units, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	return Units(raw), nil
}

// Int64 returns the raw unit count.
func (units Units) Int64() int64 {
	return int64(units)
}

// AuthorizationID identifies an insurance authorization.
type AuthorizationID struct {
	value string
}

// PatientID identifies the patient an authorization belongs to.
type PatientID struct {
	value string
}

// AppointmentID identifies the scheduling entity a reservation holds units for.
type AppointmentID struct {
	value string
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// Justification carries the free-text rationale attached to a manual adjustment.
type Justification struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewAuthorizationID validates and normalizes an authorization id.
func NewAuthorizationID(raw string) (AuthorizationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AuthorizationID{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	return AuthorizationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AuthorizationID) String() string {
	return id.value
}

// NewPatientID validates and normalizes a patient id.
func NewPatientID(raw string) (PatientID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PatientID{}, fmt.Errorf("%w: empty value", ErrInvalidPatientID)
	}
	return PatientID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PatientID) String() string {
	return id.value
}

// NewAppointmentID validates and normalizes an appointment id.
func NewAppointmentID(raw string) (AppointmentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AppointmentID{}, fmt.Errorf("%w: empty value", ErrInvalidAppointmentID)
	}
	return AppointmentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AppointmentID) String() string {
	return id.value
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// NewJustification validates a non-empty justification text.
func NewJustification(raw string) (Justification, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Justification{}, fmt.Errorf("%w: empty value", ErrInvalidJustification)
	}
	return Justification{value: trimmed}, nil
}

// String returns the normalized justification text.
func (justification Justification) String() string {
	return justification.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// AuthorizationStatus defines the authorization lifecycle.
type AuthorizationStatus string

const (
	AuthorizationStatusPending   AuthorizationStatus = "pending"
	AuthorizationStatusActive    AuthorizationStatus = "active"
	AuthorizationStatusExpired   AuthorizationStatus = "expired"
	AuthorizationStatusExhausted AuthorizationStatus = "exhausted"
	AuthorizationStatusCancelled AuthorizationStatus = "cancelled"
)

// String returns the status value.
func (status AuthorizationStatus) String() string {
	return string(status)
}

// ParseAuthorizationStatus validates a raw status value.
func ParseAuthorizationStatus(raw string) (AuthorizationStatus, error) {
	switch AuthorizationStatus(raw) {
	case AuthorizationStatusPending, AuthorizationStatusActive, AuthorizationStatusExpired, AuthorizationStatusExhausted, AuthorizationStatusCancelled:
		return AuthorizationStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthorizationStatus, raw)
	}
}

// ReservationState defines the reservation lifecycle.
type ReservationState string

const (
	ReservationStateHeld      ReservationState = "held"
	ReservationStateCommitted ReservationState = "committed"
	ReservationStateReleased  ReservationState = "released"
)

// String returns the state value.
func (state ReservationState) String() string {
	return string(state)
}

// ParseReservationState validates a raw state value.
func ParseReservationState(raw string) (ReservationState, error) {
	switch ReservationState(raw) {
	case ReservationStateHeld, ReservationStateCommitted, ReservationStateReleased:
		return ReservationState(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationState, raw)
	}
}

// Terminal reports whether the state permits no further transitions.
func (state ReservationState) Terminal() bool {
	return state == ReservationStateCommitted || state == ReservationStateReleased
}

// ReleaseReason tags why a held reservation was returned to the pool.
type ReleaseReason string

const (
	ReleaseUserCancelled ReleaseReason = "user_cancelled"
	ReleaseNoShow        ReleaseReason = "no_show"
	ReleaseStaleReclaim  ReleaseReason = "stale_reclaim"
)

// String returns the reason value.
func (reason ReleaseReason) String() string {
	return string(reason)
}

// ParseReleaseReason validates a raw release reason.
func ParseReleaseReason(raw string) (ReleaseReason, error) {
	switch ReleaseReason(raw) {
	case ReleaseUserCancelled, ReleaseNoShow, ReleaseStaleReclaim:
		return ReleaseReason(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReleaseReason, raw)
	}
}

// Authorization is the ledger unit: a bounded grant of billable units for a
// patient over a validity window. The counters must satisfy
// used >= 0, reserved >= 0 and used + reserved <= total after every mutation.
type Authorization struct {
	id            AuthorizationID
	patientID     PatientID
	totalUnits    Units
	usedUnits     int64
	reservedUnits int64
	status        AuthorizationStatus
	startDate     time.Time
	endDate       time.Time
}

// NewAuthorization validates and assembles an authorization record.
func NewAuthorization(id AuthorizationID, patientID PatientID, totalUnits Units, usedUnits int64, reservedUnits int64, status AuthorizationStatus, startDate time.Time, endDate time.Time) (Authorization, error) {
	if id == (AuthorizationID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	if patientID == (PatientID{}) {
		return Authorization{}, fmt.Errorf("%w: empty value", ErrInvalidPatientID)
	}
	if totalUnits <= 0 {
		return Authorization{}, fmt.Errorf("%w: total must be greater than zero", ErrInvalidUnits)
	}
	if _, err := ParseAuthorizationStatus(status.String()); err != nil {
		return Authorization{}, err
	}
	if !endDate.After(startDate) {
		return Authorization{}, fmt.Errorf("%w: end date must follow start date", ErrInvalidValidityWindow)
	}
	if usedUnits < 0 || reservedUnits < 0 || usedUnits+reservedUnits > totalUnits.Int64() {
		return Authorization{}, fmt.Errorf("%w: used=%d reserved=%d total=%d", ErrInvariantViolation, usedUnits, reservedUnits, totalUnits.Int64())
	}
	return Authorization{
		id:            id,
		patientID:     patientID,
		totalUnits:    totalUnits,
		usedUnits:     usedUnits,
		reservedUnits: reservedUnits,
		status:        status,
		startDate:     startDate.UTC(),
		endDate:       endDate.UTC(),
	}, nil
}

// ID returns the authorization id.
func (authorization Authorization) ID() AuthorizationID {
	return authorization.id
}

// PatientID returns the owning patient id.
func (authorization Authorization) PatientID() PatientID {
	return authorization.patientID
}

// TotalUnits returns the granted unit ceiling.
func (authorization Authorization) TotalUnits() Units {
	return authorization.totalUnits
}

// UsedUnits returns the committed unit count.
func (authorization Authorization) UsedUnits() int64 {
	return authorization.usedUnits
}

// ReservedUnits returns the provisionally held unit count.
func (authorization Authorization) ReservedUnits() int64 {
	return authorization.reservedUnits
}

// Status returns the stored lifecycle status.
func (authorization Authorization) Status() AuthorizationStatus {
	return authorization.status
}

// StartDate returns the beginning of the validity window.
func (authorization Authorization) StartDate() time.Time {
	return authorization.startDate
}

// EndDate returns the end of the validity window.
func (authorization Authorization) EndDate() time.Time {
	return authorization.endDate
}

// AvailableUnits returns the capacity not yet used or held.
func (authorization Authorization) AvailableUnits() int64 {
	return authorization.totalUnits.Int64() - authorization.usedUnits - authorization.reservedUnits
}

// EffectiveStatus derives the lifecycle status at the given instant.
// Cancelled and exhausted are sticky; the validity window drives the
// pending/active/expired transitions.
func (authorization Authorization) EffectiveStatus(at time.Time) AuthorizationStatus {
	switch authorization.status {
	case AuthorizationStatusCancelled, AuthorizationStatusExhausted:
		return authorization.status
	}
	if at.After(authorization.endDate) {
		return AuthorizationStatusExpired
	}
	if at.Before(authorization.startDate) {
		return AuthorizationStatusPending
	}
	return AuthorizationStatusActive
}

// Reservation is a transient hold of units against an authorization on
// behalf of one appointment. Committed and released are terminal.
type Reservation struct {
	id              ReservationID
	authorizationID AuthorizationID
	appointmentID   AppointmentID
	units           Units
	state           ReservationState
	createdAt       time.Time
	metadata        MetadataJSON
}

// NewReservation validates and assembles a reservation record.
func NewReservation(id ReservationID, authorizationID AuthorizationID, appointmentID AppointmentID, units Units, state ReservationState, createdAt time.Time, metadata MetadataJSON) (Reservation, error) {
	if id == (ReservationID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	if authorizationID == (AuthorizationID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAuthorizationID)
	}
	if appointmentID == (AppointmentID{}) {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAppointmentID)
	}
	if units <= 0 {
		return Reservation{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	if _, err := ParseReservationState(state.String()); err != nil {
		return Reservation{}, err
	}
	return Reservation{
		id:              id,
		authorizationID: authorizationID,
		appointmentID:   appointmentID,
		units:           units,
		state:           state,
		createdAt:       createdAt.UTC(),
		metadata:        metadata,
	}, nil
}

// ID returns the reservation id.
func (reservation Reservation) ID() ReservationID {
	return reservation.id
}

// AuthorizationID returns the authorization the units are held against.
func (reservation Reservation) AuthorizationID() AuthorizationID {
	return reservation.authorizationID
}

// AppointmentID returns the scheduling entity the hold belongs to.
func (reservation Reservation) AppointmentID() AppointmentID {
	return reservation.appointmentID
}

// Units returns the held unit count.
func (reservation Reservation) Units() Units {
	return reservation.units
}

// State returns the reservation lifecycle state.
func (reservation Reservation) State() ReservationState {
	return reservation.state
}

// CreatedAt returns the creation instant.
func (reservation Reservation) CreatedAt() time.Time {
	return reservation.createdAt
}

// Metadata returns the scheduling context attached at reserve time.
func (reservation Reservation) Metadata() MetadataJSON {
	return reservation.metadata
}

// Store is the persistence contract used by Service. ApplyDelta is the only
// path that mutates the three counters and must perform the invariant check
// and the increment as one indivisible conditional update.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAuthorization(ctx context.Context, authorization Authorization) error
	GetAuthorization(ctx context.Context, id AuthorizationID) (Authorization, error)
	ApplyDelta(ctx context.Context, id AuthorizationID, usedDelta int64, reservedDelta int64) (Authorization, error)
	UpdateAuthorizationStatus(ctx context.Context, id AuthorizationID, from AuthorizationStatus, to AuthorizationStatus) error
	SetTotalUnits(ctx context.Context, id AuthorizationID, totalUnits Units) (Authorization, error)
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id ReservationID) (Reservation, error)
	FindHeldByAppointment(ctx context.Context, id AppointmentID) (Reservation, error)
	UpdateReservationState(ctx context.Context, id ReservationID, from ReservationState, to ReservationState) error
	ListStaleHeld(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error)
}
