package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Authorization mirrors the authorizations table.
type Authorization struct {
	AuthorizationID string    `gorm:"primaryKey"`
	PatientID       string    `gorm:"not null;index:idx_authorizations_patient"`
	TotalUnits      int64     `gorm:"not null"`
	UsedUnits       int64     `gorm:"not null"`
	ReservedUnits   int64     `gorm:"not null"`
	Status          string    `gorm:"not null;index:idx_authorizations_status"`
	StartDate       time.Time `gorm:"not null"`
	EndDate         time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Authorization) TableName() string { return "authorizations" }

func (authorization *Authorization) BeforeCreate(tx *gorm.DB) error {
	if authorization.AuthorizationID == "" {
		authorization.AuthorizationID = uuid.NewString()
	}
	return nil
}

// Reservation mirrors the reservations table. HeldAppointmentID carries the
// appointment id only while the reservation is held; the unique index on it
// enforces at most one live hold per appointment on every backend.
type Reservation struct {
	ReservationID     string         `gorm:"primaryKey"`
	AuthorizationID   string         `gorm:"not null;index:idx_reservations_authorization"`
	AppointmentID     string         `gorm:"not null;index:idx_reservations_appointment"`
	HeldAppointmentID *string        `gorm:"uniqueIndex:uniq_reservations_held_appointment"`
	Units             int64          `gorm:"not null"`
	State             string         `gorm:"not null;index:idx_reservations_state_created,priority:1"`
	Metadata          datatypes.JSON `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_reservations_state_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }
