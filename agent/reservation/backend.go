// Package reservation stores grooming reservations in Postgres. Lookups and
// mutations go through the stored procedures owned by the booking database;
// only creation writes the table directly.
package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
)

const dateLayout = "2006-01-02"

const (
	listByPhoneQuery = `SELECT reservation_uuid, phone_number, pet_id, pet_name, service_name, weight, reservation_date, price, status
	FROM get_reservations_by_phone(phone_number => ?)`
	updateDateQuery  = `SELECT update_reservation_date(reservation_uuid => ?::uuid, new_reservation_date => ?::date)`
	cancelQuery      = `SELECT cancel_reservation(reservation_uuid => ?::uuid)`
)

// Config is loaded with the RESERVATION prefix.
type Config struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type row struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID              string    `bun:"reservation_uuid,pk,type:uuid"`
	PhoneNumber     string    `bun:"phone_number"`
	PetID           string    `bun:"pet_id,nullzero"`
	PetName         string    `bun:"pet_name,nullzero"`
	ServiceName     string    `bun:"service_name"`
	Weight          float64   `bun:"weight,nullzero"`
	ReservationDate time.Time `bun:"reservation_date,type:date"`
	Price           int       `bun:"price"`
	Status          string    `bun:"status"`
}

func (r row) toContract() contractx.Reservation {
	return contractx.Reservation{
		ID:              r.ID,
		PhoneNumber:     r.PhoneNumber,
		PetID:           r.PetID,
		PetName:         r.PetName,
		ServiceName:     r.ServiceName,
		Weight:          r.Weight,
		ReservationDate: r.ReservationDate.Format(dateLayout),
		Price:           r.Price,
		Status:          r.Status,
	}
}

type Backend struct {
	db      *bun.DB
	timeout time.Duration
	newID   func() string
}

var _ contractx.ReservationBackend = (*Backend)(nil)

// Open connects lazily; the first query dials the server.
func Open(cfg Config) (*Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: reservation dsn is required", contractx.ErrValidation)
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return New(bun.NewDB(sqldb, pgdialect.New()), cfg.Timeout), nil
}

func New(db *bun.DB, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Backend{db: db, timeout: timeout, newID: uuid.NewString}
}

// DB exposes the connection for collaborators sharing the same database.
func (b *Backend) DB() *bun.DB {
	return b.db
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) ListByPhone(ctx context.Context, phoneNumber string) ([]contractx.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var rows []row
	if err := b.db.NewRaw(listByPhoneQuery, phoneNumber).Scan(ctx, &rows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []contractx.Reservation{}, nil
		}
		return nil, fmt.Errorf("get reservations by phone: %w", err)
	}

	out := make([]contractx.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toContract())
	}
	return out, nil
}

func (b *Backend) UpdateDate(ctx context.Context, reservationID string, date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", contractx.ErrValidation, date)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(ctx, updateDateQuery, reservationID, date); err != nil {
		return fmt.Errorf("update reservation date: %w", err)
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, reservationID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.ExecContext(ctx, cancelQuery, reservationID); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, r contractx.Reservation) (contractx.Reservation, error) {
	m, err := b.newRow(r)
	if err != nil {
		return contractx.Reservation{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.db.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return contractx.Reservation{}, fmt.Errorf("create reservation: %w", err)
	}
	return m.toContract(), nil
}

func (b *Backend) newRow(r contractx.Reservation) (*row, error) {
	date, err := time.Parse(dateLayout, r.ReservationDate)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", contractx.ErrValidation, r.ReservationDate)
	}
	id := r.ID
	if id == "" {
		id = b.newID()
	}
	return &row{
		ID:              id,
		PhoneNumber:     r.PhoneNumber,
		PetID:           r.PetID,
		PetName:         r.PetName,
		ServiceName:     r.ServiceName,
		Weight:          r.Weight,
		ReservationDate: date,
		Price:           r.Price,
		Status:          r.Status,
	}, nil
}
