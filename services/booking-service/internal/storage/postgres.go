package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotledger/libs/db"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/outbox"
)

// Postgres is the Store backed by pgx. Slot claims are a compare-and-swap
// UPDATE and lookups that precede a write take row locks with FOR UPDATE.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo}
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return p.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
}

func (p *Postgres) Ping(ctx context.Context) error {
	return db.ReadyCheck(p.pool)(ctx)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) InsertSlot(ctx context.Context, s *model.TimeSlot) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO time_slots (id, staff_id, starts_at, duration_minutes, is_available)
		VALUES ($1, $2, $3, $4, true)
		RETURNING created_at
	`, s.ID, s.StaffID, s.StartsAt, s.DurationMinutes).Scan(&s.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	s.IsAvailable = true
	s.AppointmentID = ""
	return nil
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, id string) (model.TimeSlot, error) {
	var s model.TimeSlot
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, staff_id, starts_at, duration_minutes, is_available,
			COALESCE(appointment_id::text, ''), created_at
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&s.ID, &s.StaffID, &s.StartsAt, &s.DurationMinutes, &s.IsAvailable, &s.AppointmentID, &s.CreatedAt)
	if err != nil {
		return model.TimeSlot{}, mapErr(err)
	}
	return s, nil
}

func (t *pgTx) ClaimSlot(ctx context.Context, slotID, appointmentID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_slots
		SET is_available = false,
			appointment_id = $2
		WHERE id = $1 AND is_available AND appointment_id IS NULL
	`, slotID, appointmentID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (t *pgTx) ReleaseSlots(ctx context.Context, appointmentID string) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_slots
		SET is_available = true,
			appointment_id = NULL
		WHERE appointment_id = $1
	`, appointmentID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, client_id, staff_id, starts_at, duration_minutes, service_id, time_slot_id, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, a.ID, a.ClientID, a.StaffID, a.StartsAt, a.DurationMinutes,
		nullIfEmpty(a.ServiceID), nullIfEmpty(a.TimeSlotID), string(a.Status), a.Notes).Scan(&a.CreatedAt)
	return mapErr(err)
}

const appointmentColumns = `id::text, client_id::text, staff_id, starts_at, duration_minutes,
	COALESCE(service_id::text, ''), COALESCE(time_slot_id::text, ''), status, notes, created_at`

func (t *pgTx) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id string, status model.AppointmentStatus) error {
	return execOne(ctx, t.tx, `UPDATE appointments SET status = $2 WHERE id = $1`, id, string(status))
}

func (t *pgTx) ClearAppointmentSlot(ctx context.Context, id string) error {
	return execOne(ctx, t.tx, `UPDATE appointments SET time_slot_id = NULL WHERE id = $1`, id)
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id string) error {
	return execOne(ctx, t.tx, `DELETE FROM appointments WHERE id = $1`, id)
}

func (t *pgTx) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	var price int64
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, name, price_minor, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &price, &s.DurationMinutes)
	if err != nil {
		return model.Service{}, mapErr(err)
	}
	s.Price = model.Money(price)
	return s, nil
}

func (t *pgTx) GetClient(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, name, email, phone
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return model.Client{}, mapErr(err)
	}
	return c, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *model.Payment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments
			(id, client_id, appointment_id, service_id, amount_minor, discount_type, discount_value_minor,
			 discount_amount_minor, status, method, payment_link, external_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, p.ID, p.ClientID, p.AppointmentID, nullIfEmpty(p.ServiceID), int64(p.Amount), string(p.DiscountType),
		int64(p.DiscountValue), int64(p.DiscountAmount), string(p.Status), string(p.Method), p.PaymentLink,
		nullIfEmpty(p.ExternalOrderID)).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

const paymentColumns = `id::text, client_id::text, appointment_id::text, COALESCE(service_id::text, ''),
	amount_minor, discount_type, discount_value_minor, discount_amount_minor, status, method,
	payment_link, COALESCE(external_order_id, ''), paid_at, created_at, updated_at`

func (t *pgTx) GetPayment(ctx context.Context, id string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, id string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) GetPaymentByAppointmentForUpdate(ctx context.Context, appointmentID string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE appointment_id = $1 FOR UPDATE`, appointmentID))
}

func (t *pgTx) GetPaymentByOrderForUpdate(ctx context.Context, orderID string) (model.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_order_id = $1 FOR UPDATE`, orderID))
}

func (t *pgTx) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus, paidAt *time.Time) error {
	return execOne(ctx, t.tx, `
		UPDATE payments
		SET status = $2,
			paid_at = COALESCE(paid_at, $3),
			updated_at = now()
		WHERE id = $1
	`, id, string(status), paidAt)
}

func (t *pgTx) SetPaymentLink(ctx context.Context, id, link, orderID string) error {
	return execOne(ctx, t.tx, `
		UPDATE payments
		SET payment_link = $2,
			external_order_id = COALESCE($3, external_order_id),
			updated_at = now()
		WHERE id = $1
	`, id, link, nullIfEmpty(orderID))
}

func (t *pgTx) InsertProviderEvent(ctx context.Context, evt ProviderEvent) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *pgTx) InsertOutboxEvent(ctx context.Context, evt outbox.Event) error {
	return mapErr(t.outbox.Insert(ctx, t.tx, evt))
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.ClientID, &a.StaffID, &a.StartsAt, &a.DurationMinutes,
		&a.ServiceID, &a.TimeSlotID, &status, &a.Notes, &a.CreatedAt)
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	a.Status = model.AppointmentStatus(status)
	return a, nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var p model.Payment
	var amount, discountValue, discountAmount int64
	var discountType, status, method string
	err := row.Scan(&p.ID, &p.ClientID, &p.AppointmentID, &p.ServiceID,
		&amount, &discountType, &discountValue, &discountAmount, &status, &method,
		&p.PaymentLink, &p.ExternalOrderID, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Payment{}, mapErr(err)
	}
	p.Amount = model.Money(amount)
	p.DiscountType = model.DiscountType(discountType)
	p.DiscountValue = model.Money(discountValue)
	p.DiscountAmount = model.Money(discountAmount)
	p.Status = model.PaymentStatus(status)
	p.Method = model.PaymentMethod(method)
	return p, nil
}

func execOne(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapErr translates driver errors into the package sentinels. Malformed ids
// (22P02) are reported as not found.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Join(ErrDuplicate, err)
		case "22P02":
			return ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
