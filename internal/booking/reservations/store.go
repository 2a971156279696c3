package reservations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"

	platformdb "ELMS-backend/internal/platform/db"
)

// SQLStore is the MySQL implementation of Store.
// Transitions run inside one SERIALIZABLE tx with a row lock on reservations.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return platformdb.Serializable(ctx, s.db, func(ctx context.Context, q platformdb.DBTX) error {
		return fn(&sqlTx{q: q})
	})
}

type sqlTx struct {
	q platformdb.DBTX
}

const reservationCols = `
	reservation_ulid, room_id, room_name,
	requester_id, requester_name, requester_email, purpose,
	starts_at, ends_at, status,
	approved_by_id, approved_by_name, approved_at,
	cancelled_by_id, cancelled_by_name, cancelled_by_type, cancel_reason, cancelled_at,
	condition_notes, returned_at, version, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*Reservation, error) {
	var r Reservation
	var status string
	err := row.Scan(
		&r.ReservationULID, &r.RoomID, &r.RoomName,
		&r.RequesterID, &r.RequesterName, &r.RequesterEmail, &r.Purpose,
		&r.StartsAt, &r.EndsAt, &status,
		&r.ApprovedByID, &r.ApprovedByName, &r.ApprovedAt,
		&r.CancelledByID, &r.CancelledByName, &r.CancelledByType, &r.CancelReason, &r.CancelledAt,
		&r.ConditionNotes, &r.ReturnedAt, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = ReservationStatus(status)
	return &r, nil
}

func (t *sqlTx) GetReservationForUpdate(ctx context.Context, id string) (*Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations WHERE reservation_ulid = ? FOR UPDATE`
	r, err := scanReservation(t.q.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("reservation not found: " + id)
		}
		return nil, err
	}
	if err := loadPhotos(ctx, t.q, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (t *sqlTx) InsertReservation(ctx context.Context, r *Reservation) error {
	const q = `
	INSERT INTO reservations (
		reservation_ulid, room_id, room_name,
		requester_id, requester_name, requester_email, purpose,
		starts_at, ends_at, status,
		approved_by_id, approved_by_name, approved_at,
		cancelled_by_id, cancelled_by_name, cancelled_by_type, cancel_reason, cancelled_at,
		condition_notes, returned_at, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	_, err := t.q.ExecContext(ctx, q,
		r.ReservationULID, r.RoomID, r.RoomName,
		r.RequesterID, r.RequesterName, r.RequesterEmail, r.Purpose,
		r.StartsAt, r.EndsAt, string(r.Status),
		r.ApprovedByID, r.ApprovedByName, r.ApprovedAt,
		r.CancelledByID, r.CancelledByName, r.CancelledByType, r.CancelReason, r.CancelledAt,
		r.ConditionNotes, r.ReturnedAt, r.Version,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrConflict("reservation already exists: " + r.ReservationULID)
		}
		return err
	}
	return insertPhotos(ctx, t.q, r)
}

// UpdateReservation writes only when version matches; the stale side of a
// concurrent transition sees zero affected rows and fails here.
func (t *sqlTx) UpdateReservation(ctx context.Context, r *Reservation) error {
	const q = `
	UPDATE reservations SET
		status = ?,
		approved_by_id = ?, approved_by_name = ?, approved_at = ?,
		cancelled_by_id = ?, cancelled_by_name = ?, cancelled_by_type = ?, cancel_reason = ?, cancelled_at = ?,
		condition_notes = ?, returned_at = ?,
		version = version + 1, updated_at = NOW(6)
	WHERE reservation_ulid = ? AND version = ?`

	res, err := t.q.ExecContext(ctx, q,
		string(r.Status),
		r.ApprovedByID, r.ApprovedByName, r.ApprovedAt,
		r.CancelledByID, r.CancelledByName, r.CancelledByType, r.CancelReason, r.CancelledAt,
		r.ConditionNotes, r.ReturnedAt,
		r.ReservationULID, r.Version,
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return &APIError{
			Code:    CodeInvalidState,
			Message: fmt.Sprintf("concurrent update detected: reservation %s version %d is stale", r.ReservationULID, r.Version),
		}
	}
	r.Version++

	if _, err := t.q.ExecContext(ctx, `DELETE FROM reservation_photos WHERE reservation_ulid = ?`, r.ReservationULID); err != nil {
		return err
	}
	return insertPhotos(ctx, t.q, r)
}

func insertPhotos(ctx context.Context, q platformdb.DBTX, r *Reservation) error {
	const photoQ = `
	INSERT INTO reservation_photos (reservation_ulid, seq, photo_ref)
	VALUES (?, ?, ?)`
	for seq, ref := range r.PhotoRefs {
		if _, err := q.ExecContext(ctx, photoQ, r.ReservationULID, seq, ref); err != nil {
			return err
		}
	}
	return nil
}

func loadPhotos(ctx context.Context, q platformdb.DBTX, r *Reservation) error {
	rows, err := q.QueryContext(ctx,
		`SELECT photo_ref FROM reservation_photos WHERE reservation_ulid = ? ORDER BY seq`,
		r.ReservationULID)
	if err != nil {
		return err
	}
	defer rows.Close()

	r.PhotoRefs = nil
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return err
		}
		r.PhotoRefs = append(r.PhotoRefs, ref)
	}
	return rows.Err()
}

// ---------- read surface ----------

func (s *SQLStore) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	q := `SELECT ` + reservationCols + ` FROM reservations WHERE reservation_ulid = ?`
	r, err := scanReservation(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("reservation not found: " + id)
		}
		return nil, err
	}
	if err := loadPhotos(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) ListReservations(ctx context.Context, f ListFilter, p Page) ([]Reservation, int64, error) {
	where, args := buildListWhere(f)

	var total int64
	countQ := `SELECT COUNT(*) FROM reservations` + where
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if strings.EqualFold(p.Order, "asc") {
		order = "ASC"
	}
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	listQ := `SELECT ` + reservationCols + ` FROM reservations` + where +
		` ORDER BY starts_at ` + order + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, listQ, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := loadPhotos(ctx, s.db, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func buildListWhere(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.RequesterID != "" {
		conds = append(conds, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.RoomID != "" {
		conds = append(conds, "room_id = ?")
		args = append(args, f.RoomID)
	}
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.From != nil {
		conds = append(conds, "ends_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "starts_at <= ?")
		args = append(args, *f.To)
	}
	if f.OnlyOutstanding {
		conds = append(conds, "status IN ('pending', 'approved')")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
