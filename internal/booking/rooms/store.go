// store.go
package rooms

import (
	"context"
	"database/sql"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// GET /rooms?all=1
func (s *Store) ListRooms(ctx context.Context, includeDisabled bool) ([]Room, error) {
	q := `
		SELECT room_id, room_code, room_name, location, capacity, is_disabled
		FROM rooms
	`
	if !includeDisabled {
		q += ` WHERE is_disabled = 0`
	}
	q += ` ORDER BY room_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Room, 0, 16)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomID, &r.RoomCode, &r.RoomName, &r.Location, &r.Capacity, &r.IsDisabled); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetRoomByID(ctx context.Context, id uint) (*Room, error) {
	const q = `
		SELECT room_id, room_code, room_name, location, capacity, is_disabled
		FROM rooms
		WHERE room_id = ?
	`
	var r Room
	err := s.db.QueryRowContext(ctx, q, id).Scan(&r.RoomID, &r.RoomCode, &r.RoomName, &r.Location, &r.Capacity, &r.IsDisabled)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRoom(ctx context.Context, code, name, location string, capacity int) (*Room, error) {
	const q = `
		INSERT INTO rooms (room_code, room_name, location, capacity, is_disabled)
		VALUES (?, ?, ?, ?, 0)
	`
	r, err := s.db.ExecContext(ctx, q, code, name, location, capacity)
	if err != nil {
		return nil, err
	}
	lastID, err := r.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Room{
		RoomID:   uint(lastID),
		RoomCode: code,
		RoomName: name,
		Location: location,
		Capacity: capacity,
	}, nil
}

func (s *Store) UpdateRoom(ctx context.Context, id uint, code, name, location string, capacity int, disabled bool) error {
	const q = `
		UPDATE rooms
		SET room_code = ?, room_name = ?, location = ?, capacity = ?, is_disabled = ?
		WHERE room_id = ?
	`
	r, err := s.db.ExecContext(ctx, q, code, name, location, capacity, disabled, id)
	if err != nil {
		return err
	}
	aff, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DELETE: is_disabled=1 にする
func (s *Store) DisableRoom(ctx context.Context, id uint) error {
	const q = `
		UPDATE rooms
		SET is_disabled = 1
		WHERE room_id = ?
	`
	r, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	aff, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}
