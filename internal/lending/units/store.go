package units

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"

	platformdb "ELMS-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// RegisterBatch: 個体を一括登録する。1件でも重複があればTxごと失敗させる。
func (s *Store) RegisterBatch(ctx context.Context, us []AssetUnit) error {
	return platformdb.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx platformdb.DBTX) error {
		// 親備品の存在確認（FK代わりの明示チェックも兼ねる）
		var cat string
		if err := tx.QueryRowContext(ctx,
			`SELECT category FROM equipment WHERE equipment_id = ?`, us[0].EquipmentID).Scan(&cat); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound("equipment not found")
			}
			return err
		}
		if cat != "asset" {
			return ErrInvalid("serialized units can only be registered under asset equipment")
		}

		const q = `
		INSERT INTO asset_units (serial_code, equipment_id, available, note, registered_at, updated_at)
		VALUES (?, ?, 1, ?, NOW(6), NOW(6))`
		for i := range us {
			if _, err := tx.ExecContext(ctx, q, us[i].SerialCode, us[i].EquipmentID, nullStrOrNil(us[i].Note)); err != nil {
				var me *mysql.MySQLError
				if errors.As(err, &me) && me.Number == 1062 {
					return ErrConflict(fmt.Sprintf("serial code already exists: %s", us[i].SerialCode))
				}
				return err
			}
		}
		return nil
	})
}

const selectCols = `serial_code, equipment_id, available, note, registered_at, updated_at`

func (s *Store) GetBySerial(ctx context.Context, code string) (*AssetUnit, error) {
	q := `SELECT ` + selectCols + ` FROM asset_units WHERE serial_code = ?`
	var u AssetUnit
	err := s.db.QueryRowContext(ctx, q, code).Scan(
		&u.SerialCode, &u.EquipmentID, &u.Available, &u.Note, &u.RegisteredAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("asset unit not found")
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]AssetUnit, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + selectCols + ` FROM asset_units WHERE 1=1`)
	args := []any{}
	if f.EquipmentID != nil {
		sb.WriteString(` AND equipment_id = ?`)
		args = append(args, *f.EquipmentID)
	}
	if f.Available != nil {
		sb.WriteString(` AND available = ?`)
		args = append(args, *f.Available)
	}
	sb.WriteString(` ORDER BY serial_code ASC`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssetUnit
	for rows.Next() {
		var u AssetUnit
		if err := rows.Scan(&u.SerialCode, &u.EquipmentID, &u.Available, &u.Note, &u.RegisteredAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetAvailability: 手動訂正。理由を note に残す。
func (s *Store) SetAvailability(ctx context.Context, code string, available bool, reason string) (*AssetUnit, error) {
	const q = `
	UPDATE asset_units SET available = ?, note = ?, updated_at = NOW(6)
	WHERE serial_code = ?`
	res, err := s.db.ExecContext(ctx, q, available, reason, code)
	if err != nil {
		return nil, err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return nil, ErrNotFound("asset unit not found")
	}
	return s.GetBySerial(ctx, code)
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
