package equipment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"

	platformdb "ELMS-backend/internal/platform/db"
)

// 在庫バッチの途中で対象行が消えていた場合のセンチネル。
// 呼び出し側（borrows）はTxごとロールバックして CONSISTENCY として扱う。
var ErrStockRowMissing = errors.New("equipment stock row missing")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Insert(ctx context.Context, e *Equipment) error {
	const q = `
	INSERT INTO equipment (code, name, category, quantity, available, note, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	res, err := s.db.ExecContext(ctx, q,
		e.Code, e.Name, string(e.Category), e.Quantity, e.Quantity > 0, nullStrOrNil(e.Note),
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrConflict("equipment code already exists")
		}
		return err
	}
	id, _ := res.LastInsertId()
	e.EquipmentID = id
	e.Available = e.Quantity > 0
	return nil
}

const selectCols = `equipment_id, code, name, category, quantity, available, note, created_at, updated_at`

func scanEquipment(row interface{ Scan(...any) error }) (*Equipment, error) {
	var e Equipment
	var cat string
	if err := row.Scan(
		&e.EquipmentID, &e.Code, &e.Name, &cat, &e.Quantity, &e.Available, &e.Note, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Category = Category(cat)
	return &e, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Equipment, error) {
	q := `SELECT ` + selectCols + ` FROM equipment WHERE equipment_id = ?`
	e, err := scanEquipment(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("equipment not found")
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (*Equipment, error) {
	q := `SELECT ` + selectCols + ` FROM equipment WHERE code = ?`
	e, err := scanEquipment(s.db.QueryRowContext(ctx, q, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("equipment not found")
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, f ListFilter, p Page) ([]Equipment, int64, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + selectCols + ` FROM equipment WHERE 1=1`)

	args := []any{}
	if f.Category != nil {
		sb.WriteString(` AND category = ?`)
		args = append(args, string(*f.Category))
	}
	if f.Keyword != "" {
		sb.WriteString(` AND (name LIKE ? OR code LIKE ?)`)
		kw := "%" + f.Keyword + "%"
		args = append(args, kw, kw)
	}
	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	sb.WriteString(fmt.Sprintf(` ORDER BY created_at %s`, order))
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	cb := strings.Builder{}
	cb.WriteString(`SELECT COUNT(*) FROM equipment WHERE 1=1`)
	argsCnt := []any{}
	if f.Category != nil {
		cb.WriteString(` AND category = ?`)
		argsCnt = append(argsCnt, string(*f.Category))
	}
	if f.Keyword != "" {
		cb.WriteString(` AND (name LIKE ? OR code LIKE ?)`)
		kw := "%" + f.Keyword + "%"
		argsCnt = append(argsCnt, kw, kw)
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, cb.String(), argsCnt...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

// AdjustStock: 手動在庫調整。単独Txで行ロックして加算する。
func (s *Store) AdjustStock(ctx context.Context, id int64, delta int) (*Equipment, error) {
	var out *Equipment
	err := platformdb.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx platformdb.DBTX) error {
		var qty int
		if err := tx.QueryRowContext(ctx,
			`SELECT quantity FROM equipment WHERE equipment_id = ? FOR UPDATE`, id).Scan(&qty); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound("equipment not found")
			}
			return err
		}
		if qty+delta < 0 {
			return ErrConflict("stock would become negative")
		}
		if err := applyDelta(ctx, tx, StockDelta{EquipmentID: id, Delta: delta}); err != nil {
			return err
		}
		e, err := scanEquipment(tx.QueryRowContext(ctx,
			`SELECT `+selectCols+` FROM equipment WHERE equipment_id = ?`, id))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyStockDeltas: 消耗品返却の在庫加算。呼び出し側のTx内で全件適用する。
// 1件でも対象行が無ければ ErrStockRowMissing を返し、Txごと巻き戻させる
// （部分適用のままコミットさせない）。
func ApplyStockDeltas(ctx context.Context, q platformdb.DBTX, deltas []StockDelta) error {
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		if err := applyDelta(ctx, q, d); err != nil {
			return err
		}
	}
	return nil
}

func applyDelta(ctx context.Context, q platformdb.DBTX, d StockDelta) error {
	// MySQLのSETは左から順に評価されるので、available は加算後の quantity を見る
	const stmt = `
	UPDATE equipment
	SET quantity = quantity + ?, available = quantity > 0, updated_at = NOW(6)
	WHERE equipment_id = ?`
	res, err := q.ExecContext(ctx, stmt, d.Delta, d.EquipmentID)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return fmt.Errorf("%w: equipment_id=%d", ErrStockRowMissing, d.EquipmentID)
	}
	return nil
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
