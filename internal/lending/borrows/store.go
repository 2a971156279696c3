package borrows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"

	"ELMS-backend/internal/lending/equipment"
	"ELMS-backend/internal/lending/units"
	platformdb "ELMS-backend/internal/platform/db"
)

// SQLStore は Store の MySQL 実装。
// 遷移は SERIALIZABLE の1Txで、borrows 行ロック → 台帳/在庫更新 → 書き込み。
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

const borrowCols = `
	borrow_ulid, requester_id, requester_email, requester_name, requester_id_number,
	borrow_type, borrowed_at, expected_return_at, actual_return_at,
	condition_before, condition_after, notes, status,
	acknowledged_by_id, acknowledged_by_name, acknowledged_at,
	return_submitted_by_id, return_submitted_at,
	approved_by_id, approved_by_name, approved_at,
	cancelled_by_id, cancelled_by_name, cancel_reason, cancelled_at,
	audit_notes, version, created_at, updated_at`

func scanBorrow(row interface{ Scan(...any) error }) (*Borrow, error) {
	var b Borrow
	var borrowType, status string
	err := row.Scan(
		&b.BorrowULID, &b.RequesterID, &b.RequesterEmail, &b.RequesterName, &b.RequesterIDNumber,
		&borrowType, &b.BorrowedAt, &b.ExpectedReturnAt, &b.ActualReturnAt,
		&b.ConditionBefore, &b.ConditionAfter, &b.Notes, &status,
		&b.AcknowledgedByID, &b.AcknowledgedByName, &b.AcknowledgedAt,
		&b.ReturnSubmittedByID, &b.ReturnSubmittedAt,
		&b.ApprovedByID, &b.ApprovedByName, &b.ApprovedAt,
		&b.CancelledByID, &b.CancelledByName, &b.CancelReason, &b.CancelledAt,
		&b.AuditNotes, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.BorrowType = BorrowType(borrowType)
	b.Status = BorrowStatus(status)
	return &b, nil
}

func (t *sqlTx) GetBorrowForUpdate(ctx context.Context, id string) (*Borrow, error) {
	q := `SELECT ` + borrowCols + ` FROM borrows WHERE borrow_ulid = ? FOR UPDATE`
	b, err := scanBorrow(t.q.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("borrow not found: " + id)
		}
		return nil, err
	}
	if err := loadItems(ctx, t.q, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *sqlTx) InsertBorrow(ctx context.Context, b *Borrow) error {
	const q = `
	INSERT INTO borrows (
		borrow_ulid, requester_id, requester_email, requester_name, requester_id_number,
		borrow_type, borrowed_at, expected_return_at, actual_return_at,
		condition_before, condition_after, notes, status,
		acknowledged_by_id, acknowledged_by_name, acknowledged_at,
		return_submitted_by_id, return_submitted_at,
		approved_by_id, approved_by_name, approved_at,
		cancelled_by_id, cancelled_by_name, cancel_reason, cancelled_at,
		audit_notes, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	_, err := t.q.ExecContext(ctx, q,
		b.BorrowULID, b.RequesterID, b.RequesterEmail, b.RequesterName, b.RequesterIDNumber,
		string(b.BorrowType), b.BorrowedAt, b.ExpectedReturnAt, b.ActualReturnAt,
		b.ConditionBefore, b.ConditionAfter, b.Notes, string(b.Status),
		b.AcknowledgedByID, b.AcknowledgedByName, b.AcknowledgedAt,
		b.ReturnSubmittedByID, b.ReturnSubmittedAt,
		b.ApprovedByID, b.ApprovedByName, b.ApprovedAt,
		b.CancelledByID, b.CancelledByName, b.CancelReason, b.CancelledAt,
		b.AuditNotes, b.Version,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrConflict("borrow already exists: " + b.BorrowULID)
		}
		return err
	}
	return insertItems(ctx, t.q, b)
}

// UpdateBorrow: version 一致を条件に書き込み、明細は全量書き直す。
// 行ロック済みのTx内でも、ロック外経路からの書き込みに対する最後の砦として
// version チェックは常に効かせる。
func (t *sqlTx) UpdateBorrow(ctx context.Context, b *Borrow) error {
	const q = `
	UPDATE borrows SET
		actual_return_at = ?, condition_after = ?, status = ?,
		acknowledged_by_id = ?, acknowledged_by_name = ?, acknowledged_at = ?,
		return_submitted_by_id = ?, return_submitted_at = ?,
		approved_by_id = ?, approved_by_name = ?, approved_at = ?,
		cancelled_by_id = ?, cancelled_by_name = ?, cancel_reason = ?, cancelled_at = ?,
		audit_notes = ?, version = version + 1, updated_at = NOW(6)
	WHERE borrow_ulid = ? AND version = ?`

	res, err := t.q.ExecContext(ctx, q,
		b.ActualReturnAt, b.ConditionAfter, string(b.Status),
		b.AcknowledgedByID, b.AcknowledgedByName, b.AcknowledgedAt,
		b.ReturnSubmittedByID, b.ReturnSubmittedAt,
		b.ApprovedByID, b.ApprovedByName, b.ApprovedAt,
		b.CancelledByID, b.CancelledByName, b.CancelReason, b.CancelledAt,
		b.AuditNotes, b.BorrowULID, b.Version,
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return &APIError{
			Code:    CodeInvalidState,
			Message: fmt.Sprintf("concurrent update detected: borrow %s version %d is stale", b.BorrowULID, b.Version),
		}
	}
	b.Version++

	if _, err := t.q.ExecContext(ctx, `DELETE FROM borrow_item_codes WHERE borrow_ulid = ?`, b.BorrowULID); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM borrow_items WHERE borrow_ulid = ?`, b.BorrowULID); err != nil {
		return err
	}
	return insertItems(ctx, t.q, b)
}

func (t *sqlTx) MarkUnitsUnavailable(ctx context.Context, codes []string) (int64, error) {
	return units.MarkUnavailable(ctx, t.q, codes)
}

func (t *sqlTx) MarkUnitsAvailable(ctx context.Context, codes []string) (int64, error) {
	return units.MarkAvailable(ctx, t.q, codes)
}

func (t *sqlTx) ApplyStockDeltas(ctx context.Context, deltas []equipment.StockDelta) error {
	return equipment.ApplyStockDeltas(ctx, t.q, deltas)
}

// ---------- 明細の読み書き ----------

func insertItems(ctx context.Context, q platformdb.DBTX, b *Borrow) error {
	const itemQ = `
	INSERT INTO borrow_items
	(borrow_ulid, seq, equipment_id, equipment_name, category,
	 quantity_borrowed, quantity_returned, consumption_status, return_condition, return_notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	const codeQ = `
	INSERT INTO borrow_item_codes
	(borrow_ulid, item_seq, code_seq, serial_code, returned_condition, condition_notes)
	VALUES (?, ?, ?, ?, ?, ?)`

	for seq := range b.Items {
		it := &b.Items[seq]
		var qtyReturned any
		if it.QuantityReturned != nil {
			qtyReturned = *it.QuantityReturned
		}
		var consumption any
		if it.ConsumptionStatus != nil {
			consumption = string(*it.ConsumptionStatus)
		}
		var cond, notes any
		if it.ReturnCondition != nil {
			cond = *it.ReturnCondition
		}
		if it.ReturnNotes != nil {
			notes = *it.ReturnNotes
		}
		if _, err := q.ExecContext(ctx, itemQ,
			b.BorrowULID, seq, it.EquipmentID, it.EquipmentName, string(it.Category),
			it.QuantityBorrowed, qtyReturned, consumption, cond, notes,
		); err != nil {
			return err
		}

		returned := make(map[string]CodeCondition, len(it.ReturnedCodes))
		for _, cc := range it.ReturnedCodes {
			returned[cc.SerialCode] = cc
		}
		for codeSeq, code := range it.SerialCodes {
			var rc, rcNotes any
			if cc, ok := returned[code]; ok {
				rc = string(cc.Condition)
				if cc.Notes != "" {
					rcNotes = cc.Notes
				}
			}
			if _, err := q.ExecContext(ctx, codeQ,
				b.BorrowULID, seq, codeSeq, code, rc, rcNotes,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadItems(ctx context.Context, q platformdb.DBTX, b *Borrow) error {
	const itemQ = `
	SELECT seq, equipment_id, equipment_name, category,
	       quantity_borrowed, quantity_returned, consumption_status, return_condition, return_notes
	FROM borrow_items WHERE borrow_ulid = ? ORDER BY seq`

	rows, err := q.QueryContext(ctx, itemQ, b.BorrowULID)
	if err != nil {
		return err
	}
	defer rows.Close()

	b.Items = nil
	seqs := []int{}
	for rows.Next() {
		var seq int
		var it BorrowItem
		var cat string
		var qtyReturned sql.NullInt64
		var consumption, cond, notes sql.NullString
		if err := rows.Scan(
			&seq, &it.EquipmentID, &it.EquipmentName, &cat,
			&it.QuantityBorrowed, &qtyReturned, &consumption, &cond, &notes,
		); err != nil {
			return err
		}
		it.Category = equipment.Category(cat)
		if qtyReturned.Valid {
			v := int(qtyReturned.Int64)
			it.QuantityReturned = &v
		}
		if consumption.Valid {
			v := ConsumptionStatus(consumption.String)
			it.ConsumptionStatus = &v
		}
		if cond.Valid {
			v := cond.String
			it.ReturnCondition = &v
		}
		if notes.Valid {
			v := notes.String
			it.ReturnNotes = &v
		}
		b.Items = append(b.Items, it)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const codeQ = `
	SELECT item_seq, serial_code, returned_condition, condition_notes
	FROM borrow_item_codes WHERE borrow_ulid = ? ORDER BY item_seq, code_seq`

	codeRows, err := q.QueryContext(ctx, codeQ, b.BorrowULID)
	if err != nil {
		return err
	}
	defer codeRows.Close()

	bySeq := make(map[int]int, len(seqs))
	for i, seq := range seqs {
		bySeq[seq] = i
	}
	for codeRows.Next() {
		var itemSeq int
		var code string
		var rc, rcNotes sql.NullString
		if err := codeRows.Scan(&itemSeq, &code, &rc, &rcNotes); err != nil {
			return err
		}
		i, ok := bySeq[itemSeq]
		if !ok {
			continue
		}
		b.Items[i].SerialCodes = append(b.Items[i].SerialCodes, code)
		if rc.Valid {
			b.Items[i].ReturnedCodes = append(b.Items[i].ReturnedCodes, CodeCondition{
				SerialCode: code,
				Condition:  AssetCondition(rc.String),
				Notes:      rcNotes.String,
			})
		}
	}
	return codeRows.Err()
}

// ---------- 読み取り ----------

func (s *SQLStore) GetBorrow(ctx context.Context, id string) (*Borrow, error) {
	q := `SELECT ` + borrowCols + ` FROM borrows WHERE borrow_ulid = ?`
	b, err := scanBorrow(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("borrow not found: " + id)
		}
		return nil, err
	}
	if err := loadItems(ctx, s.db, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLStore) ListBorrows(ctx context.Context, f ListFilter, p Page) ([]Borrow, int64, error) {
	where, args := buildListWhere(f)

	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + borrowCols + ` FROM borrows WHERE 1=1`)
	sb.WriteString(where)
	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	sb.WriteString(fmt.Sprintf(` ORDER BY borrowed_at %s`, order))
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	listArgs := append(append([]any{}, args...), p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Borrow
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		if err := loadItems(ctx, s.db, &out[i]); err != nil {
			return nil, 0, err
		}
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrows WHERE 1=1`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func buildListWhere(f ListFilter) (string, []any) {
	sb := strings.Builder{}
	args := []any{}
	if f.RequesterID != "" {
		sb.WriteString(` AND requester_id = ?`)
		args = append(args, f.RequesterID)
	}
	if f.Status != nil {
		sb.WriteString(` AND status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.BorrowType != nil {
		sb.WriteString(` AND borrow_type = ?`)
		args = append(args, string(*f.BorrowType))
	}
	if f.From != nil {
		sb.WriteString(` AND borrowed_at >= ?`)
		args = append(args, *f.From)
	}
	if f.To != nil {
		sb.WriteString(` AND borrowed_at < ?`)
		args = append(args, *f.To)
	}
	if f.OnlyOutstanding {
		sb.WriteString(` AND status NOT IN ('returned', 'cancelled')`)
	}
	return sb.String(), args
}
