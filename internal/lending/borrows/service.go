package borrows

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"ELMS-backend/internal/lending/equipment"
	"ELMS-backend/internal/platform/notify"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Tx: 遷移1回分の作業単位。レコード行と台帳・在庫の更新を1コミットに収める。
type Tx interface {
	GetBorrowForUpdate(ctx context.Context, id string) (*Borrow, error)
	InsertBorrow(ctx context.Context, b *Borrow) error
	// UpdateBorrow は version 一致を確認して書き込む。不一致は競合遷移の敗者。
	UpdateBorrow(ctx context.Context, b *Borrow) error
	MarkUnitsUnavailable(ctx context.Context, codes []string) (int64, error)
	MarkUnitsAvailable(ctx context.Context, codes []string) (int64, error)
	ApplyStockDeltas(ctx context.Context, deltas []equipment.StockDelta) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetBorrow(ctx context.Context, id string) (*Borrow, error)
	ListBorrows(ctx context.Context, f ListFilter, p Page) ([]Borrow, int64, error)
}

type Options struct {
	// 貸出中キャンセルでシリアルコードを解放するか。
	// 既定 false: コードは確保したまま残す（運用判断。config で切り替え）。
	ReleaseOnCancel bool
	// 返却申請の通知先。空なら申請通知は出さない。
	ApproverEmail string
}

// ===== Service本体 =====

type Service struct {
	store  Store
	events notify.Publisher
	clock  Clock
	id     IDGen
	opts   Options
}

func NewService(db *sql.DB, events notify.Publisher, opts Options) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		store:  NewSQLStore(db),
		events: events,
		clock:  realClock{},
		id:     ulidGen{},
		opts:   opts,
	}
}

// 貸出登録。受け渡しと同時に登録される運用なので作成直後から borrowed。
// asset 明細のシリアルコードは同一Tx内で台帳を unavailable にする。
func (s *Service) CreateBorrow(ctx context.Context, req CreateBorrowRequest) (*BorrowResponse, error) {
	if strings.TrimSpace(req.RequesterID) == "" ||
		strings.TrimSpace(req.RequesterEmail) == "" ||
		strings.TrimSpace(req.RequesterName) == "" {
		return nil, ErrInvalid("requester_id, requester_email, requester_name are required")
	}
	if !req.BorrowType.Valid() {
		return nil, ErrInvalid("borrow_type must be one of during_class, teaching, outside")
	}
	if len(req.Items) == 0 {
		return nil, ErrInvalid("items must not be empty")
	}
	if req.ExpectedReturnAt.IsZero() {
		return nil, ErrInvalid("expected_return_at is required")
	}

	items, err := buildItems(req.Items)
	if err != nil {
		return nil, err
	}

	idStr, err := s.id.New()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	borrowedAt := now
	if req.BorrowedAt != nil {
		borrowedAt = *req.BorrowedAt
	}

	b := &Borrow{
		BorrowULID:       idStr,
		RequesterID:      req.RequesterID,
		RequesterEmail:   req.RequesterEmail,
		RequesterName:    req.RequesterName,
		BorrowType:       req.BorrowType,
		Items:            items,
		BorrowedAt:       borrowedAt,
		ExpectedReturnAt: req.ExpectedReturnAt,
		Status:           StatusBorrowed,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.RequesterIDNumber != nil && *req.RequesterIDNumber != "" {
		b.RequesterIDNumber = sql.NullString{String: *req.RequesterIDNumber, Valid: true}
	}
	if req.ConditionBefore != nil && *req.ConditionBefore != "" {
		b.ConditionBefore = sql.NullString{String: *req.ConditionBefore, Valid: true}
	}
	if req.Notes != nil && *req.Notes != "" {
		b.Notes = sql.NullString{String: *req.Notes, Valid: true}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertBorrow(ctx, b); err != nil {
			return err
		}
		codes := b.AssetSerialCodes()
		if len(codes) == 0 {
			return nil
		}
		matched, err := tx.MarkUnitsUnavailable(ctx, codes)
		if err != nil {
			return err
		}
		// 存在しないコードはスキップされる仕様。ただし1件もマッチしないのは
		// 古い参照を掴んでいる可能性が高いので警告を残す。
		if matched == 0 {
			log.Printf("[WARN] borrows: ledger batch matched no units borrow=%s codes=%d", b.BorrowULID, len(codes))
		} else if matched < int64(len(codes)) {
			log.Printf("[WARN] borrows: ledger batch skipped stale codes borrow=%s matched=%d/%d", b.BorrowULID, matched, len(codes))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindBorrowCreated,
		Recipient: b.RequesterEmail,
		Data: map[string]any{
			"borrow_ulid":        b.BorrowULID,
			"requester_name":     b.RequesterName,
			"expected_return_at": b.ExpectedReturnAt,
			"item_count":         len(b.Items),
		},
	})

	resp := buildBorrowResponse(b)
	return &resp, nil
}

// 受領確認。borrowed のまま状態は変えず、監査スタンプだけ押す。
func (s *Service) AcknowledgeReceipt(ctx context.Context, id string, actor Actor) (*BorrowResponse, error) {
	if actor.ID == "" {
		return nil, ErrInvalid("actor is required")
	}

	var out *Borrow
	err := s.store.InTx(ctx, func(tx Tx) error {
		b, err := tx.GetBorrowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusBorrowed {
			return ErrInvalidState(id, "acknowledge_receipt", b.Status)
		}
		if b.AcknowledgedAt.Valid {
			return &APIError{
				Code:    CodeInvalidState,
				Message: fmt.Sprintf("acknowledge_receipt not allowed: borrow %s is already acknowledged", id),
			}
		}

		now := s.clock.Now()
		b.AcknowledgedByID = sql.NullString{String: actor.ID, Valid: true}
		b.AcknowledgedByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		b.AcknowledgedAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := buildBorrowResponse(out)
	return &resp, nil
}

// 返却申請。申告を保存明細にマージし、消耗品在庫を同一Txで加算して pending_return へ。
func (s *Service) SubmitReturn(ctx context.Context, id string, actor Actor, req SubmitReturnRequest) (*BorrowResponse, error) {
	var out *Borrow
	err := s.store.InTx(ctx, func(tx Tx) error {
		// ガードは 存在 → 状態 → ペイロード の順で評価する
		b, err := tx.GetBorrowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusBorrowed {
			return ErrInvalidState(id, "submit_return", b.Status)
		}
		if len(req.Items) == 0 {
			return ErrInvalid("items must not be empty")
		}

		merged, deltas, err := mergeReturn(b.Items, req.Items)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		b.Items = merged
		b.Status = StatusPendingReturn
		b.ReturnSubmittedByID = sql.NullString{String: actor.ID, Valid: actor.ID != ""}
		b.ReturnSubmittedAt = sql.NullTime{Time: now, Valid: true}
		b.ActualReturnAt = sql.NullTime{Time: now, Valid: true}
		if req.ConditionAfter != nil && *req.ConditionAfter != "" {
			b.ConditionAfter = sql.NullString{String: *req.ConditionAfter, Valid: true}
		}

		if len(deltas) > 0 {
			if err := tx.ApplyStockDeltas(ctx, deltas); err != nil {
				if errors.Is(err, equipment.ErrStockRowMissing) {
					return ErrConsistency("consumable restock batch could not be fully applied: " + err.Error())
				}
				return err
			}
		}

		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.opts.ApproverEmail != "" {
		s.events.Publish(notify.Event{
			Kind:      notify.KindReturnSubmitted,
			Recipient: s.opts.ApproverEmail,
			Data: map[string]any{
				"borrow_ulid":    out.BorrowULID,
				"requester_name": out.RequesterName,
			},
		})
	}

	resp := buildBorrowResponse(out)
	return &resp, nil
}

// 返却承認。normal 判定のコードだけ台帳に戻し、returned で確定する。
func (s *Service) ApproveReturn(ctx context.Context, id string, actor Actor) (*BorrowResponse, error) {
	if actor.ID == "" {
		return nil, ErrInvalid("actor is required")
	}

	var out *Borrow
	err := s.store.InTx(ctx, func(tx Tx) error {
		b, err := tx.GetBorrowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusPendingReturn {
			return ErrInvalidState(id, "approve_return", b.Status)
		}

		codes := b.NormalReturnedCodes()
		if len(codes) > 0 {
			matched, err := tx.MarkUnitsAvailable(ctx, codes)
			if err != nil {
				return err
			}
			if matched < int64(len(codes)) {
				// 貸出時に台帳登録されていなかった古いコードはここでも空振りする
				log.Printf("[WARN] borrows: release batch skipped stale codes borrow=%s matched=%d/%d", id, matched, len(codes))
			}
		}

		now := s.clock.Now()
		b.Status = StatusReturned
		b.ApprovedByID = sql.NullString{String: actor.ID, Valid: true}
		b.ApprovedByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		b.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindReturnApproved,
		Recipient: out.RequesterEmail,
		Data: map[string]any{
			"borrow_ulid":    out.BorrowULID,
			"requester_name": out.RequesterName,
		},
	})

	resp := buildBorrowResponse(out)
	return &resp, nil
}

// 返却棄却。borrowed に巻き戻すが、マージ済みの返却データは次回申請のため残す。
func (s *Service) RejectReturn(ctx context.Context, id string, actor Actor, req RejectReturnRequest) (*BorrowResponse, error) {
	var out *Borrow
	err := s.store.InTx(ctx, func(tx Tx) error {
		b, err := tx.GetBorrowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusPendingReturn {
			return ErrInvalidState(id, "reject_return", b.Status)
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return ErrInvalid("reason is required")
		}

		now := s.clock.Now()
		b.Status = StatusBorrowed
		b.appendAuditNote(fmt.Sprintf("return rejected by %s at %s: %s", actor.ID, now.Format(time.RFC3339), reason))
		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindReturnRejected,
		Recipient: out.RequesterEmail,
		Data: map[string]any{
			"borrow_ulid":    out.BorrowULID,
			"requester_name": out.RequesterName,
			"reason":         strings.TrimSpace(req.Reason),
		},
	})

	resp := buildBorrowResponse(out)
	return &resp, nil
}

// キャンセル。返却フローに入る前の状態からのみ。
// コードの解放は Options.ReleaseOnCancel に従う。
func (s *Service) CancelBorrow(ctx context.Context, id string, actor Actor, req CancelRequest) (*BorrowResponse, error) {
	var out *Borrow
	err := s.store.InTx(ctx, func(tx Tx) error {
		b, err := tx.GetBorrowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != StatusScheduled && b.Status != StatusBorrowed {
			return ErrInvalidState(id, "cancel", b.Status)
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return ErrInvalid("reason is required")
		}

		now := s.clock.Now()
		b.Status = StatusCancelled
		b.CancelledByID = sql.NullString{String: actor.ID, Valid: actor.ID != ""}
		b.CancelledByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		b.CancelReason = sql.NullString{String: reason, Valid: true}
		b.CancelledAt = sql.NullTime{Time: now, Valid: true}

		if s.opts.ReleaseOnCancel {
			codes := b.AssetSerialCodes()
			if len(codes) > 0 {
				matched, err := tx.MarkUnitsAvailable(ctx, codes)
				if err != nil {
					return err
				}
				if matched < int64(len(codes)) {
					log.Printf("[WARN] borrows: cancel release skipped stale codes borrow=%s matched=%d/%d", id, matched, len(codes))
				}
			}
		}

		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindBorrowCancelled,
		Recipient: out.RequesterEmail,
		Data: map[string]any{
			"borrow_ulid": out.BorrowULID,
			"reason":      strPtrVal(out.CancelReason),
		},
	})

	resp := buildBorrowResponse(out)
	return &resp, nil
}

// 貸出単一取得
func (s *Service) GetBorrow(ctx context.Context, id string) (*BorrowResponse, error) {
	if id == "" {
		return nil, ErrInvalid("borrow_ulid is required")
	}
	b, err := s.store.GetBorrow(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := buildBorrowResponse(b)
	return &resp, nil
}

// 貸出一覧
func (s *Service) ListBorrows(ctx context.Context, f ListFilter, p Page) ([]BorrowResponse, int64, error) {
	bs, total, err := s.store.ListBorrows(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	out := make([]BorrowResponse, 0, len(bs))
	for i := range bs {
		out = append(out, buildBorrowResponse(&bs[i]))
	}
	return out, total, nil
}

// ---------- helpers ----------

func buildItems(reqs []BorrowItemRequest) ([]BorrowItem, error) {
	items := make([]BorrowItem, 0, len(reqs))
	seenCodes := make(map[string]struct{})

	for i := range reqs {
		r := &reqs[i]
		if r.Quantity <= 0 {
			return nil, ErrInvalid(fmt.Sprintf("quantity must be > 0: equipment_id=%d", r.EquipmentID))
		}
		if !r.Category.Valid() {
			return nil, ErrInvalid(fmt.Sprintf("category must be asset or consumable: equipment_id=%d", r.EquipmentID))
		}
		if strings.TrimSpace(r.EquipmentName) == "" {
			return nil, ErrInvalid(fmt.Sprintf("equipment_name is required: equipment_id=%d", r.EquipmentID))
		}

		switch r.Category {
		case equipment.CategoryAsset:
			if len(r.SerialCodes) != r.Quantity {
				return nil, ErrInvalid(fmt.Sprintf(
					"asset item needs exactly %d serial codes, got %d: equipment_id=%d",
					r.Quantity, len(r.SerialCodes), r.EquipmentID))
			}
			for _, code := range r.SerialCodes {
				if strings.TrimSpace(code) == "" {
					return nil, ErrInvalid(fmt.Sprintf("serial code must not be empty: equipment_id=%d", r.EquipmentID))
				}
				if _, dup := seenCodes[code]; dup {
					return nil, ErrInvalid("duplicate serial code in request: " + code)
				}
				seenCodes[code] = struct{}{}
			}
		case equipment.CategoryConsumable:
			if len(r.SerialCodes) > 0 {
				return nil, ErrInvalid(fmt.Sprintf("consumable item must not carry serial codes: equipment_id=%d", r.EquipmentID))
			}
		}

		items = append(items, BorrowItem{
			EquipmentID:      r.EquipmentID,
			EquipmentName:    strings.TrimSpace(r.EquipmentName),
			Category:         r.Category,
			QuantityBorrowed: r.Quantity,
			SerialCodes:      append([]string(nil), r.SerialCodes...),
		})
	}
	return items, nil
}

func (b *Borrow) appendAuditNote(note string) {
	if b.AuditNotes.Valid && b.AuditNotes.String != "" {
		b.AuditNotes.String = b.AuditNotes.String + "\n" + note
	} else {
		b.AuditNotes.String = note
	}
	b.AuditNotes.Valid = true
}

func strPtrVal(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
