package reservations

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"ELMS-backend/internal/platform/notify"
)

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

// Tx: 遷移1回分の作業単位。予約行の読み書きを1コミットに収める。
type Tx interface {
	GetReservationForUpdate(ctx context.Context, id string) (*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	// UpdateReservation は version 一致を確認して書き込む。不一致は競合遷移の敗者。
	UpdateReservation(ctx context.Context, r *Reservation) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	ListReservations(ctx context.Context, f ListFilter, p Page) ([]Reservation, int64, error)
}

type Service struct {
	store  Store
	events notify.Publisher
	clock  Clock
	id     IDGen
}

func NewService(db *sql.DB, events notify.Publisher) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		store:  NewSQLStore(db),
		events: events,
		clock:  realClock{},
		id:     ulidGen{},
	}
}

// 予約登録。作成時は必ず pending。
func (s *Service) CreateReservation(ctx context.Context, req CreateReservationRequest) (*ReservationResponse, error) {
	if strings.TrimSpace(req.RoomID) == "" || strings.TrimSpace(req.RequesterID) == "" {
		return nil, ErrInvalid("room_id and requester_id are required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, ErrInvalid("ends_at must be after starts_at")
	}

	id, err := s.id.New()
	if err != nil {
		return nil, ErrInternal("failed to generate reservation id")
	}
	now := s.clock.Now()
	r := &Reservation{
		ReservationULID: id,
		RoomID:          req.RoomID,
		RoomName:        req.RoomName,
		RequesterID:     req.RequesterID,
		RequesterName:   req.RequesterName,
		RequesterEmail:  req.RequesterEmail,
		StartsAt:        req.StartsAt.UTC(),
		EndsAt:          req.EndsAt.UTC(),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if req.Purpose != nil && strings.TrimSpace(*req.Purpose) != "" {
		r.Purpose = sql.NullString{String: *req.Purpose, Valid: true}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	resp := buildReservationResponse(r)
	return &resp, nil
}

// 承認。pending からのみ。承認通知を申請者へ出す。
func (s *Service) ApproveReservation(ctx context.Context, id string, actor Actor) (*ReservationResponse, error) {
	if actor.ID == "" {
		return nil, ErrInvalid("actor is required")
	}

	var out *Reservation
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return ErrInvalidState(id, "approve", r.Status)
		}

		now := s.clock.Now()
		r.Status = StatusApproved
		r.ApprovedByID = sql.NullString{String: actor.ID, Valid: true}
		r.ApprovedByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		r.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindReservationApproved,
		Recipient: out.RequesterEmail,
		Data: map[string]any{
			"reservation_ulid": out.ReservationULID,
			"room_name":        out.RoomName,
			"starts_at":        out.StartsAt.Format(time.RFC3339),
			"ends_at":          out.EndsAt.Format(time.RFC3339),
		},
	})

	resp := buildReservationResponse(out)
	return &resp, nil
}

// 棄却。理由必須。cancelled_by_type は admin。
func (s *Service) RejectReservation(ctx context.Context, id string, actor Actor, req RejectReservationRequest) (*ReservationResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrInvalid("reason is required")
	}

	var out *Reservation
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return ErrInvalidState(id, "reject", r.Status)
		}

		now := s.clock.Now()
		r.Status = StatusCancelled
		r.CancelledByID = sql.NullString{String: actor.ID, Valid: actor.ID != ""}
		r.CancelledByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		r.CancelledByType = sql.NullString{String: string(CancelByAdmin), Valid: true}
		r.CancelReason = sql.NullString{String: reason, Valid: true}
		r.CancelledAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:      notify.KindReservationRejected,
		Recipient: out.RequesterEmail,
		Data: map[string]any{
			"reservation_ulid": out.ReservationULID,
			"room_name":        out.RoomName,
			"reason":           reason,
		},
	})

	resp := buildReservationResponse(out)
	return &resp, nil
}

// 利用者キャンセル。pending / approved の間のみ。理由は任意。
func (s *Service) CancelReservation(ctx context.Context, id string, actor Actor, req CancelReservationRequest) (*ReservationResponse, error) {
	var out *Reservation
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending && r.Status != StatusApproved {
			return ErrInvalidState(id, "cancel", r.Status)
		}

		now := s.clock.Now()
		r.Status = StatusCancelled
		r.CancelledByID = sql.NullString{String: actor.ID, Valid: actor.ID != ""}
		r.CancelledByName = sql.NullString{String: actor.Name, Valid: actor.Name != ""}
		r.CancelledByType = sql.NullString{String: string(CancelByUser), Valid: true}
		r.CancelledAt = sql.NullTime{Time: now, Valid: true}
		if req.Reason != nil && strings.TrimSpace(*req.Reason) != "" {
			r.CancelReason = sql.NullString{String: strings.TrimSpace(*req.Reason), Valid: true}
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := buildReservationResponse(out)
	return &resp, nil
}

// 返却記録。approved からのみ。部屋状態メモと写真参照を保存するだけで、
// 台帳資源の解放は行わない。
func (s *Service) MarkReturned(ctx context.Context, id string, actor Actor, req MarkReturnedRequest) (*ReservationResponse, error) {
	var out *Reservation
	err := s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusApproved {
			return ErrInvalidState(id, "mark_returned", r.Status)
		}

		now := s.clock.Now()
		r.Status = StatusReturned
		r.ReturnedAt = sql.NullTime{Time: now, Valid: true}
		if req.ConditionNotes != nil && strings.TrimSpace(*req.ConditionNotes) != "" {
			r.ConditionNotes = sql.NullString{String: *req.ConditionNotes, Valid: true}
		}
		if len(req.PhotoRefs) > 0 {
			r.PhotoRefs = req.PhotoRefs
		}
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := buildReservationResponse(out)
	return &resp, nil
}

func (s *Service) GetReservation(ctx context.Context, id string) (*ReservationResponse, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := buildReservationResponse(r)
	return &resp, nil
}

func (s *Service) ListReservations(ctx context.Context, f ListFilter, p Page) ([]ReservationResponse, int64, error) {
	list, total, err := s.store.ListReservations(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ReservationResponse, 0, len(list))
	for i := range list {
		out = append(out, buildReservationResponse(&list[i]))
	}
	return out, total, nil
}
