package units

import (
	"context"
	"database/sql"
	"strings"
)

type Service struct {
	store *Store
}

func NewService(db *sql.DB) *Service {
	return &Service{store: NewStore(db)}
}

// 個体一括登録
func (s *Service) Register(ctx context.Context, in RegisterUnitsRequest) ([]UnitResponse, error) {
	if in.EquipmentID <= 0 {
		return nil, ErrInvalid("equipment_id must be > 0")
	}
	if len(in.SerialCodes) == 0 {
		return nil, ErrInvalid("serial_codes must not be empty")
	}

	seen := make(map[string]struct{}, len(in.SerialCodes))
	us := make([]AssetUnit, 0, len(in.SerialCodes))
	for _, raw := range in.SerialCodes {
		code := strings.TrimSpace(raw)
		if code == "" {
			return nil, ErrInvalid("serial code must not be empty")
		}
		if _, dup := seen[code]; dup {
			return nil, ErrInvalid("duplicate serial code in request: " + code)
		}
		seen[code] = struct{}{}

		u := AssetUnit{SerialCode: code, EquipmentID: in.EquipmentID, Available: true}
		if in.Note != nil && *in.Note != "" {
			u.Note = sql.NullString{String: *in.Note, Valid: true}
		}
		us = append(us, u)
	}

	if err := s.store.RegisterBatch(ctx, us); err != nil {
		return nil, err
	}

	out := make([]UnitResponse, 0, len(us))
	for i := range us {
		u, err := s.store.GetBySerial(ctx, us[i].SerialCode)
		if err != nil {
			return nil, err
		}
		out = append(out, buildResponse(u))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, code string) (*UnitResponse, error) {
	if code == "" {
		return nil, ErrInvalid("serial_code is required")
	}
	u, err := s.store.GetBySerial(ctx, code)
	if err != nil {
		return nil, err
	}
	resp := buildResponse(u)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]UnitResponse, error) {
	us, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]UnitResponse, 0, len(us))
	for i := range us {
		out = append(out, buildResponse(&us[i]))
	}
	return out, nil
}

// 手動訂正。破損・紛失扱いの個体を台帳に戻すのはこの操作だけ。
func (s *Service) SetAvailability(ctx context.Context, code string, in SetAvailabilityRequest) (*UnitResponse, error) {
	if code == "" {
		return nil, ErrInvalid("serial_code is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, ErrInvalid("reason is required")
	}
	u, err := s.store.SetAvailability(ctx, code, in.Available, in.Reason)
	if err != nil {
		return nil, err
	}
	resp := buildResponse(u)
	return &resp, nil
}
