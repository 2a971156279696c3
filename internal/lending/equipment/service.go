package equipment

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

// 備品マスタ登録
func (s *Service) Create(ctx context.Context, in CreateEquipmentRequest) (*EquipmentResponse, error) {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, ErrInvalid("code and name are required")
	}
	if !in.Category.Valid() {
		return nil, ErrInvalid("category must be asset or consumable")
	}
	if in.Quantity < 0 {
		return nil, ErrInvalid("quantity must be >= 0")
	}

	e := &Equipment{
		Code:     strings.TrimSpace(in.Code),
		Name:     strings.TrimSpace(in.Name),
		Category: in.Category,
		Quantity: in.Quantity,
	}
	if in.Note != nil && *in.Note != "" {
		e.Note = sql.NullString{String: *in.Note, Valid: true}
	}

	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}

	resp := buildResponse(e)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*EquipmentResponse, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := buildResponse(e)
	return &resp, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*EquipmentResponse, error) {
	if code == "" {
		return nil, ErrInvalid("code is required")
	}
	e, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	resp := buildResponse(e)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, p Page) ([]EquipmentResponse, int64, error) {
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	out := make([]EquipmentResponse, 0, len(items))
	for i := range items {
		out = append(out, buildResponse(&items[i]))
	}
	return out, total, nil
}

// 手動在庫調整（棚卸しなど）。借用フロー外の唯一の在庫変更経路。
func (s *Service) AdjustStock(ctx context.Context, id int64, in AdjustStockRequest) (*EquipmentResponse, error) {
	if in.Delta == 0 {
		return nil, ErrInvalid("delta must be non-zero")
	}
	e, err := s.store.AdjustStock(ctx, id, in.Delta)
	if err != nil {
		return nil, err
	}
	resp := buildResponse(e)
	return &resp, nil
}
