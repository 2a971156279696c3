package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

type Service struct {
	db    *sql.DB
	store *Store
}

func NewService(db *sql.DB) *Service { return &Service{db: db, store: NewStore(db)} }

func parseBoolish(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s == "1" || s == "true" || s == "yes" || s == "all"
}

func normalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalid("code is required")
	}
	return code, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalid("name is required")
	}
	return name, nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}

// ===== rooms =====

func (s *Service) ListRooms(ctx context.Context, all string) ([]Room, error) {
	includeDisabled := parseBoolish(all)
	return s.store.ListRooms(ctx, includeDisabled)
}

func (s *Service) GetRoom(ctx context.Context, id uint) (*Room, error) {
	r, err := s.store.GetRoomByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("room not found")
		}
		return nil, ErrInternal("failed to get room")
	}
	return r, nil
}

func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	c, err := normalizeCode(req.RoomCode)
	if err != nil {
		return nil, err
	}
	n, err := normalizeName(req.RoomName)
	if err != nil {
		return nil, err
	}
	if req.Capacity < 0 {
		return nil, ErrInvalid("capacity must be >= 0")
	}

	r, err := s.store.CreateRoom(ctx, c, n, strings.TrimSpace(req.Location), req.Capacity)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrConflict("room_code already exists")
		}
		return nil, ErrInternal("failed to create room")
	}
	return r, nil
}

func (s *Service) UpdateRoom(ctx context.Context, id uint, req UpdateRoomRequest) (*Room, error) {
	c, err := normalizeCode(req.RoomCode)
	if err != nil {
		return nil, err
	}
	n, err := normalizeName(req.RoomName)
	if err != nil {
		return nil, err
	}
	if req.Capacity < 0 {
		return nil, ErrInvalid("capacity must be >= 0")
	}

	err = s.store.UpdateRoom(ctx, id, c, n, strings.TrimSpace(req.Location), req.Capacity, req.IsDisabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("room not found")
		}
		if isDuplicateKey(err) {
			return nil, ErrConflict("room_code already exists")
		}
		return nil, ErrInternal("failed to update room")
	}
	return s.GetRoom(ctx, id)
}

func (s *Service) DeleteRoom(ctx context.Context, id uint) error {
	err := s.store.DisableRoom(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("room not found")
		}
		return ErrInternal("failed to delete room")
	}
	return nil
}
