package labels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"ELMS-backend/internal/lending/equipment"
	"ELMS-backend/internal/lending/units"
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
	Code    Code   `json:"code"`
	Message string `json:"message"`
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

// ===== Service =====

type Service struct {
	units     *units.Store
	equipment *equipment.Store
}

func NewService(db *sql.DB) *Service {
	return &Service{
		units:     units.NewStore(db),
		equipment: equipment.NewStore(db),
	}
}

// PrintUnitLabels シリアルコードのラベルを SPC10 で印刷する。
// コードは登録済みユニットに限定し、ラベル上の品名は備品マスタから引く。
func (s *Service) PrintUnitLabels(ctx context.Context, input PrintUnitLabelsRequest) (*PrintResponse, error) {
	if len(input.SerialCodes) == 0 {
		return nil, ErrInvalid("serial_codes is required")
	}

	names := map[int64]*equipment.Equipment{}
	rows := make([]PrintRow, 0, len(input.SerialCodes))
	for _, code := range input.SerialCodes {
		u, err := s.units.GetBySerial(ctx, code)
		if err != nil {
			var api *units.APIError
			if errors.As(err, &api) && api.Code == units.CodeNotFound {
				return nil, ErrNotFound("unknown serial code: " + code)
			}
			return nil, err
		}

		eq, ok := names[u.EquipmentID]
		if !ok {
			eq, err = s.equipment.GetByID(ctx, u.EquipmentID)
			if err != nil {
				return nil, err
			}
			names[u.EquipmentID] = eq
		}

		note := ""
		if u.Note.Valid {
			note = u.Note.String
		}
		rows = append(rows, PrintRow{
			Checked:       true,
			EquipmentName: eq.Name,
			Category:      string(eq.Category),
			SerialCode:    u.SerialCode,
			Note:          note,
		})
	}

	params := PrintParams{
		TemplateWidthMM:     input.Width,
		BarcodeType:         input.Type,
		UseHalfcut:          input.Config.UseHalfcut,
		ConfirmTapeWidthDlg: input.Config.ConfirmTapeWidth,
		EnablePrintLog:      input.Config.EnablePrintLog,
	}

	if err := PrintSerialLabels(rows, params); err != nil {
		if errors.Is(err, ErrTapeSizeNotMatched) {
			// テープ幅の不一致は「クライアントからの要求とサーバーの状態の競合」:409 Conflictを返す
			log.Println("[WARN]", ErrConflict(err.Error()))
			return nil, ErrConflict(err.Error())
		}
		if errors.Is(err, ErrTemplateNotFound) {
			log.Println("[WARN]", ErrNotFound(err.Error()))
			return nil, ErrNotFound(err.Error())
		}
		if errors.Is(err, ErrNoPrintableSelected) {
			log.Println("[WARN]", ErrInvalid(err.Error()))
			return nil, ErrInvalid(err.Error())
		}
		if errors.Is(err, ErrSPC10NotFound) {
			log.Println("[ERROR]", ErrInternal(err.Error()))
			return nil, ErrInternal(err.Error())
		}

		log.Printf("[ERROR] %v\n", err)
		return nil, ErrInternal(err.Error())
	}

	return &PrintResponse{Printed: len(rows)}, nil
}
