package reservations

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ELMS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/reservations", h.CreateReservation)
	r.GET("/reservations", h.ListReservations)
	r.GET("/reservations/:reservation_ulid", h.GetReservation)
	r.POST("/reservations/:reservation_ulid/cancel", h.CancelReservation)
	r.POST("/reservations/:reservation_ulid/return", h.MarkReturned)
}

// 承認・棄却は admin グループに登録する
func RegisterApprovalRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/reservations/:reservation_ulid/approve", h.ApproveReservation)
	r.POST("/reservations/:reservation_ulid/reject", h.RejectReservation)
}

func (h *Handler) CreateReservation(c *gin.Context) {
	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.CreateReservation(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/reservations/"+res.ReservationULID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetReservation(c *gin.Context) {
	res, err := h.svc.GetReservation(c.Request.Context(), c.Param("reservation_ulid"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListReservations(c *gin.Context) {
	f := ListFilter{
		RequesterID: c.Query("requester_id"),
		RoomID:      c.Query("room_id"),
	}
	if v := c.Query("status"); v != "" {
		st := ReservationStatus(v)
		f.Status = &st
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	if v := c.Query("only_outstanding"); v == "true" || v == "1" {
		f.OnlyOutstanding = true
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	items, total, err := h.svc.ListReservations(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *Handler) ApproveReservation(c *gin.Context) {
	res, err := h.svc.ApproveReservation(c.Request.Context(), c.Param("reservation_ulid"), actorFrom(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RejectReservation(c *gin.Context) {
	var req RejectReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "reason is required"))
		return
	}
	res, err := h.svc.RejectReservation(c.Request.Context(), c.Param("reservation_ulid"), actorFrom(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelReservation(c *gin.Context) {
	var req CancelReservationRequest
	// 理由は任意なので body なしも許す
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
			return
		}
	}
	res, err := h.svc.CancelReservation(c.Request.Context(), c.Param("reservation_ulid"), actorFrom(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkReturned(c *gin.Context) {
	var req MarkReturnedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
			return
		}
	}
	res, err := h.svc.MarkReturned(c.Request.Context(), c.Param("reservation_ulid"), actorFrom(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

func actorFrom(c *gin.Context) Actor {
	id, name := auth.ActorFrom(c)
	return Actor{ID: id, Name: name}
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	if api, ok := err.(*APIError); ok {
		code, msg = api.Code, api.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
