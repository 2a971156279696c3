package borrows

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

	// 1. 貸出リソース
	r.POST("/borrows", h.CreateBorrow)
	r.GET("/borrows", h.ListBorrows)
	r.GET("/borrows/:borrow_ulid", h.GetBorrow)

	// 2. 遷移操作
	r.POST("/borrows/:borrow_ulid/acknowledge", h.AcknowledgeReceipt)
	r.POST("/borrows/:borrow_ulid/return", h.SubmitReturn)
	r.POST("/borrows/:borrow_ulid/cancel", h.CancelBorrow)
}

// 承認系は admin ロール必須なので別グループで登録する
func RegisterApprovalRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/borrows/:borrow_ulid/return/approve", h.ApproveReturn)
	r.POST("/borrows/:borrow_ulid/return/reject", h.RejectReturn)
}

// ---------- handlers ----------

func (h *Handler) CreateBorrow(c *gin.Context) {
	var req CreateBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	res, err := h.svc.CreateBorrow(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/borrows/"+res.BorrowULID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBorrow(c *gin.Context) {
	res, err := h.svc.GetBorrow(c.Request.Context(), c.Param("borrow_ulid"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListBorrows(c *gin.Context) {
	f := ListFilter{RequesterID: c.Query("requester_id")}
	if v := c.Query("status"); v != "" {
		st := BorrowStatus(v)
		f.Status = &st
	}
	if v := c.Query("borrow_type"); v != "" {
		bt := BorrowType(v)
		f.BorrowType = &bt
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
	items, total, err := h.svc.ListBorrows(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *Handler) AcknowledgeReceipt(c *gin.Context) {
	res, err := h.svc.AcknowledgeReceipt(c.Request.Context(), c.Param("borrow_ulid"), actorFrom(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SubmitReturn(c *gin.Context) {
	var req SubmitReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.SubmitReturn(c.Request.Context(), c.Param("borrow_ulid"), actorFrom(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ApproveReturn(c *gin.Context) {
	res, err := h.svc.ApproveReturn(c.Request.Context(), c.Param("borrow_ulid"), actorFrom(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RejectReturn(c *gin.Context) {
	var req RejectReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.RejectReturn(c.Request.Context(), c.Param("borrow_ulid"), actorFrom(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelBorrow(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CancelBorrow(c.Request.Context(), c.Param("borrow_ulid"), actorFrom(c), req)
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
