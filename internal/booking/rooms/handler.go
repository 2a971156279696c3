// handler.go
package rooms

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:id", h.GetRoom)
}

// 部屋マスタの変更は admin のみ
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/rooms", h.CreateRoom)
	r.PUT("/rooms/:id", h.UpdateRoom)
	r.DELETE("/rooms/:id", h.DeleteRoom)
}

func (h *Handler) ListRooms(c *gin.Context) {
	resp, err := h.svc.ListRooms(c.Request.Context(), c.Query("all"))
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetRoom(c *gin.Context) {
	idU64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || idU64 == 0 {
		c.JSON(http.StatusBadRequest, ErrInvalid("invalid id"))
		return
	}
	resp, err := h.svc.GetRoom(c.Request.Context(), uint(idU64))
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrInvalid(err.Error()))
		return
	}
	resp, err := h.svc.CreateRoom(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) UpdateRoom(c *gin.Context) {
	idU64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || idU64 == 0 {
		c.JSON(http.StatusBadRequest, ErrInvalid("invalid id"))
		return
	}
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrInvalid(err.Error()))
		return
	}
	resp, err := h.svc.UpdateRoom(c.Request.Context(), uint(idU64), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	idU64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || idU64 == 0 {
		c.JSON(http.StatusBadRequest, ErrInvalid("invalid id"))
		return
	}
	err = h.svc.DeleteRoom(c.Request.Context(), uint(idU64))
	if err != nil {
		c.JSON(toHTTPStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}
