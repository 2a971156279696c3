package rooms

type CreateRoomRequest struct {
	RoomCode string `json:"code" binding:"required"`
	RoomName string `json:"name" binding:"required"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

type UpdateRoomRequest struct {
	RoomCode   string `json:"code" binding:"required"`
	RoomName   string `json:"name" binding:"required"`
	Location   string `json:"location"`
	Capacity   int    `json:"capacity"`
	IsDisabled bool   `json:"is_disabled"`
}

// Room: 予約対象の部屋マスタ。無効化はソフトデリート。
type Room struct {
	RoomID     uint   `json:"id"`
	RoomCode   string `json:"code"`
	RoomName   string `json:"name"`
	Location   string `json:"location"`
	Capacity   int    `json:"capacity"`
	IsDisabled bool   `json:"is_disabled"`
}
