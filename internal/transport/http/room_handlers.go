package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
)

// RoomHandlers exposes read-only views of the live room registry.
type RoomHandlers struct {
	registry *core.Registry
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *core.Registry, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		log:      logger,
	}
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// RoomListResponse is the body of GET /api/rooms.
type RoomListResponse struct {
	Rooms        []RoomResponse `json:"rooms"`
	TotalRooms   int            `json:"total_rooms"`
	TotalMembers int            `json:"total_members"`
}

// RoomDetailResponse is the body of GET /api/rooms/:room.
type RoomDetailResponse struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
	Members   int      `json:"members"`
}

// ListRooms handles listing live rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms := h.registry.Rooms()
	stats := h.registry.Stats()

	response := RoomListResponse{
		Rooms:        make([]RoomResponse, 0, len(rooms)),
		TotalRooms:   stats.Rooms,
		TotalMembers: stats.Members,
	}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, RoomResponse{Name: room.Name, Members: room.Members})
	}

	h.log.Debug().Int("room_count", len(rooms)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns the members of one room.
// GET /api/rooms/:room
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	name := c.Param("room")
	ids, ok := h.registry.Room(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	c.JSON(http.StatusOK, RoomDetailResponse{
		Name:      name,
		MemberIDs: ids,
		Members:   len(ids),
	})
}
