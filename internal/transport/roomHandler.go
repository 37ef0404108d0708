package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/service"
)

type RoomHandler struct {
	roomService         service.RoomService
	availabilityService service.AvailabilityService
	slotService         service.SlotService
	loc                 *time.Location
	clock               service.Clock
	log                 *logrus.Entry
}

func NewRoomHandler(
	roomService service.RoomService,
	availabilityService service.AvailabilityService,
	slotService service.SlotService,
	loc *time.Location,
	clock service.Clock,
	log *logrus.Entry,
) *RoomHandler {
	if clock == nil {
		clock = time.Now
	}
	return &RoomHandler{
		roomService:         roomService,
		availabilityService: availabilityService,
		slotService:         slotService,
		loc:                 loc,
		clock:               clock,
		log:                 log.WithField("component", "room_handler"),
	}
}

type MaintenanceRequest struct {
	Maintenance *bool `json:"maintenance" binding:"required"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req service.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusCreated, "Room created", room)
}

func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req service.RoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.roomService.UpdateRoom(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Room updated", room)
}

func (h *RoomHandler) SetMaintenance(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.roomService.SetMaintenance(c.Request.Context(), actor, id, *req.Maintenance)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Room maintenance updated", room)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Room retrieved", room)
}

func (h *RoomHandler) GetAllRooms(c *gin.Context) {
	rooms, err := h.roomService.GetAllRooms(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Rooms retrieved", rooms)
}

// GetTimeSlots сетка слотов комнаты на дату, по умолчанию на сегодня
func (h *RoomHandler) GetTimeSlots(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	date, ok := queryDate(c, h.loc, h.clock())
	if !ok {
		return
	}

	slots, err := h.slotService.GetTimeSlots(c.Request.Context(), id, date)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Time slots retrieved", slots)
}

func (h *RoomHandler) CheckAvailability(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	start, end, ok := queryInterval(c)
	if !ok {
		return
	}

	result, err := h.availabilityService.CheckAvailability(c.Request.Context(), id, start, end)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Availability checked", result)
}

// GetFleetAvailability сводка по всем комнатам: на дату либо на интервал,
// если переданы start и end
func (h *RoomHandler) GetFleetAvailability(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("start") != "" || c.Query("end") != "" {
		start, end, ok := queryInterval(c)
		if !ok {
			return
		}
		fleet, err := h.slotService.GetFleetAvailabilityForRange(ctx, start, end)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		respond(c, http.StatusOK, "Fleet availability retrieved", fleet)
		return
	}

	date, ok := queryDate(c, h.loc, h.clock())
	if !ok {
		return
	}
	fleet, err := h.slotService.GetFleetAvailability(ctx, date)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Fleet availability retrieved", fleet)
}

// GetAvailableRooms комнаты, свободные на весь интервал, от дешевых к дорогим
func (h *RoomHandler) GetAvailableRooms(c *gin.Context) {
	start, end, ok := queryInterval(c)
	if !ok {
		return
	}

	rooms, err := h.availabilityService.ListAvailableRooms(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Available rooms retrieved", rooms)
}
