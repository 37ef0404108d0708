package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/service"
	"github.com/ds124wfegd/roombooker/pkg/queue"
)

// QueueInspector показывает состояние очереди задач и DLQ
type QueueInspector interface {
	GetQueueStats(ctx context.Context) (*queue.QueueStats, error)
	DLQ() queue.DLQHandler
}

type AdminHandler struct {
	syncService service.RoomSyncService
	queue       QueueInspector
	clock       service.Clock
	log         *logrus.Entry
}

// NewAdminHandler. q может быть nil, если Redis выключен
func NewAdminHandler(syncService service.RoomSyncService, q QueueInspector, clock service.Clock, log *logrus.Entry) *AdminHandler {
	if clock == nil {
		clock = time.Now
	}
	return &AdminHandler{
		syncService: syncService,
		queue:       q,
		clock:       clock,
		log:         log.WithField("component", "admin_handler"),
	}
}

// SyncRooms запускает сверку занятости немедленно, не дожидаясь воркера
func (h *AdminHandler) SyncRooms(c *gin.Context) {
	report, err := h.syncService.SyncRooms(c.Request.Context(), h.clock())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Rooms synchronized", report)
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	if !h.queueEnabled(c) {
		return
	}

	stats, err := h.queue.GetQueueStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	dlq, err := h.queue.DLQ().GetDLQStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Queue stats retrieved", gin.H{"queue": stats, "dlq": dlq})
}

func (h *AdminHandler) FailedTasks(c *gin.Context) {
	if !h.queueEnabled(c) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		badRequest(c, "invalid limit")
		return
	}

	tasks, err := h.queue.DLQ().GetFailedTasks(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Failed tasks retrieved", tasks)
}

func (h *AdminHandler) RequeueTask(c *gin.Context) {
	if !h.queueEnabled(c) {
		return
	}

	err := h.queue.DLQ().RequeueFailedTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, queue.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	respond(c, http.StatusOK, "Task requeued", nil)
}

func (h *AdminHandler) queueEnabled(c *gin.Context) bool {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Success: false, Error: "task queue is disabled"})
		return false
	}
	return true
}
