package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/service"
	"github.com/ds124wfegd/roombooker/pkg/queue"
)

// TaskHandler обрабатывает задачи из очереди
type TaskHandler struct {
	syncService service.RoomSyncService
	clock       service.Clock
	log         *logrus.Entry
}

// NewTaskHandler создает новый обработчик задач
func NewTaskHandler(syncService service.RoomSyncService, clock service.Clock, log *logrus.Entry) *TaskHandler {
	if clock == nil {
		clock = time.Now
	}
	return &TaskHandler{
		syncService: syncService,
		clock:       clock,
		log:         log.WithField("component", "task_handler"),
	}
}

// HandleTask обрабатывает задачу. Ошибки, обернутые в queue.Permanent,
// отправляют задачу сразу в DLQ без повторов.
func (h *TaskHandler) HandleTask(ctx context.Context, task *queue.Task) error {
	h.log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"type":     task.Type,
		"attempts": task.Attempts,
	}).Debug("Обработка задачи")

	switch task.Type {
	case queue.TaskTypeSyncRoom:
		return h.handleSyncRoom(ctx, task)
	default:
		return queue.Permanent(fmt.Errorf("неизвестный тип задачи: %s", task.Type))
	}
}

// handleSyncRoom сверяет одну комнату в момент начала или окончания брони,
// не дожидаясь периодического прохода
func (h *TaskHandler) handleSyncRoom(ctx context.Context, task *queue.Task) error {
	roomID, ok := task.GetInt64("room_id")
	if !ok {
		return queue.Permanent(fmt.Errorf("задача %s: не указан room_id", task.ID))
	}

	result, err := h.syncService.SyncRoom(ctx, roomID, h.clock())
	if errors.Is(err, entity.ErrNotFound) {
		// Комнату удалили, повторять бессмысленно
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("sync room %d: %w", roomID, err)
	}

	entry := h.log.WithFields(logrus.Fields{
		"room_id": roomID,
		"status":  result.Status,
	})
	if bookingID, ok := task.GetInt64("booking_id"); ok {
		entry = entry.WithField("booking_id", bookingID)
	}
	if result.Changed() {
		entry.WithField("completed", len(result.CompletedBookings)).Info("Комната синхронизирована по задаче")
	} else {
		entry.Debug("Комната уже в актуальном состоянии")
	}
	return nil
}
