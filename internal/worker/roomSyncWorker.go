package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/service"
)

// RoomSyncWorker периодически сверяет занятость комнат с бронями и
// завершает прошедшие брони
type RoomSyncWorker struct {
	syncService service.RoomSyncService
	interval    time.Duration
	clock       service.Clock
	log         *logrus.Entry
}

func NewRoomSyncWorker(syncService service.RoomSyncService, interval time.Duration, clock service.Clock, log *logrus.Entry) *RoomSyncWorker {
	if clock == nil {
		clock = time.Now
	}
	return &RoomSyncWorker{
		syncService: syncService,
		interval:    interval,
		clock:       clock,
		log:         log.WithField("component", "room_sync_worker"),
	}
}

// Start блокируется до отмены ctx. Первый проход выполняется сразу, чтобы
// после рестарта не ждать целый интервал.
func (w *RoomSyncWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval.String()).Info("Room sync worker started")
	w.syncRooms(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Room sync worker stopped")
			return
		case <-ticker.C:
			w.syncRooms(ctx)
		}
	}
}

// syncRooms выполняет один проход сверки
func (w *RoomSyncWorker) syncRooms(ctx context.Context) {
	report, err := w.syncService.SyncRooms(ctx, w.clock())
	if err != nil {
		w.log.WithError(err).Error("Failed to sync rooms")
		return
	}

	entry := w.log.WithFields(logrus.Fields{
		"rooms_checked":      report.RoomsChecked,
		"rooms_updated":      report.RoomsUpdated,
		"bookings_completed": report.BookingsCompleted,
	})

	// Ошибки по отдельным комнатам не прерывают проход
	if len(report.Errors) > 0 {
		entry.WithField("errors", report.Errors).Warnf("%d rooms failed to sync", len(report.Errors))
		return
	}
	if report.RoomsUpdated == 0 {
		entry.Debug("Room sync completed, nothing changed")
		return
	}
	entry.Info("Room sync completed")
}

// GetStats возвращает статистику работы воркера
func (w *RoomSyncWorker) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"worker_type": "room_sync",
		"interval":    w.interval.String(),
	}
}
