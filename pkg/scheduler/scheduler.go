package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Job одна итерация периодической работы
type Job func(ctx context.Context) error

// Scheduler запускает Job с фиксированным интервалом. Итерации не
// перекрываются: следующий тик ждет завершения предыдущей.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	log      *logrus.Entry
}

func NewScheduler(name string, interval time.Duration, job Job, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		log:      log.WithField("job", name),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("Scheduler started")

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		}
	}
}

// RunOnce выполняет одну итерацию. Ошибка только логируется, следующий
// тик попробует снова.
func (s *Scheduler) RunOnce(ctx context.Context) {
	started := time.Now()
	if err := s.job(ctx); err != nil {
		s.log.WithError(err).Error("Scheduled job failed")
		return
	}
	s.log.WithField("duration", time.Since(started)).Debug("Scheduled job finished")
}
