// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежечасная чистка протухших
// кодов подтверждения и ежедневная чистка залежавшихся токенов.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"account-api/internal/features/secure"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron   *cron.Cron
	secure *secure.Service
}

// NewScheduler создаёт планировщик задач. Расписание в UTC.
func NewScheduler(secureService *secure.Service) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		secure: secureService,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Ежечасная чистка протухших кодов подтверждения
	s.cron.AddFunc("0 * * * *", func() {
		log.Debug("[CRON] Чистка протухших кодов подтверждения")
		n, err := s.secure.PurgeExpired(ctx)
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка чистки кодов")
			return
		}
		if n > 0 {
			log.WithField("purged", n).Info("[CRON] Удалены протухшие коды подтверждения")
		}
	})

	// Ежедневная чистка токенов, которыми давно не пользовались
	s.cron.AddFunc("0 0 * * *", func() {
		log.Debug("[CRON] Чистка залежавшихся токенов")
		n, err := s.secure.PurgeStaleTokens(ctx)
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка чистки токенов")
			return
		}
		if n > 0 {
			log.WithField("purged", n).Info("[CRON] Удалены залежавшиеся токены")
		}
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен")
}

// Stop останавливает планировщик.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
