// Package worker запускает фоновые задачи сервиса по расписанию.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job описывает периодическую задачу.
type Job func(ctx context.Context) error

// Manager управляет планировщиком фоновых задач.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewManager создаёт менеджер задач.
func NewManager(logger *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{scheduler: s, logger: logger}, nil
}

// Register добавляет задачу, выполняемую каждые interval. Следующий запуск не начинается,
// пока не закончился предыдущий.
func (m *Manager) Register(ctx context.Context, name string, interval time.Duration, job Job) error {
	task := func() {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			m.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	return nil
}

// Start запускает планировщик.
func (m *Manager) Start() {
	m.scheduler.Start()
	m.logger.Info("worker started", zap.Int("jobs", len(m.scheduler.Jobs())))
}

// Stop останавливает планировщик и дожидается завершения запущенных задач.
func (m *Manager) Stop() error {
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	m.logger.Info("worker stopped")
	return nil
}
