// Package audit writes the append-only login log asynchronously so that
// authentication latency never depends on the log write.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mizuhane/keygate/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry holds one login event to be logged.
type Entry struct {
	TraceID  string
	Username string
	Status   string
	Source   string
	IP       string
	Detail   interface{}
}

// Service logs login entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.LoginLog
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.LoginLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues a login entry for async DB write. Fire-and-forget: a full
// queue drops the entry with a warning rather than blocking the request.
func (svc *Service) Log(entry Entry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		b, _ := json.Marshal(entry.Detail)
		detail = datatypes.JSON(b)
	}
	record := &model.LoginLog{
		TraceID:  entry.TraceID,
		Username: entry.Username,
		Status:   entry.Status,
		Source:   entry.Source,
		IP:       entry.IP,
		Detail:   detail,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("login log channel full, dropping entry",
			zap.String("username", entry.Username))
	}
}

// Recent returns the newest login log rows, capped at limit.
func (svc *Service) Recent(ctx context.Context, limit int) ([]model.LoginLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []model.LoginLog
	err := svc.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// Cleanup deletes login logs older than the retention window. Run
// periodically by the scheduler; the log itself is never updated.
func (svc *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := svc.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.LoginLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("login log cleanup: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.LoginLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("login log batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
