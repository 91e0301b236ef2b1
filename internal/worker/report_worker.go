package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medvik/internal/database"
	"medvik/internal/domain"
	"medvik/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskBookingUpsert = "booking_upsert"
	TaskLedgerEntry   = "ledger_entry"
	TaskDiscrepancy   = "discrepancy"
)

// reportTaskPayload is persisted in ReportTask.Payload as JSON.
type reportTaskPayload struct {
	Booking     *models.Booking              `json:"booking,omitempty"`
	Transaction *models.Transaction          `json:"transaction,omitempty"`
	Record      *models.ReconciliationRecord `json:"record,omitempty"`
}

// ReportWorker consumes report_queue tasks and applies them to the
// reporting spreadsheet. Tasks survive restarts in the DB; redis carries
// the hot path with an in-memory channel as last resort.
type ReportWorker struct {
	db            *database.DB
	sheets        domain.SheetsWriter
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.ReportTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewReportWorker builds a worker with sane defaults.
func NewReportWorker(db *database.DB, sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *ReportWorker {
	retry = retry.normalized()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &ReportWorker{
		db:            db,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.ReportTask, 128),
		redisQueueKey: "reports:queue",
		deadLetterKey: "reports:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

func (w *ReportWorker) EnqueueBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}
	return w.enqueue(ctx, TaskBookingUpsert, booking.ID, reportTaskPayload{Booking: booking})
}

func (w *ReportWorker) EnqueueLedgerEntry(ctx context.Context, txn *models.Transaction) error {
	if txn == nil || txn.ID == 0 {
		return errors.New("transaction id is required")
	}
	return w.enqueue(ctx, TaskLedgerEntry, txn.ID, reportTaskPayload{Transaction: txn})
}

func (w *ReportWorker) EnqueueDiscrepancy(ctx context.Context, record *models.ReconciliationRecord) error {
	if record == nil {
		return errors.New("record is required")
	}
	return w.enqueue(ctx, TaskDiscrepancy, record.ID, reportTaskPayload{Record: record})
}

// enqueue persists the task to DB and schedules it via redis or the
// in-memory queue.
func (w *ReportWorker) enqueue(ctx context.Context, taskType string, subjectID int64, payload reportTaskPayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.ReportTask{
		TaskType:  taskType,
		SubjectID: subjectID,
		Payload:   string(payloadBytes),
		Status:    "pending",
		CreatedAt: time.Now(),
	}

	if err := w.db.CreateReportTask(ctx, &task); err != nil {
		return fmt.Errorf("persist report task: %w", err)
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("report_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	// Fallback to in-memory queue if redis missing or failed.
	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("report_worker: in-memory queue full, task dropped to polling")
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *ReportWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("report_worker: started")
	defer w.logger.Info().Msg("report_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingReportTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("report_worker: fetch pending")
			time.Sleep(w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *ReportWorker) tryLocalQueue() (models.ReportTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.ReportTask{}, false
	}
}

func (w *ReportWorker) tryRedis(ctx context.Context) (models.ReportTask, bool) {
	if w.redis == nil {
		return models.ReportTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.ReportTask{}, false
		}
		w.logger.Error().Err(err).Msg("report_worker: redis BRPOP error")
		return models.ReportTask{}, false
	}
	if len(res) != 2 {
		return models.ReportTask{}, false
	}
	var task models.ReportTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("report_worker: decode redis task")
		return models.ReportTask{}, false
	}
	return task, true
}

func (w *ReportWorker) processTask(ctx context.Context, task *models.ReportTask) {
	// без настроенного writer отчёты некуда писать
	if w.sheets == nil {
		if err := w.db.UpdateReportTaskStatus(ctx, task.ID, "completed", "sheets writer not configured", nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: mark skipped")
		}
		return
	}

	var payload reportTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateReportTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: mark completed")
	}
}

func (w *ReportWorker) handleTask(ctx context.Context, taskType string, payload reportTaskPayload) error {
	switch taskType {
	case TaskBookingUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.sheets.UpsertBookingRow(ctx, payload.Booking)
	case TaskLedgerEntry:
		if payload.Transaction == nil {
			return errors.New("transaction payload missing")
		}
		return w.sheets.AppendLedgerRow(ctx, payload.Transaction)
	case TaskDiscrepancy:
		if payload.Record == nil {
			return errors.New("record payload missing")
		}
		return w.sheets.AppendDiscrepancyRow(ctx, payload.Record)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *ReportWorker) retryOrFail(ctx context.Context, task *models.ReportTask, cause error) {
	attempt := task.RetryCount + 1
	nextDelay, ok := w.retryPolicy.Next(attempt)
	if !ok {
		if err := w.db.UpdateReportTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: mark failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextTime := time.Now().Add(nextDelay)
	if err := w.db.UpdateReportTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: mark retry")
	}
}

func (w *ReportWorker) failTask(ctx context.Context, task *models.ReportTask, cause error) {
	if err := w.db.UpdateReportTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func (w *ReportWorker) pushRedis(ctx context.Context, task models.ReportTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *ReportWorker) pushDeadLetter(ctx context.Context, task *models.ReportTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("report_worker: deadletter push")
	}
}
