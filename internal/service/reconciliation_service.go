package service

import (
	"context"
	"fmt"

	"medvik/internal/config"
	"medvik/internal/domain"
	"medvik/internal/events"
	"medvik/internal/metrics"
	"medvik/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconciliationService cross-checks pool counters against reservation
// rows and account balances against posting sums. Resource mismatches may
// be auto-corrected; financial mismatches are only ever flagged.
type ReconciliationService struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	worker   domain.ReportWorker
	cfg      config.ReconciliationConfig
	logger   *zerolog.Logger
}

func NewReconciliationService(repo domain.Repository, eventBus domain.EventPublisher, worker domain.ReportWorker, cfg config.ReconciliationConfig, logger *zerolog.Logger) *ReconciliationService {
	return &ReconciliationService{
		repo:     repo,
		eventBus: eventBus,
		worker:   worker,
		cfg:      cfg,
		logger:   logger,
	}
}

func poolSubject(hospitalID int64, resourceType string) string {
	return fmt.Sprintf("pool:%d/%s", hospitalID, resourceType)
}

func accountSubject(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// RunOnce executes one full reconciliation pass. An error on a single
// subject is logged and the pass continues; the run always completes.
func (s *ReconciliationService) RunOnce(ctx context.Context) ([]*models.ReconciliationRecord, error) {
	runID := uuid.NewString()
	records := make([]*models.ReconciliationRecord, 0)

	resourceRecords, err := s.checkPools(ctx, runID)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("pool reconciliation error")
	}
	records = append(records, resourceRecords...)

	financialRecords, err := s.checkAccounts(ctx, runID)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("account reconciliation error")
	}
	records = append(records, financialRecords...)

	// итоговая строка прогона, по ней видно и чистые запуски
	summary := &models.ReconciliationRecord{
		RunID:            runID,
		Scope:            models.ScopeRun,
		Subject:          "run:" + runID,
		ExpectedValue:    0,
		ActualValue:      int64(len(records)),
		Discrepancy:      int64(len(records)),
		ResolutionAction: models.ResolutionNone,
	}
	if err := s.repo.InsertReconciliationRecord(ctx, summary); err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("summary insert error")
	}

	s.logger.Info().
		Str("run_id", runID).
		Int("discrepancies", len(records)).
		Msg("reconciliation run finished")

	return records, nil
}

// checkPools recomputes each pool's expected counters from its live
// reservation rows and compares against the stored counters.
func (s *ReconciliationService) checkPools(ctx context.Context, runID string) ([]*models.ReconciliationRecord, error) {
	snapshots, err := s.repo.GetPoolSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var records []*models.ReconciliationRecord
	for _, snap := range snapshots {
		expectedReserved := snap.HeldCount
		expectedOccupied := snap.CommittedCount
		expectedAvailable := snap.Pool.Total - expectedReserved - expectedOccupied

		if snap.Pool.Available == expectedAvailable &&
			snap.Pool.Reserved == expectedReserved &&
			snap.Pool.Occupied == expectedOccupied {
			continue
		}

		action := models.ResolutionFlagged
		if s.cfg.AutoCorrectResources {
			reason := fmt.Sprintf("reconciliation run %s", runID)
			if err := s.repo.CorrectPoolCounters(ctx, snap.Pool.HospitalID, snap.Pool.ResourceType,
				expectedAvailable, expectedReserved, expectedOccupied, models.SystemActor, reason); err != nil {
				s.logger.Error().Err(err).
					Int64("hospital_id", snap.Pool.HospitalID).
					Str("resource_type", snap.Pool.ResourceType).
					Msg("pool correction error")
			} else {
				action = models.ResolutionCorrected
			}
		}

		record := &models.ReconciliationRecord{
			RunID:            runID,
			Scope:            models.ScopeResource,
			Subject:          poolSubject(snap.Pool.HospitalID, snap.Pool.ResourceType),
			ExpectedValue:    expectedAvailable,
			ActualValue:      snap.Pool.Available,
			Discrepancy:      snap.Pool.Available - expectedAvailable,
			ResolutionAction: action,
		}
		s.emit(ctx, record)
		records = append(records, record)
	}

	return records, nil
}

// checkAccounts compares each account balance against the sum of its
// postings. Money is never auto-corrected.
func (s *ReconciliationService) checkAccounts(ctx context.Context, runID string) ([]*models.ReconciliationRecord, error) {
	sums, err := s.repo.GetAccountSums(ctx)
	if err != nil {
		return nil, err
	}

	var records []*models.ReconciliationRecord
	for _, sum := range sums {
		diff := sum.Balance - sum.PostingSum
		if diff == 0 {
			continue
		}
		abs := diff
		if abs < 0 {
			abs = -abs
		}

		// порог управляет эскалацией, расхождение фиксируется всегда
		action := models.ResolutionFlagged
		if abs <= s.cfg.FinancialFlagThreshold {
			action = models.ResolutionNone
		}

		record := &models.ReconciliationRecord{
			RunID:            runID,
			Scope:            models.ScopeFinancial,
			Subject:          accountSubject(sum.AccountID),
			ExpectedValue:    sum.PostingSum,
			ActualValue:      sum.Balance,
			Discrepancy:      diff,
			ResolutionAction: action,
		}
		s.emit(ctx, record)
		records = append(records, record)
	}

	return records, nil
}

func (s *ReconciliationService) emit(ctx context.Context, record *models.ReconciliationRecord) {
	if err := s.repo.InsertReconciliationRecord(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("subject", record.Subject).Msg("record insert error")
	}

	metrics.IncDiscrepancy(record.Scope)

	if s.eventBus != nil {
		payload := events.DiscrepancyEventPayload{
			RunID:            record.RunID,
			Scope:            record.Scope,
			Subject:          record.Subject,
			ExpectedValue:    record.ExpectedValue,
			ActualValue:      record.ActualValue,
			Discrepancy:      record.Discrepancy,
			ResolutionAction: record.ResolutionAction,
		}
		if err := s.eventBus.PublishJSON(events.EventReconciliationDiscrepancy, payload); err != nil {
			s.logger.Error().Err(err).Str("subject", record.Subject).Msg("publish event error")
		}
	}

	if s.worker != nil {
		if err := s.worker.EnqueueDiscrepancy(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("subject", record.Subject).Msg("report enqueue error")
		}
	}
}
