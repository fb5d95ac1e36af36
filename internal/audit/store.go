package audit

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the audit log's GORM-backed handle, narrowed to a single SQLite
// file (or ":memory:" for tests) rather than the teacher's MySQL instance:
// this engine's system of record is the external FHIR server, so the audit
// log only ever needs a local, single-writer store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a SQLite-backed audit store at path and
// migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	if err := db.AutoMigrate(&ExecutionRecordModel{}, &BatchRunModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db for closing: %w", err)
	}
	return sqlDB.Close()
}

// RecordExecution appends one Orchestrator run to the log.
func (s *Store) RecordExecution(r ExecutionRecord) error {
	model := &ExecutionRecordModel{}
	model.FromDomain(r)
	if err := s.db.Create(model).Error; err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ExecutionsForBatch returns every execution recorded under a batch run.
func (s *Store) ExecutionsForBatch(batchRunID string) ([]ExecutionRecord, error) {
	var rows []ExecutionRecordModel
	if err := s.db.Where("batch_run_id = ?", batchRunID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list executions for batch: %w", err)
	}
	out := make([]ExecutionRecord, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

// StartBatchRun inserts a running BatchRun row.
func (s *Store) StartBatchRun(r BatchRun) error {
	model := &BatchRunModel{}
	model.FromDomain(r)
	if err := s.db.Create(model).Error; err != nil {
		return fmt.Errorf("failed to start batch run: %w", err)
	}
	return nil
}

// FinishBatchRun updates a BatchRun row's terminal status and counters.
func (s *Store) FinishBatchRun(r BatchRun) error {
	result := s.db.Model(&BatchRunModel{}).
		Where("batch_run_id = ?", r.BatchRunID).
		Updates(map[string]any{
			"status":          r.Status,
			"patients_total":  r.PatientsTotal,
			"patients_ok":     r.PatientsOK,
			"patients_failed": r.PatientsFailed,
			"finished_at":     r.FinishedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish batch run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("batch run %s not found", r.BatchRunID)
	}
	return nil
}

// GetBatchRun retrieves a batch run by ID.
func (s *Store) GetBatchRun(batchRunID string) (BatchRun, error) {
	var model BatchRunModel
	if err := s.db.Where("batch_run_id = ?", batchRunID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return BatchRun{}, fmt.Errorf("batch run %s not found", batchRunID)
		}
		return BatchRun{}, fmt.Errorf("failed to get batch run: %w", err)
	}
	return model.ToDomain(), nil
}
