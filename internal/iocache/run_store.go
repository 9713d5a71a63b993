package iocache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// Table names for run tracking.
const (
	trainingRunsTable = "defectrisk_training_runs"
	epochMetricsTable = "defectrisk_epoch_metrics"
	riskScoresTable   = "defectrisk_risk_scores"
)

// runTables lists the run tables in creation order.
var runTables = []string{trainingRunsTable, epochMetricsTable, riskScoresTable}

// RunStoreImpl implements the RunStore interface.
type RunStoreImpl struct {
	db      *sql.DB
	backend schema.DatabaseBackend
}

var _ contract.RunStore = &RunStoreImpl{} // Compile-time check

// NewRunStore creates a new RunStore with the specified backend.
func NewRunStore(backend schema.DatabaseBackend, connStr string) (*RunStoreImpl, error) {
	if backend == schema.NoneBackend {
		// No-op store for disabled tracking
		return &RunStoreImpl{backend: backend}, nil
	}
	if _, ok := schema.ValidDatabaseBackends[backend]; !ok {
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}

	db, err := openDB(backend, connStr, contract.GetRunsDBFilePath())
	if err != nil {
		return nil, err
	}

	if err := createRunTables(db, backend); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create run tables: %w", err)
	}

	return &RunStoreImpl{db: db, backend: backend}, nil
}

// createRunTables creates the run tracking tables.
func createRunTables(db *sql.DB, backend schema.DatabaseBackend) error {
	for _, table := range runTables {
		if _, err := db.Exec(getCreateRunTableQuery(table, backend)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// getCreateRunTableQuery returns the CREATE TABLE query for one of the run tables.
// The layout matches the embedded migrations of each backend.
func getCreateRunTableQuery(table string, backend schema.DatabaseBackend) string {
	quoted := quoteTableName(table, backend)

	var timeType, floatType, textType, keyType, pathType, boolType string
	switch backend {
	case schema.MySQLBackend:
		timeType, floatType, textType, keyType, pathType, boolType = "DATETIME(6)", "DOUBLE", "TEXT", "VARCHAR(64)", "VARCHAR(512)", "BOOLEAN"
	case schema.PostgreSQLBackend:
		timeType, floatType, textType, keyType, pathType, boolType = "TIMESTAMPTZ", "DOUBLE PRECISION", "TEXT", "TEXT", "TEXT", "BOOLEAN"
	default: // SQLite
		timeType, floatType, textType, keyType, pathType, boolType = "TEXT", "REAL", "TEXT", "TEXT", "TEXT", "INTEGER"
	}

	switch table {
	case trainingRunsTable:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				run_id %s PRIMARY KEY,
				kind %s NOT NULL,
				repo_path %s NOT NULL,
				start_time %s NOT NULL,
				end_time %s,
				run_duration_ms BIGINT,
				state %s,
				stop_reason %s,
				best_epoch INT,
				best_metric %s,
				model_id %s,
				config_params %s
			);
		`, quoted, keyType, keyType, pathType, timeType, timeType, keyType, keyType, floatType, keyType, textType)

	case epochMetricsTable:
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				run_id %s NOT NULL,
				epoch INT NOT NULL,
				train_loss %s NOT NULL,
				val_loss %s NOT NULL,
				val_auc %s NOT NULL,
				val_f1 %s NOT NULL,
				improved %s NOT NULL,
				PRIMARY KEY (run_id, epoch)
			);
		`, quoted, keyType, floatType, floatType, floatType, floatType, boolType)

	default: // riskScoresTable
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				run_id %s NOT NULL,
				file_path %s NOT NULL,
				probability %s NOT NULL,
				score_rank INT NOT NULL,
				scored_at %s NOT NULL,
				PRIMARY KEY (run_id, file_path)
			);
		`, quoted, keyType, pathType, floatType, timeType)
	}
}

func (rs *RunStoreImpl) disabled() bool {
	return rs.backend == schema.NoneBackend || rs.db == nil
}

// BeginRun records a new run and its configuration.
func (rs *RunStoreImpl) BeginRun(runID, kind, repoPath string, startTime time.Time, configParams map[string]any) error {
	if rs.disabled() {
		return nil
	}

	configJSON, err := json.Marshal(configParams)
	if err != nil {
		return fmt.Errorf("failed to marshal config params: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (run_id, kind, repo_path, start_time, state, config_params) VALUES (%s)`,
		quoteTableName(trainingRunsTable, rs.backend), placeholderList(rs.backend, 6))
	_, err = rs.db.Exec(query, runID, kind, repoPath, formatTime(startTime, rs.backend), string(schema.InitializedState), string(configJSON))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// RecordEpoch stores the metrics of one training epoch.
func (rs *RunStoreImpl) RecordEpoch(runID string, m schema.EpochMetrics) error {
	if rs.disabled() {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (run_id, epoch, train_loss, val_loss, val_auc, val_f1, improved) VALUES (%s)`,
		quoteTableName(epochMetricsTable, rs.backend), placeholderList(rs.backend, 7))
	if _, err := rs.db.Exec(query, runID, m.Epoch, m.TrainLoss, m.ValLoss, m.ValAUC, m.ValF1, m.Improved); err != nil {
		return fmt.Errorf("failed to insert epoch %d of run %s: %w", m.Epoch, runID, err)
	}
	return nil
}

// EndRun updates the run with its final state.
func (rs *RunStoreImpl) EndRun(runID string, endTime time.Time, result schema.TrainingResult) error {
	if rs.disabled() {
		return nil
	}

	quoted := quoteTableName(trainingRunsTable, rs.backend)
	selectQuery := fmt.Sprintf(`SELECT start_time FROM %s WHERE run_id = %s`, quoted, placeholder(rs.backend, 1))
	startTime, err := rs.scanTime(rs.db.QueryRow(selectQuery, runID))
	if err != nil {
		return fmt.Errorf("failed to get start_time for run %s: %w", runID, err)
	}

	modelID := ""
	if result.Manifest != nil {
		modelID = result.Manifest.ModelID
	}

	p := func(i int) string { return placeholder(rs.backend, i) }
	updateQuery := fmt.Sprintf(`UPDATE %s SET end_time = %s, run_duration_ms = %s, state = %s, stop_reason = %s,
		best_epoch = %s, best_metric = %s, model_id = %s WHERE run_id = %s`,
		quoted, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8))
	_, err = rs.db.Exec(updateQuery,
		formatTime(endTime, rs.backend),
		endTime.Sub(startTime).Milliseconds(),
		string(result.State),
		string(result.StopReason),
		result.BestEpoch,
		result.BestMetric,
		modelID,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// RecordScores stores a ranked score list in one transaction.
func (rs *RunStoreImpl) RecordScores(runID string, scoredAt time.Time, scores []schema.RiskScore) error {
	if rs.disabled() || len(scores) == 0 {
		return nil
	}

	tx, err := rs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`INSERT INTO %s (run_id, file_path, probability, score_rank, scored_at) VALUES (%s)`,
		quoteTableName(riskScoresTable, rs.backend), placeholderList(rs.backend, 5))
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ts := formatTime(scoredAt, rs.backend)
	for _, s := range scores {
		if _, err := stmt.Exec(runID, s.Path, s.Probability, s.Rank, ts); err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", s.Path, err)
		}
	}
	return tx.Commit()
}

// scanTime reads one timestamp column in the backend's storage format.
func (rs *RunStoreImpl) scanTime(row *sql.Row) (time.Time, error) {
	if rs.backend == schema.SQLiteBackend {
		var s string
		if err := row.Scan(&s); err != nil {
			return time.Time{}, err
		}
		return parseSQLiteTime(s)
	}
	var t time.Time
	err := row.Scan(&t)
	return t, err
}

// GetStatus returns status information about the run store.
func (rs *RunStoreImpl) GetStatus() (schema.RunStatus, error) {
	status := schema.RunStatus{
		Backend:    string(rs.backend),
		Connected:  rs.db != nil,
		TableSizes: make(map[string]int64),
	}
	if rs.disabled() {
		return status, nil
	}

	quoted := quoteTableName(trainingRunsTable, rs.backend)
	if err := rs.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoted)).Scan(&status.TotalRuns); err != nil {
		return status, fmt.Errorf("failed to get total runs: %w", err)
	}

	if status.TotalRuns > 0 {
		lastQuery := fmt.Sprintf("SELECT run_id FROM %s ORDER BY start_time DESC, run_id DESC LIMIT 1", quoted)
		if err := rs.db.QueryRow(lastQuery).Scan(&status.LastRunID); err != nil {
			return status, fmt.Errorf("failed to get last run: %w", err)
		}
		var err error
		status.LastRunTime, err = rs.scanTime(rs.db.QueryRow(fmt.Sprintf("SELECT MAX(start_time) FROM %s", quoted)))
		if err != nil {
			return status, fmt.Errorf("failed to get last run time: %w", err)
		}
		status.OldestRunTime, err = rs.scanTime(rs.db.QueryRow(fmt.Sprintf("SELECT MIN(start_time) FROM %s", quoted)))
		if err != nil {
			return status, fmt.Errorf("failed to get oldest run time: %w", err)
		}
	}

	for _, table := range runTables {
		var count int64
		if err := rs.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteTableName(table, rs.backend))).Scan(&count); err != nil {
			return status, fmt.Errorf("failed to get count for table %s: %w", table, err)
		}
		status.TableSizes[table] = count
	}
	status.TotalScores = int(status.TableSizes[riskScoresTable])

	return status, nil
}

// GetAllRuns retrieves every run ordered by start time.
func (rs *RunStoreImpl) GetAllRuns() ([]schema.RunRecord, error) {
	if rs.disabled() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT run_id, kind, repo_path, start_time, end_time, run_duration_ms, state, stop_reason,
		best_epoch, best_metric, model_id, config_params FROM %s ORDER BY start_time, run_id`,
		quoteTableName(trainingRunsTable, rs.backend))
	rows, err := rs.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.RunRecord
	for rows.Next() {
		var (
			record                               schema.RunRecord
			state, stopReason, modelID, cfgJSON sql.NullString
			bestEpoch                            sql.NullInt64
			bestMetric                           sql.NullFloat64
		)

		if rs.backend == schema.SQLiteBackend {
			var startStr string
			var endStr sql.NullString
			if err := rows.Scan(&record.RunID, &record.Kind, &record.RepoPath, &startStr, &endStr, &record.DurationMs,
				&state, &stopReason, &bestEpoch, &bestMetric, &modelID, &cfgJSON); err != nil {
				return nil, fmt.Errorf("failed to scan run: %w", err)
			}
			if record.StartTime, err = parseSQLiteTime(startStr); err != nil {
				return nil, fmt.Errorf("failed to parse start_time: %w", err)
			}
			if endStr.Valid {
				endTime, err := parseSQLiteTime(endStr.String)
				if err != nil {
					return nil, fmt.Errorf("failed to parse end_time: %w", err)
				}
				record.EndTime = &endTime
			}
		} else {
			var endTime sql.NullTime
			if err := rows.Scan(&record.RunID, &record.Kind, &record.RepoPath, &record.StartTime, &endTime, &record.DurationMs,
				&state, &stopReason, &bestEpoch, &bestMetric, &modelID, &cfgJSON); err != nil {
				return nil, fmt.Errorf("failed to scan run: %w", err)
			}
			if endTime.Valid {
				record.EndTime = &endTime.Time
			}
		}

		record.State = state.String
		record.StopReason = stopReason.String
		record.BestEpoch = int(bestEpoch.Int64)
		record.BestMetric = bestMetric.Float64
		record.ModelID = modelID.String
		record.Config = cfgJSON.String
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return results, nil
}

// GetAllEpochs retrieves every epoch ordered by run and epoch.
func (rs *RunStoreImpl) GetAllEpochs() ([]schema.EpochRecord, error) {
	if rs.disabled() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT run_id, epoch, train_loss, val_loss, val_auc, val_f1, improved FROM %s ORDER BY run_id, epoch`,
		quoteTableName(epochMetricsTable, rs.backend))
	rows, err := rs.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.EpochRecord
	for rows.Next() {
		var r schema.EpochRecord
		if err := rows.Scan(&r.RunID, &r.Epoch, &r.TrainLoss, &r.ValLoss, &r.ValAUC, &r.ValF1, &r.Improved); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epochs: %w", err)
	}
	return results, nil
}

// GetAllScores retrieves every recorded score ordered by run and rank.
func (rs *RunStoreImpl) GetAllScores() ([]schema.ScoreRecord, error) {
	if rs.disabled() {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT run_id, file_path, probability, score_rank, scored_at FROM %s ORDER BY run_id, score_rank`,
		quoteTableName(riskScoresTable, rs.backend))
	rows, err := rs.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []schema.ScoreRecord
	for rows.Next() {
		var r schema.ScoreRecord
		if rs.backend == schema.SQLiteBackend {
			var ts string
			if err := rows.Scan(&r.RunID, &r.Path, &r.Probability, &r.Rank, &ts); err != nil {
				return nil, fmt.Errorf("failed to scan score: %w", err)
			}
			if r.ScoredAt, err = parseSQLiteTime(ts); err != nil {
				return nil, fmt.Errorf("failed to parse scored_at: %w", err)
			}
		} else if err := rows.Scan(&r.RunID, &r.Path, &r.Probability, &r.Rank, &r.ScoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}
	return results, nil
}

// Close closes the underlying connection.
func (rs *RunStoreImpl) Close() error {
	if rs.db != nil {
		return rs.db.Close()
	}
	return nil
}
