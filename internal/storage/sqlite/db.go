// Package sqlite keeps a history of diagnostic runs so successive reports can
// be compared.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"opsdiag/internal/domain"
)

// RunRecord is one stored diagnostic run.
type RunRecord struct {
	ID                    int64
	GeneratedAt           time.Time
	Mode                  string
	Classifier            string
	RulesetVersion        string
	LookbackDays          int
	MaxItems              int
	TotalVolume           int
	PeriodDays            int
	EstimatedTotalMinutes int
	HoursPerWeek          float64
	RepetitivePct         float64
	SLASensitivePct       float64
	LLMTokens             int64
	ReportBase            string
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS diagnostic_runs (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		generated_at            DATETIME NOT NULL,
		mode                    TEXT NOT NULL,
		classifier              TEXT NOT NULL,
		ruleset_version         TEXT DEFAULT '',
		lookback_days           INTEGER NOT NULL,
		max_items               INTEGER NOT NULL,
		total_volume            INTEGER NOT NULL,
		period_days             INTEGER NOT NULL,
		estimated_total_minutes INTEGER NOT NULL,
		hours_per_week          REAL NOT NULL,
		repetitive_pct          REAL NOT NULL DEFAULT 0,
		sla_sensitive_pct       REAL NOT NULL DEFAULT 0,
		llm_tokens              INTEGER NOT NULL DEFAULT 0,
		report_base             TEXT DEFAULT '',
		created_at              DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON diagnostic_runs(generated_at);

	CREATE TABLE IF NOT EXISTS run_items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      INTEGER NOT NULL REFERENCES diagnostic_runs(id) ON DELETE CASCADE,
		item_id     TEXT NOT NULL,
		source      TEXT NOT NULL,
		sender      TEXT DEFAULT '',
		subject     TEXT DEFAULT '',
		received_at DATETIME,
		category    TEXT NOT NULL,
		nature      TEXT NOT NULL,
		risk        TEXT NOT NULL,
		confidence  REAL NOT NULL,
		reasons     TEXT DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_run_items_run ON run_items(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// InsertRun stores a run and its classified items in one transaction and
// returns the new run id. Item bodies are not stored.
func InsertRun(db *sql.DB, run RunRecord, items []domain.ClassifiedItem) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO diagnostic_runs (generated_at, mode, classifier, ruleset_version, lookback_days, max_items,
		   total_volume, period_days, estimated_total_minutes, hours_per_week, repetitive_pct, sla_sensitive_pct,
		   llm_tokens, report_base)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.GeneratedAt.UTC(), run.Mode, run.Classifier, run.RulesetVersion, run.LookbackDays, run.MaxItems,
		run.TotalVolume, run.PeriodDays, run.EstimatedTotalMinutes, run.HoursPerWeek, run.RepetitivePct,
		run.SLASensitivePct, run.LLMTokens, run.ReportBase,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO run_items (run_id, item_id, source, sender, subject, received_at, category, nature, risk, confidence, reasons)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, it := range items {
		var receivedAt sql.NullTime
		if it.Item.Timestamp != nil {
			receivedAt = sql.NullTime{Time: it.Item.Timestamp.UTC(), Valid: true}
		}
		reasons, err := json.Marshal(it.Classification.Reasons)
		if err != nil {
			return 0, err
		}
		c := it.Classification
		if _, err := stmt.Exec(
			runID, it.Item.ID, it.Item.Source, it.Item.Sender, it.Item.Subject, receivedAt,
			c.Category.String(), c.Nature.String(), c.Risk.String(), c.Confidence, string(reasons),
		); err != nil {
			return 0, fmt.Errorf("insert run item %s: %w", it.Item.ID, err)
		}
	}

	return runID, tx.Commit()
}

const runColumns = `id, generated_at, mode, classifier, ruleset_version, lookback_days, max_items, total_volume,
	period_days, estimated_total_minutes, hours_per_week, repetitive_pct, sla_sensitive_pct, llm_tokens, report_base`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	err := row.Scan(
		&r.ID, &r.GeneratedAt, &r.Mode, &r.Classifier, &r.RulesetVersion, &r.LookbackDays, &r.MaxItems,
		&r.TotalVolume, &r.PeriodDays, &r.EstimatedTotalMinutes, &r.HoursPerWeek, &r.RepetitivePct,
		&r.SLASensitivePct, &r.LLMTokens, &r.ReportBase,
	)
	return r, err
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func ListRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT `+runColumns+` FROM diagnostic_runs ORDER BY generated_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run, or nil when history is empty.
func LatestRun(db *sql.DB) (*RunRecord, error) {
	r, err := scanRun(db.QueryRow(`SELECT ` + runColumns + ` FROM diagnostic_runs ORDER BY generated_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRunItems returns a run's items in insertion order. Bodies come back empty.
func GetRunItems(db *sql.DB, runID int64) ([]domain.ClassifiedItem, error) {
	rows, err := db.Query(
		`SELECT item_id, source, sender, subject, received_at, category, nature, risk, confidence, reasons
		 FROM run_items WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ClassifiedItem
	for rows.Next() {
		var (
			it                     domain.ClassifiedItem
			receivedAt             sql.NullTime
			category, nature, risk string
			reasons                string
		)
		if err := rows.Scan(
			&it.Item.ID, &it.Item.Source, &it.Item.Sender, &it.Item.Subject, &receivedAt,
			&category, &nature, &risk, &it.Classification.Confidence, &reasons,
		); err != nil {
			return nil, err
		}
		if receivedAt.Valid {
			ts := receivedAt.Time
			it.Item.Timestamp = &ts
		}
		if it.Classification.Category, err = domain.ParseWorkCategory(category); err != nil {
			return nil, err
		}
		if it.Classification.Nature, err = domain.ParseWorkNature(nature); err != nil {
			return nil, err
		}
		if it.Classification.Risk, err = domain.ParseRiskFlag(risk); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reasons), &it.Classification.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons for %s: %w", it.Item.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
