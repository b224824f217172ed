package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

// SQLiteRunStore implements RunStore using SQLite for persistence.
type SQLiteRunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore opens (creating if needed) the database at dbPath.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string { return s.dbPath }

// CreateRun inserts a new run.
func (s *SQLiteRunStore) CreateRun(ctx context.Context, run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = engine.Idle.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, ensemble_id, replicate, seed, sites, horizon, config, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullString(run.EnsembleID), run.Replicate, int64(run.Seed), run.Sites, run.Horizon,
		nullString(string(run.Config)), run.Status, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

// AppendSamples writes samples and their per-site rows in one transaction.
// Sequence numbers continue from the run's last stored sample.
func (s *SQLiteRunStore) AppendSamples(ctx context.Context, runID string, samples []engine.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM samples WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read last sample: %w", err)
	}
	seq := int64(0)
	if next.Valid {
		seq = next.Int64 + 1
	}

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (run_id, seq, time, events, status, total_cells, resistant_share)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()

	siteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO site_counts (run_id, seq, site, capacity, non_resistant, resistant_a, resistant_b, resistant_ab, drug_a, drug_b)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare site insert: %w", err)
	}
	defer siteStmt.Close()

	for _, smp := range samples {
		snap := smp.Snapshot
		if _, err := sampleStmt.ExecContext(ctx, runID, seq, smp.Time, smp.Events, smp.Status.String(),
			snap.TotalCells(), snap.ResistantShare()); err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return fmt.Errorf("failed to insert sample %d: %w", seq, err)
		}
		for site := range snap.Cells {
			c := snap.Cells[site]
			d := snap.Drug[site]
			if _, err := siteStmt.ExecContext(ctx, runID, seq, site, snap.Capacity[site],
				c[model.NonResistant], c[model.ResistantA], c[model.ResistantB], c[model.ResistantAB],
				d[model.DrugA], d[model.DrugB]); err != nil {
				return fmt.Errorf("failed to insert site %d of sample %d: %w", site, seq, err)
			}
		}
		seq++
	}

	return tx.Commit()
}

// FinishRun records the terminal state of a run.
func (s *SQLiteRunStore) FinishRun(ctx context.Context, runID string, status engine.Status, finalTime float64, events int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, final_time = ?, events = ?, finished_at = ? WHERE id = ?`,
		status.String(), finalTime, events, time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, ensemble_id, replicate, seed, sites, horizon, config, status, final_time, events, started_at, finished_at`

// GetRun returns a run by ID, or ErrRunNotFound.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs`
	var where []string
	var args []any
	if filter.EnsembleID != "" {
		where = append(where, "ensemble_id = ?")
		args = append(args, filter.EnsembleID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, replicate ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Samples rebuilds a run's trajectory from the samples and site_counts tables.
func (s *SQLiteRunStore) Samples(ctx context.Context, runID string) ([]engine.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sites int
	err := s.db.QueryRowContext(ctx, `SELECT sites FROM runs WHERE id = ?`, runID).Scan(&sites)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, time, events, status FROM samples WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	var samples []engine.Sample
	index := make(map[int64]int)
	for rows.Next() {
		var seq int64
		var smp engine.Sample
		var status string
		if err := rows.Scan(&seq, &smp.Time, &smp.Events, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if smp.Status, err = engine.ParseStatus(status); err != nil {
			rows.Close()
			return nil, err
		}
		smp.Snapshot = emptySnapshot(sites)
		index[seq] = len(samples)
		samples = append(samples, smp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	siteRows, err := s.db.QueryContext(ctx, `
		SELECT seq, site, capacity, non_resistant, resistant_a, resistant_b, resistant_ab, drug_a, drug_b
		FROM site_counts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query site counts: %w", err)
	}
	defer siteRows.Close()

	for siteRows.Next() {
		var seq int64
		var site, capacity int
		var c [model.NumPhenotypes]int
		var d [model.NumDrugKinds]float64
		if err := siteRows.Scan(&seq, &site, &capacity,
			&c[model.NonResistant], &c[model.ResistantA], &c[model.ResistantB], &c[model.ResistantAB],
			&d[model.DrugA], &d[model.DrugB]); err != nil {
			return nil, fmt.Errorf("failed to scan site counts: %w", err)
		}
		i, ok := index[seq]
		if !ok || site < 0 || site >= sites {
			return nil, fmt.Errorf("orphan site row seq=%d site=%d in run %s", seq, site, runID)
		}
		snap := samples[i].Snapshot
		snap.Cells[site] = c
		snap.Drug[site] = d
		snap.Capacity[site] = capacity
	}
	return samples, siteRows.Err()
}

// DeleteRun removes a run and its trajectory.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var ensembleID, config, finishedAt sql.NullString
	var seed int64
	var startedAt string
	if err := row.Scan(&run.ID, &ensembleID, &run.Replicate, &seed, &run.Sites, &run.Horizon,
		&config, &run.Status, &run.FinalTime, &run.Events, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.EnsembleID = ensembleID.String
	run.Seed = uint64(seed)
	if config.Valid {
		run.Config = []byte(config.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func emptySnapshot(sites int) population.Snapshot {
	return population.Snapshot{
		Cells:    make([][model.NumPhenotypes]int, sites),
		Drug:     make([][model.NumDrugKinds]float64, sites),
		Capacity: make([]int, sites),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
