package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/personaforge/personaforge/internal/models"
)

// SQLiteStore implements Store using SQLite (for local/single-node runs)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at path
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS data_packages (
		package_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		consent_ref TEXT NOT NULL,
		location_ref TEXT NOT NULL,
		modality TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS raw_features (
		feature_set_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		analyzer_id TEXT NOT NULL,
		payload BLOB,
		produced_at DATETIME,
		outcome TEXT NOT NULL,
		FOREIGN KEY (package_id) REFERENCES data_packages(package_id)
	);

	CREATE TABLE IF NOT EXISTS trait_candidates (
		candidate_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		evidence TEXT,
		confidence REAL NOT NULL,
		origin_analyzers TEXT,
		status TEXT NOT NULL,
		superseded_by TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_owner ON trait_candidates(owner_id);

	CREATE TABLE IF NOT EXISTS refinement_log (
		entry_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		target_trait_id TEXT NOT NULL,
		origin_candidate_id TEXT,
		decision TEXT NOT NULL,
		prior_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		timestamp DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_log_owner ON refinement_log(owner_id, target_trait_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package operations

func (s *SQLiteStore) SavePackage(ctx context.Context, pkg *models.DataPackageRef) error {
	query := `
		INSERT INTO data_packages (package_id, owner_id, consent_ref, location_ref,
			modality, status, created_at, updated_at)
		VALUES (:package_id, :owner_id, :consent_ref, :location_ref,
			:modality, :status, :created_at, :updated_at)
		ON CONFLICT (package_id) DO NOTHING
	`

	if _, err := s.db.NamedExecContext(ctx, query, pkg); err != nil {
		return fmt.Errorf("save package: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPackage(ctx context.Context, packageID string) (*models.DataPackageRef, error) {
	var pkg models.DataPackageRef
	err := s.db.GetContext(ctx, &pkg, `SELECT * FROM data_packages WHERE package_id = ?`, packageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

func (s *SQLiteStore) UpdatePackageStatus(ctx context.Context, packageID string, status models.PackageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE data_packages SET status = ?, updated_at = ? WHERE package_id = ?`,
		status, time.Now().UTC(), packageID)
	if err != nil {
		return fmt.Errorf("update package status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Feature operations

func (s *SQLiteStore) SaveFeatures(ctx context.Context, features []*models.RawFeatureRecord) error {
	if len(features) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO raw_features (feature_set_id, owner_id, package_id, modality,
			analyzer_id, payload, produced_at, outcome)
		VALUES (:feature_set_id, :owner_id, :package_id, :modality,
			:analyzer_id, :payload, :produced_at, :outcome)
		ON CONFLICT (feature_set_id) DO NOTHING
	`

	for _, feature := range features {
		if _, err := tx.NamedExecContext(ctx, query, feature); err != nil {
			return fmt.Errorf("save feature: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFeatures(ctx context.Context, packageID string) ([]*models.RawFeatureRecord, error) {
	var features []*models.RawFeatureRecord
	err := s.db.SelectContext(ctx, &features,
		`SELECT * FROM raw_features WHERE package_id = ? ORDER BY produced_at`, packageID)
	if err != nil {
		return nil, fmt.Errorf("get features: %w", err)
	}
	return features, nil
}

// Candidate operations

type sqliteCandidateRow struct {
	CandidateID     string                 `db:"candidate_id"`
	OwnerID         string                 `db:"owner_id"`
	Name            string                 `db:"name"`
	Description     string                 `db:"description"`
	Category        models.TraitCategory   `db:"category"`
	Evidence        sql.NullString         `db:"evidence"`
	Confidence      float64                `db:"confidence"`
	OriginAnalyzers sql.NullString         `db:"origin_analyzers"`
	Status          models.CandidateStatus `db:"status"`
	SupersededBy    sql.NullString         `db:"superseded_by"`
	CreatedAt       time.Time              `db:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at"`
}

func (r *sqliteCandidateRow) toModel() (*models.TraitCandidate, error) {
	c := &models.TraitCandidate{
		CandidateID:  r.CandidateID,
		OwnerID:      r.OwnerID,
		Name:         r.Name,
		Description:  r.Description,
		Category:     r.Category,
		Confidence:   r.Confidence,
		Status:       r.Status,
		SupersededBy: r.SupersededBy.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Evidence.Valid && r.Evidence.String != "" {
		if err := json.Unmarshal([]byte(r.Evidence.String), &c.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if r.OriginAnalyzers.Valid && r.OriginAnalyzers.String != "" {
		if err := json.Unmarshal([]byte(r.OriginAnalyzers.String), &c.OriginAnalyzers); err != nil {
			return nil, fmt.Errorf("decode origin analyzers: %w", err)
		}
	}
	return c, nil
}

func (s *SQLiteStore) SaveCandidates(ctx context.Context, candidates []*models.TraitCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO trait_candidates (candidate_id, owner_id, name, description,
			category, evidence, confidence, origin_analyzers, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (candidate_id) DO NOTHING
	`

	for _, c := range candidates {
		evidence, err := json.Marshal(c.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}
		analyzers, err := json.Marshal(c.OriginAnalyzers)
		if err != nil {
			return fmt.Errorf("encode origin analyzers: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			c.CandidateID, c.OwnerID, c.Name, c.Description, c.Category,
			string(evidence), c.Confidence, string(analyzers), c.Status,
			c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save candidate: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, candidateID string) (*models.TraitCandidate, error) {
	var row sqliteCandidateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM trait_candidates WHERE candidate_id = ?`, candidateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, ownerID string) ([]*models.TraitCandidate, error) {
	var rows []sqliteCandidateRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM trait_candidates WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	candidates := make([]*models.TraitCandidate, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (s *SQLiteStore) CompareAndSwapStatus(ctx context.Context, candidateID string, expected, next models.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trait_candidates SET status = ?, updated_at = ? WHERE candidate_id = ? AND status = ?`,
		next, time.Now().UTC(), candidateID, expected)
	if err != nil {
		return fmt.Errorf("swap candidate status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM trait_candidates WHERE candidate_id = ?)`, candidateID); err != nil {
		return fmt.Errorf("check candidate: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *SQLiteStore) MarkSuperseded(ctx context.Context, candidateID, supersededBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trait_candidates SET status = ?, superseded_by = ?, updated_at = ? WHERE candidate_id = ? AND status <> ?`,
		models.StatusSuperseded, supersededBy, time.Now().UTC(), candidateID, models.StatusSuperseded)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refinement log operations

func (s *SQLiteStore) AppendLogEntry(ctx context.Context, entry *models.RefinementLogEntry) error {
	query := `
		INSERT INTO refinement_log (entry_id, owner_id, target_trait_id,
			origin_candidate_id, decision, prior_state, new_state, timestamp)
		VALUES (:entry_id, :owner_id, :target_trait_id,
			:origin_candidate_id, :decision, :prior_state, :new_state, :timestamp)
	`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLogEntries(ctx context.Context, ownerID, targetTraitID string) ([]*models.RefinementLogEntry, error) {
	var entries []*models.RefinementLogEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM refinement_log WHERE owner_id = ? AND (? = '' OR target_trait_id = ?) ORDER BY timestamp`,
		ownerID, targetTraitID, targetTraitID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return entries, nil
}
