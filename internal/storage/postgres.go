package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/personaforge/personaforge/internal/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL and configures the pool
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Package operations

func (s *PostgresStore) SavePackage(ctx context.Context, pkg *models.DataPackageRef) error {
	query := `
		INSERT INTO data_packages (package_id, owner_id, consent_ref, location_ref,
			modality, status, created_at, updated_at)
		VALUES (:package_id, :owner_id, :consent_ref, :location_ref,
			:modality, :status, :created_at, :updated_at)
		ON CONFLICT (package_id) DO NOTHING
	`

	_, err := s.db.NamedExecContext(ctx, query, pkg)
	if err != nil {
		return fmt.Errorf("save package: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPackage(ctx context.Context, packageID string) (*models.DataPackageRef, error) {
	var pkg models.DataPackageRef
	query := `SELECT * FROM data_packages WHERE package_id = $1`

	err := s.db.GetContext(ctx, &pkg, query, packageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

func (s *PostgresStore) UpdatePackageStatus(ctx context.Context, packageID string, status models.PackageStatus) error {
	query := `UPDATE data_packages SET status = $1, updated_at = NOW() WHERE package_id = $2`

	res, err := s.db.ExecContext(ctx, query, status, packageID)
	if err != nil {
		return fmt.Errorf("update package status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Feature operations

func (s *PostgresStore) SaveFeatures(ctx context.Context, features []*models.RawFeatureRecord) error {
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

func (s *PostgresStore) GetFeatures(ctx context.Context, packageID string) ([]*models.RawFeatureRecord, error) {
	var features []*models.RawFeatureRecord
	query := `SELECT * FROM raw_features WHERE package_id = $1 ORDER BY produced_at`

	if err := s.db.SelectContext(ctx, &features, query, packageID); err != nil {
		return nil, fmt.Errorf("get features: %w", err)
	}
	return features, nil
}

// Candidate operations

// candidateRow maps the relational layout; evidence is JSONB and
// origin_analyzers is a text[].
type candidateRow struct {
	CandidateID     string                 `db:"candidate_id"`
	OwnerID         string                 `db:"owner_id"`
	Name            string                 `db:"name"`
	Description     string                 `db:"description"`
	Category        models.TraitCategory   `db:"category"`
	Evidence        []byte                 `db:"evidence"`
	Confidence      float64                `db:"confidence"`
	OriginAnalyzers pq.StringArray         `db:"origin_analyzers"`
	Status          models.CandidateStatus `db:"status"`
	SupersededBy    sql.NullString         `db:"superseded_by"`
	CreatedAt       time.Time              `db:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at"`
}

func (r *candidateRow) toModel() (*models.TraitCandidate, error) {
	var evidence []models.EvidenceRef
	if len(r.Evidence) > 0 {
		if err := json.Unmarshal(r.Evidence, &evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}
	return &models.TraitCandidate{
		CandidateID:     r.CandidateID,
		OwnerID:         r.OwnerID,
		Name:            r.Name,
		Description:     r.Description,
		Category:        r.Category,
		Evidence:        evidence,
		Confidence:      r.Confidence,
		OriginAnalyzers: r.OriginAnalyzers,
		Status:          r.Status,
		SupersededBy:    r.SupersededBy.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) SaveCandidates(ctx context.Context, candidates []*models.TraitCandidate) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (candidate_id) DO NOTHING
	`

	for _, c := range candidates {
		evidence, err := json.Marshal(c.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			c.CandidateID, c.OwnerID, c.Name, c.Description, c.Category,
			evidence, c.Confidence, pq.Array(c.OriginAnalyzers), c.Status,
			c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save candidate: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetCandidate(ctx context.Context, candidateID string) (*models.TraitCandidate, error) {
	var row candidateRow
	query := `SELECT * FROM trait_candidates WHERE candidate_id = $1`

	err := s.db.GetContext(ctx, &row, query, candidateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) ListCandidates(ctx context.Context, ownerID string) ([]*models.TraitCandidate, error) {
	var rows []candidateRow
	query := `SELECT * FROM trait_candidates WHERE owner_id = $1 ORDER BY created_at`

	if err := s.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
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

func (s *PostgresStore) CompareAndSwapStatus(ctx context.Context, candidateID string, expected, next models.CandidateStatus) error {
	query := `
		UPDATE trait_candidates SET status = $1, updated_at = NOW()
		WHERE candidate_id = $2 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, next, candidateID, expected)
	if err != nil {
		return fmt.Errorf("swap candidate status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	// Distinguish a missing row from a stale status
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM trait_candidates WHERE candidate_id = $1)`, candidateID); err != nil {
		return fmt.Errorf("check candidate: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) MarkSuperseded(ctx context.Context, candidateID, supersededBy string) error {
	query := `
		UPDATE trait_candidates SET status = $1, superseded_by = $2, updated_at = NOW()
		WHERE candidate_id = $3 AND status <> $1
	`

	res, err := s.db.ExecContext(ctx, query, models.StatusSuperseded, supersededBy, candidateID)
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refinement log operations

func (s *PostgresStore) AppendLogEntry(ctx context.Context, entry *models.RefinementLogEntry) error {
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

func (s *PostgresStore) ListLogEntries(ctx context.Context, ownerID, targetTraitID string) ([]*models.RefinementLogEntry, error) {
	var entries []*models.RefinementLogEntry
	query := `
		SELECT * FROM refinement_log
		WHERE owner_id = $1 AND ($2 = '' OR target_trait_id = $2)
		ORDER BY timestamp
	`

	if err := s.db.SelectContext(ctx, &entries, query, ownerID, targetTraitID); err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return entries, nil
}
