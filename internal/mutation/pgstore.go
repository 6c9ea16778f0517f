package mutation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

// journalSchema creates the journal table when it does not exist.
const journalSchema = `
CREATE TABLE IF NOT EXISTS mutation_journal (
	client_mutation_id      TEXT PRIMARY KEY,
	subject_id              TEXT NOT NULL,
	client_mutation_label   TEXT NOT NULL DEFAULT '',
	client_mutation_details JSONB,
	status                  SMALLINT NOT NULL DEFAULT 0,
	error                   TEXT NOT NULL DEFAULT '',
	parsed_error            JSONB,
	request_date_time       TIMESTAMPTZ NOT NULL,
	version                 INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS mutation_journal_subject_time
	ON mutation_journal (subject_id, request_date_time DESC);
`

const journalColumns = `client_mutation_id, subject_id, client_mutation_label,
	client_mutation_details, status, error, parsed_error, request_date_time, version`

// PgJournalStore is a PostgreSQL-backed JournalStore using pgx/v5.
type PgJournalStore struct {
	pool *pgxpool.Pool
}

// NewPgJournalStore creates a new PostgreSQL journal store.
func NewPgJournalStore(pool *pgxpool.Pool) *PgJournalStore {
	return &PgJournalStore{pool: pool}
}

// OpenPool connects to the database named by the DSN environment variable
// in cfg.
func OpenPool(ctx context.Context, cfg config.JournalConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("journal: environment variable %s is empty", cfg.DSNEnv)
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the journal table and index.
func (s *PgJournalStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Append inserts a new record.
func (s *PgJournalStore) Append(ctx context.Context, rec model.MutationRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO mutation_journal (`+journalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_mutation_id) DO NOTHING`,
		rec.ClientMutationID, rec.SubjectID, rec.ClientMutationLabel,
		rec.ClientMutationDetails, int(rec.Status), rec.Error, nullableJSON(rec.ParsedError),
		rec.RequestDateTime, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("insert mutation record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("mutation %q already journaled", rec.ClientMutationID),
		)
	}
	return nil
}

// Update persists an updated record with optimistic locking.
func (s *PgJournalStore) Update(ctx context.Context, rec model.MutationRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mutation_journal SET
			client_mutation_label = $1,
			status = $2,
			error = $3,
			parsed_error = $4,
			version = $5
		WHERE client_mutation_id = $6 AND version = $7`,
		rec.ClientMutationLabel, int(rec.Status), rec.Error, nullableJSON(rec.ParsedError),
		rec.Version+1,
		rec.ClientMutationID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update mutation record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("mutation %q version conflict (expected %d)", rec.ClientMutationID, rec.Version),
		)
	}
	return nil
}

// Get retrieves a record scoped to subjectID.
func (s *PgJournalStore) Get(ctx context.Context, subjectID, clientMutationID string) (model.MutationRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+journalColumns+`
		FROM mutation_journal
		WHERE client_mutation_id = $1 AND subject_id = $2`,
		clientMutationID, subjectID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MutationRecord{}, model.NewNotFoundError(
			fmt.Sprintf("mutation %q not found", clientMutationID),
		)
	}
	if err != nil {
		return model.MutationRecord{}, fmt.Errorf("query mutation record: %w", err)
	}
	return rec, nil
}

// List returns a subject's records, newest first.
func (s *PgJournalStore) List(ctx context.Context, subjectID string, filter JournalFilter) ([]model.MutationRecord, error) {
	query := `SELECT ` + journalColumns + `
	          FROM mutation_journal
	          WHERE subject_id = $1`
	args := []any{subjectID}
	argIdx := 2

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, int(*filter.Status))
		argIdx++
	}

	query += " ORDER BY request_date_time DESC, client_mutation_id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutation records: %w", err)
	}
	defer rows.Close()

	records := []model.MutationRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (s *PgJournalStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (model.MutationRecord, error) {
	var rec model.MutationRecord
	var status int
	var parsed []byte
	err := row.Scan(
		&rec.ClientMutationID, &rec.SubjectID, &rec.ClientMutationLabel,
		&rec.ClientMutationDetails, &status, &rec.Error, &parsed,
		&rec.RequestDateTime, &rec.Version,
	)
	if err != nil {
		return model.MutationRecord{}, err
	}
	rec.Status = model.MutationStatus(status)
	if parsed != nil {
		rec.ParsedError = parsed
	}
	return rec, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
