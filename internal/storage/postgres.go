package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/report-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// Bounds are millisecond epochs, 0 meaning open. The casts keep Postgres from
// inferring int4 for the untyped parameters.
const searchReportsQuery = `
	SELECT id, submitter_name, submitter_id, report_date, kind, content, advice, score, status, period, created_at
	FROM report_records
	WHERE ($1::bigint = 0 OR report_date >= $1::bigint)
	  AND ($2::bigint = 0 OR report_date <= $2::bigint)
	  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
	ORDER BY report_date, id`

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) connString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.connString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SearchReports(ctx context.Context, filter ReportFilter) ([]*models.ReportRecord, error) {
	kinds := make([]string, len(filter.Kinds))
	for i, k := range filter.Kinds {
		kinds[i] = string(k)
	}

	rows, err := s.db.QueryContext(ctx, searchReportsQuery, millisOrZero(filter.From), millisOrZero(filter.To), pq.Array(kinds))
	if err != nil {
		return nil, fmt.Errorf("error querying report records: %w", err)
	}
	defer rows.Close()

	var records []*models.ReportRecord
	for rows.Next() {
		var (
			rec        models.ReportRecord
			reportDate int64
			kind       string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SubmitterName,
			&rec.SubmitterID,
			&reportDate,
			&kind,
			&rec.Content,
			&rec.Advice,
			&rec.Score,
			&rec.Status,
			&rec.Period,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning report record: %w", err)
		}
		rec.ReportDate = time.UnixMilli(reportDate)
		rec.Kind = models.ReportKind(kind)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *PostgresStorage) CreateReport(ctx context.Context, record *models.ReportRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	query := `
		INSERT INTO report_records (id, submitter_name, submitter_id, report_date, kind, content, advice, score, status, period)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		record.ID,
		record.SubmitterName,
		record.SubmitterID,
		record.ReportDateMillis(),
		string(record.Kind),
		record.Content,
		record.Advice,
		record.Score,
		record.Status,
		record.Period,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating report record: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteReport(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM report_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting report record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) SaveRawReport(ctx context.Context, report *models.RawReport) error {
	fields, err := json.Marshal(report.Fields)
	if err != nil {
		return fmt.Errorf("error encoding form fields: %w", err)
	}
	query := `
		INSERT INTO raw_reports (submitter_id, submitter_name, rule_name, commit_time, fields)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := s.db.QueryRowContext(ctx, query,
		report.SubmitterID,
		report.SubmitterName,
		report.RuleName,
		report.CommitTime,
		fields,
	).Scan(&report.ID); err != nil {
		return fmt.Errorf("error saving raw report: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListRawReports(ctx context.Context, start, end time.Time) ([]*models.RawReport, error) {
	query := `
		SELECT id, submitter_id, submitter_name, rule_name, commit_time, fields
		FROM raw_reports
		WHERE commit_time >= $1 AND commit_time <= $2
		ORDER BY commit_time`

	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("error querying raw reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.RawReport
	for rows.Next() {
		var (
			r      models.RawReport
			fields []byte
		)
		if err := rows.Scan(&r.ID, &r.SubmitterID, &r.SubmitterName, &r.RuleName, &r.CommitTime, &fields); err != nil {
			return nil, fmt.Errorf("error scanning raw report: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &r.Fields); err != nil {
				s.logger.Warn("Skipping raw report with unreadable fields",
					zap.Error(err),
					zap.Int64("raw_report_id", r.ID))
				continue
			}
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (s *PostgresStorage) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, last_used_at FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.LastUsedAt); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *PostgresStorage) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, name, last_used_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		    last_used_at = now()`

	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Name); err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SavePromptLog(ctx context.Context, log *models.PromptLog) error {
	query := `
		INSERT INTO prompt_logs (user_id, original_prompt, optimized_prompt, optimize_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if err := s.db.QueryRowContext(ctx, query,
		log.UserID,
		log.OriginalPrompt,
		log.OptimizedPrompt,
		string(log.OptimizeType),
	).Scan(&log.ID, &log.CreatedAt); err != nil {
		return fmt.Errorf("error saving prompt log: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func millisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
