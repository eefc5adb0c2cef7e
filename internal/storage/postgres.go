package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceroll/internal/config"
	"github.com/your-org/faceroll/internal/models"
)

// ErrDuplicateToken is returned when registration targets a token that is
// already enrolled.
var ErrDuplicateToken = errors.New("token already registered")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables on startup. The unique index on
// (token_no, day) is what makes attendance marking race-safe: the insert
// itself fails closed on conflict instead of trusting a prior existence
// check.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS students (
			token_no      TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			photo_key     TEXT NOT NULL DEFAULT '',
			encoding_path TEXT NOT NULL DEFAULT '',
			embedding     vector(512),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id          BIGSERIAL PRIMARY KEY,
			token_no    TEXT NOT NULL,
			name        TEXT NOT NULL,
			day         TEXT NOT NULL,
			time_of_day TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (token_no, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Students ---

// CreateStudent inserts a new enrollment. Returns ErrDuplicateToken when the
// token is already registered; the existing row is left untouched.
func (s *PostgresStore) CreateStudent(ctx context.Context, st *models.Student, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO students (token_no, name, photo_key, encoding_path, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token_no) DO NOTHING`,
		st.TokenNo, st.Name, st.PhotoKey, st.EncodingPath, vec)
	if err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateToken
	}
	return nil
}

func (s *PostgresStore) GetStudent(ctx context.Context, tokenNo string) (*models.Student, error) {
	st := &models.Student{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_no, name, photo_key, encoding_path, created_at
		 FROM students WHERE token_no = $1`, tokenNo,
	).Scan(&st.TokenNo, &st.Name, &st.PhotoKey, &st.EncodingPath, &st.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStudents(ctx context.Context) ([]models.Student, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_no, name, photo_key, encoding_path, created_at
		 FROM students ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var st models.Student
		if err := rows.Scan(&st.TokenNo, &st.Name, &st.PhotoKey, &st.EncodingPath, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, nil
}

func (s *PostgresStore) UpdateStudentName(ctx context.Context, tokenNo, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE students SET name = $1 WHERE token_no = $2`, name, tokenNo)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %s not found", tokenNo)
	}
	return nil
}

func (s *PostgresStore) DeleteStudent(ctx context.Context, tokenNo string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM students WHERE token_no = $1`, tokenNo)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student %s not found", tokenNo)
	}
	return nil
}

func (s *PostgresStore) CountStudents(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&count)
	return count, err
}

// SearchStudents returns the enrolled students nearest to the embedding,
// by L2 distance over the pgvector column.
func (s *PostgresStore) SearchStudents(ctx context.Context, embedding []float32, limit int) ([]StudentMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT token_no, name, embedding <-> $1 AS distance
		 FROM students
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <-> $1
		 LIMIT $2`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search students: %w", err)
	}
	defer rows.Close()

	var matches []StudentMatch
	for rows.Next() {
		var m StudentMatch
		if err := rows.Scan(&m.TokenNo, &m.Name, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan student match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type StudentMatch struct {
	TokenNo  string  `json:"token_no"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// --- Attendance ---

// InsertAttendance is the ledger's persistence primitive. The unique key on
// (token_no, day) turns a concurrent duplicate into a quiet no-op: the
// returned bool reports whether this call created the row.
func (s *PostgresStore) InsertAttendance(ctx context.Context, rec models.AttendanceRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (token_no, name, day, time_of_day, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token_no, day) DO NOTHING`,
		rec.TokenNo, rec.Name, rec.Day, rec.TimeOfDay, rec.Status)
	if err != nil {
		return false, fmt.Errorf("insert attendance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListAttendanceByDay(ctx context.Context, day string) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_no, name, day, time_of_day, status
		 FROM attendance WHERE day = $1 ORDER BY time_of_day ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var recs []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.TokenNo, &r.Name, &r.Day, &r.TimeOfDay, &r.Status); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// ListAbsentByDay returns enrolled students with no attendance row for day.
func (s *PostgresStore) ListAbsentByDay(ctx context.Context, day string) ([]models.Student, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_no, name, photo_key, encoding_path, created_at
		 FROM students
		 WHERE token_no NOT IN (SELECT token_no FROM attendance WHERE day = $1)
		 ORDER BY name ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("list absent: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var st models.Student
		if err := rows.Scan(&st.TokenNo, &st.Name, &st.PhotoKey, &st.EncodingPath, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan absent student: %w", err)
		}
		students = append(students, st)
	}
	return students, nil
}
