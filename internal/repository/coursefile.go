package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateName means the course already holds a file with that name.
	ErrDuplicateName = errors.New("file name already exists in course")
	// ErrNotFound is returned when a course file row does not exist.
	ErrNotFound = errors.New("course file not found")
)

// CourseFile represents a confirmed upload in the course_files table.
type CourseFile struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	FileName  string    `json:"fileName"`
	ObjectKey string    `json:"objectKey"`
	SizeBytes int64     `json:"sizeBytes"`
	PageCount int       `json:"pageCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// CourseFileRepository wraps all SQL used by the confirmation service and the
// course/quota boundary.
type CourseFileRepository struct {
	pool *pgxpool.Pool
}

// NewCourseFileRepository constructs a repository.
func NewCourseFileRepository(pool *pgxpool.Pool) *CourseFileRepository {
	return &CourseFileRepository{pool: pool}
}

// CountFiles returns how many confirmed files a course holds. This backs the
// quota check at add time.
func (r *CourseFileRepository) CountFiles(ctx context.Context, courseID string) (int, error) {
	var n int
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM course_files WHERE course_id=$1`, courseID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count course files: %w", err)
	}
	return n, nil
}

// Insert records a confirmed upload. A unique violation on (course_id,
// file_name) maps to ErrDuplicateName so callers can surface it as a
// validation failure.
func (r *CourseFileRepository) Insert(ctx context.Context, cf *CourseFile) error {
	if cf.CreatedAt.IsZero() {
		cf.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO course_files (id, course_id, file_name, object_key, size_bytes, page_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, cf.ID, cf.CourseID, cf.FileName, cf.ObjectKey, cf.SizeBytes, cf.PageCount, cf.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert course file: %w", err)
	}
	return nil
}

// Get returns one course file row by id.
func (r *CourseFileRepository) Get(ctx context.Context, id string) (*CourseFile, error) {
	var cf CourseFile
	row := r.pool.QueryRow(ctx, `
		SELECT id, course_id, file_name, object_key, size_bytes, page_count, created_at
		FROM course_files WHERE id=$1
	`, id)
	if err := row.Scan(&cf.ID, &cf.CourseID, &cf.FileName, &cf.ObjectKey, &cf.SizeBytes, &cf.PageCount, &cf.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select course file: %w", err)
	}
	return &cf, nil
}

// Remove deletes a course file row, e.g. when the user removes a completed
// upload.
func (r *CourseFileRepository) Remove(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM course_files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete course file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
