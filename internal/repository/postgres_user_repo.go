package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/learnify/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	var roadmapURL, courseURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, roadmap_url, course_url, created_at, updated_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&roadmapURL, &courseURL, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	user.RoadmapURL = nullStringPtr(roadmapURL)
	user.CourseURL = nullStringPtr(courseURL)

	return user, nil
}

// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdatePointer は指定コレクションのBlobポインタを更新してコミットする。
func (r *PostgresUserRepo) UpdatePointer(ctx context.Context, userID string, kind model.CollectionKind, pointer *string) error {
	query, err := pointerUpdateQuery(kind)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, userID, ptrNullString(pointer), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update %s pointer: %w", kind, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// pointerUpdateQuery はコレクション種別に対応する更新SQLを返す。
// 列名はクエリパラメータにできないため、種別ごとに固定のSQLを持つ。
func pointerUpdateQuery(kind model.CollectionKind) (string, error) {
	switch kind {
	case model.CollectionRoadmap:
		return `UPDATE users SET roadmap_url = $2, updated_at = $3 WHERE id = $1`, nil
	case model.CollectionCourse:
		return `UPDATE users SET course_url = $2, updated_at = $3 WHERE id = $1`, nil
	default:
		return "", fmt.Errorf("unknown collection kind: %s", kind)
	}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
