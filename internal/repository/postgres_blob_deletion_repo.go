package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/learnify/internal/model"
)

// PostgresBlobDeletionRepo はPostgreSQLを使用した孤立Blob再試行キューのリポジトリ。
type PostgresBlobDeletionRepo struct {
	db *sql.DB
}

// NewPostgresBlobDeletionRepo はPostgresBlobDeletionRepoを生成する。
func NewPostgresBlobDeletionRepo(db *sql.DB) *PostgresBlobDeletionRepo {
	return &PostgresBlobDeletionRepo{db: db}
}

// Enqueue は孤立BlobのURLを再試行キューに登録する。
// blob_urlの一意制約により、同じURLの二重登録は無視される。
func (r *PostgresBlobDeletionRepo) Enqueue(ctx context.Context, blobURL, reason string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_blob_deletions (id, blob_url, attempts, last_error, next_attempt_at, created_at)
		 VALUES ($1, $2, 0, $3, $4, $4)
		 ON CONFLICT (blob_url) DO NOTHING`,
		uuid.New().String(), blobURL, reason, now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue blob deletion: %w", err)
	}
	return nil
}

// ListDue はnext_attempt_at <= now の再試行対象を古い順にlimit件取得する。
func (r *PostgresBlobDeletionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.BlobDeletion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, blob_url, attempts, last_error, next_attempt_at, created_at
		 FROM pending_blob_deletions
		 WHERE next_attempt_at <= $1
		 ORDER BY next_attempt_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due blob deletions: %w", err)
	}
	defer rows.Close()

	var deletions []*model.BlobDeletion
	for rows.Next() {
		d := &model.BlobDeletion{}
		if err := rows.Scan(&d.ID, &d.BlobURL, &d.Attempts, &d.LastError, &d.NextAttemptAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob deletion: %w", err)
		}
		deletions = append(deletions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blob deletions: %w", err)
	}

	return deletions, nil
}

// Reschedule は試行回数・次回試行時刻・最終エラーを更新する。
func (r *PostgresBlobDeletionRepo) Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_blob_deletions
		 SET attempts = $2, next_attempt_at = $3, last_error = $4
		 WHERE id = $1`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule blob deletion: %w", err)
	}
	return nil
}

// Delete は再試行キューからエントリを削除する。
func (r *PostgresBlobDeletionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_blob_deletions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete blob deletion: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BlobDeletionRepository = (*PostgresBlobDeletionRepo)(nil)
