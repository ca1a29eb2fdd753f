// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/learnify/internal/model"
)

// ErrDuplicateEmail は登録済みメールアドレスでユーザーを作成しようとした場合に返される。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePointer は指定コレクションのBlobポインタを更新してコミットする。
	// pointerがnilの場合はNULLを書き込み、コレクションが空であることを示す。
	UpdatePointer(ctx context.Context, userID string, kind model.CollectionKind, pointer *string) error
}

// BlobDeletionRepository は削除に失敗した孤立Blobの再試行キューの永続化インターフェース。
type BlobDeletionRepository interface {
	// Enqueue は孤立BlobのURLを再試行キューに登録する。同一URLが登録済みの場合は何もしない。
	Enqueue(ctx context.Context, blobURL, reason string) error

	// ListDue はnext_attempt_at <= now の再試行対象を古い順にlimit件取得する。
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.BlobDeletion, error)

	// Reschedule は試行回数・次回試行時刻・最終エラーを更新する。
	Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error

	// Delete は再試行キューからエントリを削除する。
	Delete(ctx context.Context, id string) error
}
