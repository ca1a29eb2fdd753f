// Package collection はユーザーごとのJSONコレクションをBlobとして読み書きする。
//
// コレクションの所在はユーザーレコードのポインタ（BlobのURL）で表す。
// ポインタがnilであることとコレクションが空であることは常に一致する。
// 更新は「新Blobのアップロード → ポインタのコミット → 旧Blobの破棄」の順で行い、
// コミットに失敗した場合は新Blobを破棄して元の状態に戻す。
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/learnify/internal/blobstore"
	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
)

// Store は1種類のコレクションを扱うアダプター。
type Store[T any] struct {
	kind      model.CollectionKind
	blobs     blobstore.Store
	users     repository.UserRepository
	deletions repository.BlobDeletionRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewStore はStoreを生成する。
// deletionsがnilの場合、破棄に失敗したBlobはログに記録するだけで再試行キューには登録しない。
func NewStore[T any](
	kind model.CollectionKind,
	blobs blobstore.Store,
	users repository.UserRepository,
	deletions repository.BlobDeletionRepository,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Store[T] {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		kind:      kind,
		blobs:     blobs,
		users:     users,
		deletions: deletions,
		metrics:   m,
		logger:    logger,
	}
}

// Kind はこのStoreが扱うコレクション種別を返す。
func (s *Store[T]) Kind() model.CollectionKind {
	return s.kind
}

// Load はポインタが指すコレクションを読み込む。
// ポインタがnilの場合は空のコレクションを返す。
// 取得に失敗した場合はSTORE_FETCH_FAILED、JSONが不正な場合はSTORE_FORMAT_INVALIDを返す。
// いずれの場合も空のコレクションとしては扱わない。
func (s *Store[T]) Load(ctx context.Context, pointer *string) ([]T, error) {
	if pointer == nil {
		return []T{}, nil
	}

	data, err := s.blobs.Fetch(ctx, *pointer)
	if err != nil {
		s.metrics.RecordBlobOperation(metrics.BlobFetch, metrics.OutcomeFailure)
		s.logger.Error("コレクションの取得に失敗しました",
			slog.String("kind", string(s.kind)),
			slog.String("blob_url", *pointer),
			slog.String("error", err.Error()),
		)
		reason := "ストレージが応答しませんでした"
		if errors.Is(err, blobstore.ErrNotFound) {
			reason = "保存先が見つかりません"
		}
		return nil, model.NewStoreFetchError(reason)
	}
	s.metrics.RecordBlobOperation(metrics.BlobFetch, metrics.OutcomeSuccess)

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Error("コレクションのJSONが不正です",
			slog.String("kind", string(s.kind)),
			slog.String("blob_url", *pointer),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreFormatError(s.kind)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Replace はuserのコレクションをitemsで置き換え、ポインタをコミットする。
// 成功した場合のみuserのポインタを更新する。
//
// itemsが空の場合はポインタをnilにコミットしてから旧Blobを破棄する。
// それ以外の場合は新Blobをアップロードし、ポインタをコミットしてから旧Blobを破棄する。
// コミットに失敗した場合は新Blobを破棄し、STORE_WRITE_FAILEDを返す。
// コミット後の旧Blobの破棄失敗はエラーにせず、再試行キューに登録する。
func (s *Store[T]) Replace(ctx context.Context, user *model.User, items []T) error {
	old := user.Pointer(s.kind)

	if len(items) == 0 {
		if old == nil {
			return nil
		}
		if err := s.users.UpdatePointer(ctx, user.ID, s.kind, nil); err != nil {
			s.logger.Error("ポインタのクリアに失敗しました",
				slog.String("kind", string(s.kind)),
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return model.NewStoreWriteError(s.kind)
		}
		user.SetPointer(s.kind, nil)
		s.release(ctx, *old, "collection emptied")
		return nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%sのシリアライズに失敗: %w", s.kind, err)
	}

	url, err := s.blobs.Upload(ctx, blobstore.ObjectName(string(s.kind)), data)
	if err != nil {
		s.metrics.RecordBlobOperation(metrics.BlobUpload, metrics.OutcomeFailure)
		s.logger.Error("コレクションのアップロードに失敗しました",
			slog.String("kind", string(s.kind)),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return model.NewStoreWriteError(s.kind)
	}
	s.metrics.RecordBlobOperation(metrics.BlobUpload, metrics.OutcomeSuccess)

	if err := s.users.UpdatePointer(ctx, user.ID, s.kind, &url); err != nil {
		s.logger.Error("ポインタのコミットに失敗したため新しいBlobを破棄します",
			slog.String("kind", string(s.kind)),
			slog.String("user_id", user.ID),
			slog.String("blob_url", url),
			slog.String("error", err.Error()),
		)
		s.release(ctx, url, "pointer commit failed")
		return model.NewStoreWriteError(s.kind)
	}
	user.SetPointer(s.kind, &url)

	if old != nil {
		s.release(ctx, *old, "replaced")
	}
	return nil
}

// release はBlobを破棄する。失敗した場合は孤立Blobとして再試行キューに登録する。
func (s *Store[T]) release(ctx context.Context, url, reason string) {
	err := s.blobs.Destroy(ctx, url)
	if err == nil {
		s.metrics.RecordBlobOperation(metrics.BlobDestroy, metrics.OutcomeSuccess)
		return
	}

	s.metrics.RecordBlobOperation(metrics.BlobDestroy, metrics.OutcomeFailure)
	s.metrics.RecordOrphanBlob()
	s.logger.Warn("Blobの破棄に失敗しました",
		slog.String("kind", string(s.kind)),
		slog.String("blob_url", url),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	if s.deletions == nil {
		return
	}
	if qerr := s.deletions.Enqueue(ctx, url, fmt.Sprintf("%s: %v", reason, err)); qerr != nil {
		s.logger.Error("孤立Blobの再試行キュー登録に失敗しました",
			slog.String("blob_url", url),
			slog.String("error", qerr.Error()),
		)
	}
}
