// Package cleanup は孤立Blobの削除再試行ジョブを提供する。
// コレクション差し替え後に削除できなかった旧Blobや、コミット失敗で
// 参照されなくなった新Blobは再試行キューに登録される。
// このジョブはキューから期限の来たエントリを取り出して削除を再試行し、
// 失敗した場合は指数バックオフで次回試行時刻を延ばす。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/learnify/internal/blobstore"
	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
	"github.com/hitoshi/learnify/internal/retry"
)

// デフォルト設定値
const (
	DefaultBatchSize = 50
	DefaultInterval  = 10 * time.Minute
)

// DefaultPolicy は再試行間隔のデフォルト。30秒から倍々に延ばし、12時間で頭打ちにする。
var DefaultPolicy = retry.Policy{Initial: 30 * time.Second, Max: 12 * time.Hour}

// Result は1回の実行結果。
type Result struct {
	Destroyed   int
	Rescheduled int
	Dropped     int
}

// SweepJob は孤立Blobの削除を再試行するジョブ。
// 冪等: 既に消えているBlobの削除は成功として扱う。
type SweepJob struct {
	queue  repository.BlobDeletionRepository
	blobs  blobstore.Store
	m      metrics.MetricsCollector
	logger *slog.Logger
	now    func() time.Time

	BatchSize int
	Policy    retry.Policy
	// MaxAttempts を超えたエントリはキューから外す。0以下は無制限。
	MaxAttempts int
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(queue repository.BlobDeletionRepository, blobs blobstore.Store, m metrics.MetricsCollector, logger *slog.Logger) *SweepJob {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepJob{
		queue:     queue,
		blobs:     blobs,
		m:         m,
		logger:    logger,
		now:       time.Now,
		BatchSize: DefaultBatchSize,
		Policy:    DefaultPolicy,
	}
}

// Run は期限の来たエントリを最大BatchSize件処理する。
// 個々のBlobの削除失敗はエラーとして返さず、再スケジュールする。
func (j *SweepJob) Run(ctx context.Context) (Result, error) {
	start := j.now()
	var res Result

	due, err := j.queue.ListDue(ctx, start, j.BatchSize)
	if err != nil {
		j.logger.Error("孤立Blobキューの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("孤立Blobキューの取得に失敗: %w", err)
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome, err := j.sweepOne(ctx, d)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeDestroyed:
			res.Destroyed++
		case outcomeRescheduled:
			res.Rescheduled++
		case outcomeDropped:
			res.Dropped++
		}
	}

	j.logger.Info("孤立Blobスイープが完了しました",
		slog.Int("due", len(due)),
		slog.Int("destroyed", res.Destroyed),
		slog.Int("rescheduled", res.Rescheduled),
		slog.Int("dropped", res.Dropped),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return res, nil
}

type sweepOutcome int

const (
	outcomeDestroyed sweepOutcome = iota
	outcomeRescheduled
	outcomeDropped
)

func (j *SweepJob) sweepOne(ctx context.Context, d *model.BlobDeletion) (sweepOutcome, error) {
	destroyErr := j.blobs.Destroy(ctx, d.BlobURL)
	if destroyErr == nil || errors.Is(destroyErr, blobstore.ErrNotFound) {
		j.m.RecordBlobOperation(metrics.BlobDestroy, metrics.OutcomeSuccess)
		if err := j.queue.Delete(ctx, d.ID); err != nil {
			return 0, fmt.Errorf("再試行キューの削除に失敗: %w", err)
		}
		j.logger.Debug("孤立Blobを削除しました", slog.String("blob_url", d.BlobURL))
		return outcomeDestroyed, nil
	}
	j.m.RecordBlobOperation(metrics.BlobDestroy, metrics.OutcomeFailure)

	attempts := d.Attempts + 1
	if errors.Is(destroyErr, blobstore.ErrForeignURL) || (j.MaxAttempts > 0 && attempts >= j.MaxAttempts) {
		j.logger.Warn("孤立Blobの削除を断念しました",
			slog.String("blob_url", d.BlobURL),
			slog.Int("attempts", attempts),
			slog.String("error", destroyErr.Error()),
		)
		if err := j.queue.Delete(ctx, d.ID); err != nil {
			return 0, fmt.Errorf("再試行キューの削除に失敗: %w", err)
		}
		return outcomeDropped, nil
	}

	next := j.now().Add(j.Policy.Backoff(d.Attempts))
	j.logger.Warn("孤立Blobの削除に失敗しました",
		slog.String("blob_url", d.BlobURL),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", next),
		slog.String("error", destroyErr.Error()),
	)
	if err := j.queue.Reschedule(ctx, d.ID, attempts, next, destroyErr.Error()); err != nil {
		return 0, fmt.Errorf("再試行キューの更新に失敗: %w", err)
	}
	return outcomeRescheduled, nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	j.logger.Info("孤立Blobスイーパーを開始しました", slog.Duration("interval", interval))

	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("孤立Blobスイープに失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("孤立Blobスイーパーを停止しました")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("孤立Blobスイープに失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
