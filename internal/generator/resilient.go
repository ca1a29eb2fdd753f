package generator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/retry"
)

// DescriptionNotAvailable は見出し説明の生成を諦めた場合に使うプレースホルダー。
const DescriptionNotAvailable = "Description not available"

// HeadingGenerator は見出し説明を1回生成する能力。
type HeadingGenerator interface {
	GenerateHeadingDetail(ctx context.Context, heading string) (string, error)
}

// ResilientConfig は見出し説明取得の再試行設定。
type ResilientConfig struct {
	// MaxAttempts は1見出しあたりの最大試行回数。
	MaxAttempts int
	// Backoff は試行間の待機。ジッター付きを想定する。
	Backoff retry.Policy
	// Deadline は1見出しあたりの総所要時間の上限。0の場合は上限なし。
	Deadline time.Duration
}

// ResilientFetcher は見出し説明の生成を再試行し、失敗してもエラーを返さない。
// 試行を使い切った場合やデッドラインを過ぎた場合はDescriptionNotAvailableを返す。
type ResilientFetcher struct {
	gen     HeadingGenerator
	cfg     ResilientConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewResilientFetcher はResilientFetcherを生成する。
func NewResilientFetcher(gen HeadingGenerator, cfg ResilientConfig, m metrics.MetricsCollector, logger *slog.Logger) *ResilientFetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientFetcher{gen: gen, cfg: cfg, metrics: m, logger: logger}
}

// FetchHeadingDetail は見出し説明を取得する。このメソッドは失敗しない。
// 呼び出し元のctxがキャンセルされた場合も、その時点でプレースホルダーを返す。
func (f *ResilientFetcher) FetchHeadingDetail(ctx context.Context, heading string) string {
	if f.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Deadline)
		defer cancel()
	}

	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			f.metrics.RecordHeadingRetry()
			if err := retry.Sleep(ctx, f.cfg.Backoff.Delay(attempt-1)); err != nil {
				break
			}
		}

		text, err := f.gen.GenerateHeadingDetail(ctx, heading)
		if err == nil {
			return text
		}

		f.logger.Warn("見出し説明の生成に失敗しました",
			slog.String("heading", heading),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", f.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}
	}

	f.metrics.RecordHeadingDegraded()
	f.logger.Warn("見出し説明をプレースホルダーに置き換えました",
		slog.String("heading", heading),
		slog.Bool("degraded", true),
	)
	return DescriptionNotAvailable
}
