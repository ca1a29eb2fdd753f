package generator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings はサーキットブレーカーの設定。
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings はデフォルトのブレーカー設定を返す。
// 直近30秒で5件以上・8割以上失敗した場合に開き、60秒後に半開状態で試行を再開する。
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "generator",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerProvider はProviderの前段にサーキットブレーカーを置くデコレーター。
// ブレーカーが開いている間はErrUnavailableを即座に返す。
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerProvider はnextをサーキットブレーカーで保護したProviderを返す。
func NewBreakerProvider(next Provider, settings BreakerSettings) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// 呼び出し元のキャンセルは生成モデルの障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerProvider{next: next, cb: cb}
}

// GenerateStructured はブレーカー経由でnext.GenerateStructuredを呼び出す。
func (b *BreakerProvider) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.GenerateStructured(ctx, prompt)
	})
}

// GenerateText はブレーカー経由でnext.GenerateTextを呼び出す。
func (b *BreakerProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.GenerateText(ctx, prompt)
	})
}

// State はブレーカーの現在の状態を返す。
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerProvider) execute(fn func() (string, error)) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrUnavailable
		}
		return "", err
	}
	return result.(string), nil
}

// compile-time interface check
var _ Provider = (*BreakerProvider)(nil)
