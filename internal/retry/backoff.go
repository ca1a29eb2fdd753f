// Package retry は指数バックオフの遅延計算と、デッドライン付きの待機を提供する。
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy は指数バックオフの設定。
// 試行n回目（0始まり）の上限遅延は Initial * 2^n で、Max を超えない。
type Policy struct {
	// Initial は初回の遅延。
	Initial time.Duration
	// Max は遅延の上限。
	Max time.Duration
	// Jitter がtrueの場合、[0, 上限遅延) の一様乱数を遅延とする（フルジッター）。
	Jitter bool
}

// Backoff は連続失敗回数に基づいてジッターなしの指数バックオフ遅延を計算する。
// 0回目はInitial、以降2倍ずつ増加し、Maxで頭打ちになる。
func (p Policy) Backoff(consecutiveFailures int) time.Duration {
	delay := p.Initial
	if delay <= 0 {
		return 0
	}
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// Delay はBackoffにジッター設定を適用した実際の待機時間を返す。
func (p Policy) Delay(consecutiveFailures int) time.Duration {
	ceiling := p.Backoff(consecutiveFailures)
	if !p.Jitter || ceiling <= 0 {
		return ceiling
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}

// Sleep はdだけ待機する。ctxがキャンセルされた場合は即座にctx.Err()を返す。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
