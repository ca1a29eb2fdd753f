// Package generator は外部の生成モデルを呼び出し、ロードマップ・見出し説明・クイズ・チャット応答を生成する。
package generator

import (
	"context"
	"errors"
)

// ErrUnavailable はサーキットブレーカーが開いていて生成モデルを呼び出せない場合に返される。
var ErrUnavailable = errors.New("generation provider unavailable")

// ErrEmptyResponse は生成モデルが空の応答を返した場合に返される。
var ErrEmptyResponse = errors.New("generation provider returned empty response")

// Provider は生成モデルの呼び出し能力を表すインターフェース。
// 実装は失敗しうる外部呼び出しで、ctxのキャンセルに従う。
type Provider interface {
	// GenerateStructured はJSONでの応答を指示して生成し、応答テキストを返す。
	GenerateStructured(ctx context.Context, prompt string) (string, error)
	// GenerateText は自由形式のテキストを生成する。
	GenerateText(ctx context.Context, prompt string) (string, error)
}
