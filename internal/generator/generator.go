package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/security"
)

// Generator は生成モデルへの問い合わせをドメインの形に変換する。
// 状態を持たず、呼び出しごとに外部リクエストを1回行う。
type Generator struct {
	provider  Provider
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	timeout   time.Duration
}

// NewGenerator はGeneratorを生成する。metricsがnilの場合は記録しない。
func NewGenerator(provider Provider, sanitizer security.ContentSanitizerService, m metrics.MetricsCollector) *Generator {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Generator{
		provider:  provider,
		sanitizer: sanitizer,
		metrics:   m,
	}
}

// WithTimeout はプロバイダー呼び出し1回あたりの制限時間を設定する。0の場合は制限しない。
func (g *Generator) WithTimeout(d time.Duration) *Generator {
	g.timeout = d
	return g
}

// GenerateRoadmap はトピックのロードマップを生成する。
// 応答は1件のオブジェクトでも配列でも受け付け、常にスライスで返す。
// IDはモデルの出力に関わらずタイトルのスラッグで上書きする。
func (g *Generator) GenerateRoadmap(ctx context.Context, topic string) ([]model.RoadmapEntry, error) {
	text, err := g.call(ctx, metrics.GenerationRoadmap, func(ctx context.Context) (string, error) {
		return g.provider.GenerateStructured(ctx, roadmapPrompt(topic))
	})
	if err != nil {
		return nil, g.toAPIError(err)
	}

	var entries []model.RoadmapEntry
	if err := decodeList(text, &entries); err != nil {
		g.metrics.RecordGeneration(metrics.GenerationRoadmap, metrics.OutcomeParseError)
		slog.Warn("ロードマップの解析に失敗しました",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationParseError("ロードマップ")
	}

	for i := range entries {
		g.sanitizeEntry(&entries[i])
		if entries[i].Title == "" {
			g.metrics.RecordGeneration(metrics.GenerationRoadmap, metrics.OutcomeParseError)
			return nil, model.NewGenerationParseError("ロードマップ")
		}
		entries[i].ID = model.Slugify(entries[i].Title)
	}
	if len(entries) == 0 {
		g.metrics.RecordGeneration(metrics.GenerationRoadmap, metrics.OutcomeParseError)
		return nil, model.NewGenerationParseError("ロードマップ")
	}

	g.metrics.RecordGeneration(metrics.GenerationRoadmap, metrics.OutcomeSuccess)
	return entries, nil
}

// sanitizeEntry はロードマップエントリの全ての文字列をサニタイズする。IDはこの後タイトルから作り直す。
func (g *Generator) sanitizeEntry(e *model.RoadmapEntry) {
	e.Title = g.sanitizer.Sanitize(e.Title)
	e.Description = g.sanitizer.Sanitize(e.Description)
	for i := range e.Modules {
		m := &e.Modules[i]
		m.ModuleTitle = g.sanitizer.Sanitize(m.ModuleTitle)
		for j := range m.Headings {
			m.Headings[j] = g.sanitizer.Sanitize(m.Headings[j])
		}
	}
}

// GenerateHeadingDetail は1つの見出しの説明文を生成する。
// 解析は行わず、サニタイズ済みのテキストを返す。失敗時は元のエラーを返す。
func (g *Generator) GenerateHeadingDetail(ctx context.Context, heading string) (string, error) {
	text, err := g.call(ctx, metrics.GenerationHeading, func(ctx context.Context) (string, error) {
		return g.provider.GenerateText(ctx, headingPrompt(heading))
	})
	if err != nil {
		return "", err
	}

	clean := g.sanitizer.Sanitize(text)
	if clean == "" {
		g.metrics.RecordGeneration(metrics.GenerationHeading, metrics.OutcomeFailure)
		return "", ErrEmptyResponse
	}
	g.metrics.RecordGeneration(metrics.GenerationHeading, metrics.OutcomeSuccess)
	return clean, nil
}

// GenerateQuiz はトピックの4択問題を生成する。
func (g *Generator) GenerateQuiz(ctx context.Context, topic string) ([]model.QuizQuestion, error) {
	text, err := g.call(ctx, metrics.GenerationQuiz, func(ctx context.Context) (string, error) {
		return g.provider.GenerateStructured(ctx, quizPrompt(topic))
	})
	if err != nil {
		return nil, g.toAPIError(err)
	}

	var questions []model.QuizQuestion
	if err := decodeList(text, &questions); err != nil || len(questions) == 0 {
		g.metrics.RecordGeneration(metrics.GenerationQuiz, metrics.OutcomeParseError)
		return nil, model.NewGenerationParseError("クイズ")
	}

	for i := range questions {
		q := &questions[i]
		q.Question = g.sanitizer.Sanitize(q.Question)
		q.Correct = g.sanitizer.Sanitize(q.Correct)
		for j := range q.Options {
			q.Options[j] = g.sanitizer.Sanitize(q.Options[j])
		}
	}

	g.metrics.RecordGeneration(metrics.GenerationQuiz, metrics.OutcomeSuccess)
	return questions, nil
}

// Respond はチャットメッセージへの応答を生成する。再試行は行わない。
func (g *Generator) Respond(ctx context.Context, message string) (string, error) {
	text, err := g.call(ctx, metrics.GenerationChat, func(ctx context.Context) (string, error) {
		return g.provider.GenerateText(ctx, message)
	})
	if err != nil {
		return "", g.toAPIError(err)
	}

	g.metrics.RecordGeneration(metrics.GenerationChat, metrics.OutcomeSuccess)
	return g.sanitizer.Sanitize(text), nil
}

// call はプロバイダー呼び出しのレイテンシと失敗を記録する。
func (g *Generator) call(ctx context.Context, kind string, fn func(context.Context) (string, error)) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := fn(ctx)
	g.metrics.RecordGenerationLatency(kind, time.Since(start))

	if err != nil {
		outcome := metrics.OutcomeFailure
		if errors.Is(err, ErrUnavailable) {
			outcome = metrics.OutcomeUnavailable
		}
		g.metrics.RecordGeneration(kind, outcome)
		return "", err
	}
	return text, nil
}

// toAPIError はプロバイダーのエラーを利用者向けのAPIErrorに変換する。
func (g *Generator) toAPIError(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return model.NewGenerationUnavailableError()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewGenerationFailedError("タイムアウトまたはキャンセル")
	}
	slog.Error("生成モデルの呼び出しに失敗しました", slog.String("error", err.Error()))
	return model.NewGenerationFailedError("生成モデルが応答しませんでした")
}

// decodeList は構造化応答をスライスとして解釈する。
// 単一オブジェクトの応答は1要素の配列として扱い、Markdownのコードフェンスは取り除く。
func decodeList(text string, v any) error {
	raw := bytes.TrimSpace([]byte(stripCodeFence(text)))
	if len(raw) == 0 {
		return fmt.Errorf("empty structured response")
	}

	switch raw[0] {
	case '[':
	case '{':
		raw = append(append([]byte{'['}, raw...), ']')
	default:
		return fmt.Errorf("structured response is neither object nor array")
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// stripCodeFence は ```json ... ``` で囲まれた応答から中身を取り出す。
// 開始と終了のフェンスが同じ行にある応答も扱う。
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")

	// フェンス直後の語は言語タグ（"json" など）
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch {
	case end < 0:
		s = ""
	case end > 0 && unicode.IsSpace(rune(s[end])):
		s = s[end:]
	}
	return strings.TrimSpace(s)
}
