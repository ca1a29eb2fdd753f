package generator

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider はGoogle Gen AI SDK経由でGeminiを呼び出すProvider実装。
// クライアントはプロセス起動時に1度だけ生成し、全リクエストで共有する。
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider はAPIキーとモデル名からGeminiProviderを生成する。
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// GenerateStructured はレスポンスMIMEタイプにapplication/jsonを指定して生成する。
func (p *GeminiProvider) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
}

// GenerateText は自由形式のテキストを生成する。
func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt, nil)
}

func (p *GeminiProvider) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// compile-time interface check
var _ Provider = (*GeminiProvider)(nil)
