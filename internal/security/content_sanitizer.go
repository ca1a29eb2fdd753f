package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は生成モデルが返したテキストを保存・応答前にサニタイズする。
// 見出し説明、チャット応答、クイズ文面など、フロントエンドでHTMLとして描画されうる
// 文字列すべてに適用される。
type ContentSanitizerService interface {
	// Sanitize は許可リスト外のタグと全てのイベント属性を除去した文字列を返す。
	// 前後の空白は取り除かれる。空文字列の入力には空文字列を返す。
	Sanitize(text string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemonday.Policyはスレッドセーフなため、1インスタンスを共有する。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, pre, code, strong, em, h3, h4, a
//   - aタグはhttpsの完全修飾URLのみ、target="_blank" と rel="noopener noreferrer" を自動付与
//   - img, script, iframe, styleは許可しない
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"pre", "code", "strong", "em",
		"h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize は生成テキストをサニタイズする。
func (s *contentSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(text))
}
