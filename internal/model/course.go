package model

import "strings"

// RoadmapEntry はトピック検索で生成される学習ロードマップの1件。
// IDはTitleから導出したスラッグで、詳細コースとの対応付けキーになる。
type RoadmapEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Modules     []Module `json:"modules"`
}

// Module はロードマップのモジュール。見出しは順序付き。
type Module struct {
	ModuleTitle string   `json:"moduleTitle"`
	Headings    []string `json:"headings"`
}

// DetailedCourse はロードマップエントリの全見出しに説明文を展開したコース。
// 一度生成されると削除されるまで再生成しない。
type DetailedCourse struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Modules []DetailedModule `json:"modules"`
}

// DetailedModule は詳細コースのモジュール。
type DetailedModule struct {
	ModuleTitle string          `json:"moduleTitle"`
	Headings    []HeadingDetail `json:"headings"`
}

// HeadingDetail は見出しと生成された説明文の組。
type HeadingDetail struct {
	Heading     string `json:"heading"`
	Description string `json:"description"`
}

// QuizQuestion はトピックから生成される4択問題。
type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  string   `json:"correct"`
}

// Slugify はタイトルを小文字・ハイフン区切りのスラッグIDに変換する。
// 連続する空白は1つのハイフンにまとめる。
func Slugify(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), "-"))
}

// MatchesID は大文字小文字を区別せずにIDを比較する。
func MatchesID(id, candidate string) bool {
	return strings.EqualFold(id, candidate)
}
