// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, generation, storage, course, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeGenerationParseFailed = "GENERATION_PARSE_FAILED"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodeGenerationUnavailable = "GENERATION_UNAVAILABLE"
	ErrCodeStoreFetchFailed      = "STORE_FETCH_FAILED"
	ErrCodeStoreFormatInvalid    = "STORE_FORMAT_INVALID"
	ErrCodeStoreWriteFailed      = "STORE_WRITE_FAILED"
	ErrCodeCourseNotFound        = "COURSE_NOT_FOUND"
	ErrCodeRoadmapNotFound       = "ROADMAP_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeEmailAlreadyExists    = "EMAIL_ALREADY_EXISTS"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewGenerationParseError は構造化生成の応答がJSONとして解釈できない場合のエラーを生成する。
func NewGenerationParseError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationParseFailed,
		Message:  fmt.Sprintf("生成された%sの解析に失敗しました。", what),
		Category: "generation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewGenerationFailedError は生成モデルの呼び出しに失敗した場合のエラーを生成する。
func NewGenerationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  fmt.Sprintf("コンテンツの生成に失敗しました: %s", reason),
		Category: "generation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewGenerationUnavailableError はサーキットブレーカーが開いている場合のエラーを生成する。
func NewGenerationUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeGenerationUnavailable,
		Message:  "生成サービスが一時的に利用できません。",
		Category: "generation",
		Action:   "1分ほど待ってから再度お試しください。",
	}
}

// NewStoreFetchError は保存済みコレクションの取得に失敗した場合のエラーを生成する。
func NewStoreFetchError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFetchFailed,
		Message:  fmt.Sprintf("保存済みデータの取得に失敗しました: %s", reason),
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreFormatError は保存済みコレクションのJSONが不正な場合のエラーを生成する。
func NewStoreFormatError(kind CollectionKind) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFormatInvalid,
		Message:  fmt.Sprintf("保存済みの%sの形式が不正です。", kind.DisplayName()),
		Category: "storage",
		Action:   "管理者に連絡してください。",
	}
}

// NewStoreWriteError はコレクションの保存に失敗した場合のエラーを生成する。
func NewStoreWriteError(kind CollectionKind) *APIError {
	return &APIError{
		Code:     ErrCodeStoreWriteFailed,
		Message:  fmt.Sprintf("%sの保存に失敗しました。", kind.DisplayName()),
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCourseNotFoundError はコースIDがキャッシュにもロードマップにも存在しない場合のエラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定されたコースが見つかりません: %s", courseID),
		Category: "course",
		Action:   "ロードマップ一覧からコースを選択してください。",
	}
}

// NewRoadmapNotFoundError はロードマップが未作成の場合のエラーを生成する。
func NewRoadmapNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeRoadmapNotFound,
		Message:  "ロードマップがまだ作成されていません。",
		Category: "course",
		Action:   "トピックを検索してロードマップを作成してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailAlreadyExistsError は登録済みメールアドレスで登録しようとした場合のエラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は認証が必要なエンドポイントに未認証でアクセスした場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストの形式や必須項目が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInternalError は分類できないエラーをクライアントに返す場合のエラーを生成する。
// 詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
