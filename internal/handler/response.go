package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/learnify/internal/middleware"
	"github.com/hitoshi/learnify/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// messageResponse はメッセージのみのレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// decodeAndValidate はJSONボディをvにデコードし、validateタグで検証する。
// 失敗した場合はINVALID_REQUESTのAPIErrorを返す。
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) *model.APIError {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}
	if err := validate.Struct(v); err != nil {
		return model.NewInvalidRequestError(formatValidationError(err))
	}
	return nil
}

// formatValidationError は検証エラーを利用者向けの文字列にまとめる。
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%sは必須です", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%sはメールアドレスの形式で指定してください", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%sは%s文字以上で指定してください", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%sは%s文字以下で指定してください", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%sが不正です", field))
		}
	}
	return strings.Join(msgs, "; ")
}

// queryParam はnamesのうち最初に値が入っているクエリパラメータを返す。
func queryParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// firstNonEmpty は最初の空でない文字列を返す。
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// requireIdentity は認証済みidentityを取得する。取得できない場合は401を書き込み、falseを返す。
func requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return identity, true
}
