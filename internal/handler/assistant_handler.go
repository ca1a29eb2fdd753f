package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/learnify/internal/model"
)

// AssistantInterface はチャットとクイズのハンドラーが必要とするインターフェース。
type AssistantInterface interface {
	Respond(ctx context.Context, message string) (string, error)
	GenerateQuiz(ctx context.Context, topic string) ([]model.QuizQuestion, error)
}

// AssistantHandler はチャットとクイズのHTTPハンドラー。どちらも状態を持たない。
type AssistantHandler struct {
	assistant AssistantInterface
}

// NewAssistantHandler はAssistantHandlerを生成する。
func NewAssistantHandler(assistant AssistantInterface) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat はメッセージへの応答を返す。
// POST /chat
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if apiErr := decodeAndValidate(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	reply, err := h.assistant.Respond(r.Context(), req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

// Quiz はトピックの4択問題を返す。
// GET /quiz?topic=...
func (h *AssistantHandler) Quiz(w http.ResponseWriter, r *http.Request) {
	topic := queryParam(r, "topic", "query")
	if topic == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("topicは必須です"))
		return
	}

	questions, err := h.assistant.GenerateQuiz(r.Context(), topic)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, questions)
}
