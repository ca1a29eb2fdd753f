package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/learnify/internal/model"
)

// CourseServiceInterface はコースハンドラーが必要とするサービスインターフェース。
type CourseServiceInterface interface {
	AddRoadmapEntries(ctx context.Context, email, topic string) ([]model.RoadmapEntry, bool, error)
	GetOrBuildDetailedCourse(ctx context.Context, email, courseID string) (*model.DetailedCourse, error)
	RemoveEntry(ctx context.Context, email, title string) ([]model.RoadmapEntry, error)
	ListRoadmap(ctx context.Context, email string) ([]model.RoadmapEntry, error)
}

// CourseHandler はロードマップと詳細コースのHTTPハンドラー。
type CourseHandler struct {
	service CourseServiceInterface
}

// NewCourseHandler はCourseHandlerを生成する。
func NewCourseHandler(service CourseServiceInterface) *CourseHandler {
	return &CourseHandler{service: service}
}

// searchResponse はトピック検索のレスポンス。
// Persistedがfalseの場合、生成結果は保存されていない。
type searchResponse struct {
	Courses   []model.RoadmapEntry `json:"courses"`
	Persisted bool                 `json:"persisted"`
}

// listResponse はロードマップ一覧のレスポンス。未作成の場合coursesはnull。
type listResponse struct {
	Email   string               `json:"email"`
	Courses []model.RoadmapEntry `json:"courses"`
}

// removeRequest はコース削除リクエストのボディ。course_titleも受け付ける。
type removeRequest struct {
	Title       string `json:"title"`
	CourseTitle string `json:"course_title"`
}

// removeResponse はコース削除のレスポンス。
type removeResponse struct {
	Message        string               `json:"message"`
	UpdatedCourses []model.RoadmapEntry `json:"updated_courses"`
}

// Search はトピックのロードマップを生成してユーザーのロードマップに追加する。
// GET /api/courses/search?topic=...
func (h *CourseHandler) Search(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	// トピックは小文字に揃えてから生成に渡す
	topic := strings.ToLower(queryParam(r, "topic", "query"))
	if topic == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("topicは必須です"))
		return
	}

	entries, persisted, err := h.service.AddRoadmapEntries(r.Context(), identity, topic)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Courses: entries, Persisted: persisted})
}

// GetModule は詳細コースを返す。未作成であれば生成する。
// GET /get_module?courseId=...
func (h *CourseHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	courseID := queryParam(r, "courseId", "course-id")
	if courseID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("courseIdは必須です"))
		return
	}

	course, err := h.service.GetOrBuildDetailedCourse(r.Context(), identity, courseID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, course)
}

// ListCourses はユーザーのロードマップを返す。
// GET /api/courses
func (h *CourseHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListRoadmap(r.Context(), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Email: identity, Courses: entries})
}

// RemoveCourse はタイトルが一致するコースをロードマップと詳細コースから削除する。
// POST /api/remove_course
func (h *CourseHandler) RemoveCourse(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req removeRequest
	if apiErr := decodeAndValidate(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	title := firstNonEmpty(req.Title, req.CourseTitle)
	if title == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("titleは必須です"))
		return
	}

	updated, err := h.service.RemoveEntry(r.Context(), identity, title)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, removeResponse{
		Message:        "Course removed successfully",
		UpdatedCourses: updated,
	})
}
