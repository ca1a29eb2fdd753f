// Package course はロードマップと詳細コースのマージ・生成・削除のドメインロジックを提供する。
//
// ユーザーごとのコレクションに対する読み込み・変更・書き込みは、
// identity（メールアドレス）をキーにした排他区間の中で行う。
package course

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/learnify/internal/collection"
	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
)

// RoadmapGenerator はトピックからロードマップエントリを生成する能力。
type RoadmapGenerator interface {
	GenerateRoadmap(ctx context.Context, topic string) ([]model.RoadmapEntry, error)
}

// HeadingFetcher は見出しの説明文を取得する能力。失敗せず、必ず文字列を返す。
type HeadingFetcher interface {
	FetchHeadingDetail(ctx context.Context, heading string) string
}

// Config はServiceの動作設定。
type Config struct {
	// HeadingConcurrency は1コースの見出し生成の最大並列数。
	HeadingConcurrency int
	// PersistTimeout はリクエストのキャンセルから切り離した保存処理の制限時間。
	PersistTimeout time.Duration
}

// Service はロードマップと詳細コースのサービス層。
type Service struct {
	users    repository.UserRepository
	roadmaps *collection.Store[model.RoadmapEntry]
	courses  *collection.Store[model.DetailedCourse]
	gen      RoadmapGenerator
	fetcher  HeadingFetcher
	cfg      Config
	locks    *keyedLock
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	roadmaps *collection.Store[model.RoadmapEntry],
	courses *collection.Store[model.DetailedCourse],
	gen RoadmapGenerator,
	fetcher HeadingFetcher,
	cfg Config,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if cfg.HeadingConcurrency < 1 {
		cfg.HeadingConcurrency = 1
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		roadmaps: roadmaps,
		courses:  courses,
		gen:      gen,
		fetcher:  fetcher,
		cfg:      cfg,
		locks:    newKeyedLock(),
		metrics:  m,
		logger:   logger,
	}
}

// AddRoadmapEntries はトピックのロードマップを生成し、ユーザーのロードマップ末尾に追加する。
// 生成に失敗した場合はエラーを返す。
// 保存に失敗した場合はログに記録し、生成結果とpersisted=falseを返す。
func (s *Service) AddRoadmapEntries(ctx context.Context, email, topic string) ([]model.RoadmapEntry, bool, error) {
	entries, err := s.gen.GenerateRoadmap(ctx, topic)
	if err != nil {
		return nil, false, err
	}

	if err := s.appendRoadmap(ctx, email, entries); err != nil {
		s.logger.Error("ロードマップの保存に失敗しました。生成結果のみ返します",
			slog.String("email", email),
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return entries, false, nil
	}
	return entries, true, nil
}

func (s *Service) appendRoadmap(ctx context.Context, email string, entries []model.RoadmapEntry) error {
	unlock, err := s.lock(ctx, email)
	if err != nil {
		return err
	}
	defer unlock()

	user, err := s.findUser(ctx, email)
	if err != nil {
		return err
	}

	existing, err := s.roadmaps.Load(ctx, user.RoadmapURL)
	if err != nil {
		return err
	}

	// 重複IDは除外しない
	merged := append(existing, entries...)

	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	return s.roadmaps.Replace(pctx, user, merged)
}

// GetOrBuildDetailedCourse はcourseIDの詳細コースを返す。
// 保存済みであればそのまま返し、生成は行わない。
// 未作成であればロードマップの該当エントリから全見出しの説明文を生成し、保存してから返す。
// IDの比較は大文字小文字を区別しない。
func (s *Service) GetOrBuildDetailedCourse(ctx context.Context, email, courseID string) (*model.DetailedCourse, error) {
	entry, cached, err := s.lookupCourse(ctx, email, courseID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	built := s.buildCourse(ctx, entry)

	return s.storeCourse(ctx, email, built)
}

// lookupCourse はキャッシュ済みの詳細コース、またはロードマップの該当エントリを返す。
func (s *Service) lookupCourse(ctx context.Context, email, courseID string) (*model.RoadmapEntry, *model.DetailedCourse, error) {
	unlock, err := s.lock(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, nil, err
	}

	courses, err := s.courses.Load(ctx, user.CourseURL)
	if err != nil {
		return nil, nil, err
	}
	if c := findCourse(courses, courseID); c != nil {
		return nil, c, nil
	}

	roadmap, err := s.roadmaps.Load(ctx, user.RoadmapURL)
	if err != nil {
		return nil, nil, err
	}
	for i := range roadmap {
		if model.MatchesID(roadmap[i].ID, courseID) {
			return &roadmap[i], nil, nil
		}
	}
	return nil, nil, model.NewCourseNotFoundError(courseID)
}

// buildCourse はエントリの全見出しの説明文を並列に取得して詳細コースを組み立てる。
// ctxがキャンセルされた場合、取得済みの見出しは保持し、残りはプレースホルダーになる。
func (s *Service) buildCourse(ctx context.Context, entry *model.RoadmapEntry) *model.DetailedCourse {
	start := time.Now()
	course := &model.DetailedCourse{
		ID:      entry.ID,
		Title:   entry.Title,
		Modules: make([]model.DetailedModule, len(entry.Modules)),
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.HeadingConcurrency)

	for i, m := range entry.Modules {
		headings := make([]model.HeadingDetail, len(m.Headings))
		course.Modules[i] = model.DetailedModule{ModuleTitle: m.ModuleTitle, Headings: headings}
		for j, heading := range m.Headings {
			g.Go(func() error {
				headings[j] = model.HeadingDetail{
					Heading:     heading,
					Description: s.fetcher.FetchHeadingDetail(ctx, heading),
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	s.logger.Info("詳細コースを生成しました",
		slog.String("course_id", course.ID),
		slog.Int("modules", len(course.Modules)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return course
}

// storeCourse は生成した詳細コースを保存する。
// 生成の間に同じIDのコースが保存されていた場合は、そちらを返す。
func (s *Service) storeCourse(ctx context.Context, email string, built *model.DetailedCourse) (*model.DetailedCourse, error) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	unlock, err := s.lock(pctx, email)
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := s.findUser(pctx, email)
	if err != nil {
		return nil, err
	}

	courses, err := s.courses.Load(pctx, user.CourseURL)
	if err != nil {
		return nil, err
	}
	if c := findCourse(courses, built.ID); c != nil {
		return c, nil
	}

	if err := s.courses.Replace(pctx, user, append(courses, *built)); err != nil {
		return nil, err
	}
	return built, nil
}

// RemoveEntry はタイトルが完全一致するエントリをロードマップと詳細コースの両方から削除し、
// 削除後のロードマップを返す。コレクションが空になった場合はポインタをクリアする。
func (s *Service) RemoveEntry(ctx context.Context, email, title string) ([]model.RoadmapEntry, error) {
	unlock, err := s.lock(ctx, email)
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}

	roadmap, err := s.roadmaps.Load(ctx, user.RoadmapURL)
	if err != nil {
		return nil, err
	}
	courses, err := s.courses.Load(ctx, user.CourseURL)
	if err != nil {
		return nil, err
	}

	keptRoadmap := removeByTitle(roadmap, title, func(e model.RoadmapEntry) string { return e.Title })
	keptCourses := removeByTitle(courses, title, func(c model.DetailedCourse) string { return c.Title })

	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if len(keptRoadmap) != len(roadmap) {
		if err := s.roadmaps.Replace(pctx, user, keptRoadmap); err != nil {
			return nil, err
		}
	}
	if len(keptCourses) != len(courses) {
		if err := s.courses.Replace(pctx, user, keptCourses); err != nil {
			return nil, err
		}
	}

	s.logger.Info("コースを削除しました",
		slog.String("email", email),
		slog.String("title", title),
		slog.Int("removed_roadmap", len(roadmap)-len(keptRoadmap)),
		slog.Int("removed_courses", len(courses)-len(keptCourses)),
	)
	return keptRoadmap, nil
}

// ListRoadmap はユーザーのロードマップを返す。未作成の場合はnilを返す。
func (s *Service) ListRoadmap(ctx context.Context, email string) ([]model.RoadmapEntry, error) {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.RoadmapURL == nil {
		return nil, nil
	}
	return s.roadmaps.Load(ctx, user.RoadmapURL)
}

func (s *Service) findUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) lock(ctx context.Context, email string) (func(), error) {
	start := time.Now()
	unlock, err := s.locks.Lock(ctx, email)
	s.metrics.RecordLockWait(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("ユーザーのロック取得を中断しました: %w", err)
	}
	return unlock, nil
}

// persistContext はキャンセルを引き継がず、保存用の制限時間を持つコンテキストを返す。
func (s *Service) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
}

func findCourse(courses []model.DetailedCourse, id string) *model.DetailedCourse {
	for i := range courses {
		if model.MatchesID(courses[i].ID, id) {
			return &courses[i]
		}
	}
	return nil
}

func removeByTitle[T any](items []T, title string, titleOf func(T) string) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if titleOf(item) != title {
			kept = append(kept, item)
		}
	}
	return kept
}
