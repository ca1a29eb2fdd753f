// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Emailが認証済みidentityとして扱われる一意キー。
// RoadmapURL/CourseURLは各コレクションを保持するBlobへのポインタで、
// nilはコレクションが空（未作成）であることを示す。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	RoadmapURL   *string
	CourseURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CollectionKind はユーザーごとに保持するコレクションの種類。
type CollectionKind string

const (
	// CollectionRoadmap はロードマップエントリのコレクション。
	CollectionRoadmap CollectionKind = "roadmap"
	// CollectionCourse は詳細コースのコレクション。
	CollectionCourse CollectionKind = "course"
)

// DisplayName はエラーメッセージ用の表示名を返す。
func (k CollectionKind) DisplayName() string {
	switch k {
	case CollectionRoadmap:
		return "ロードマップ"
	case CollectionCourse:
		return "詳細コース"
	default:
		return string(k)
	}
}

// Pointer はコレクション種別に対応するポインタを返す。
func (u *User) Pointer(kind CollectionKind) *string {
	switch kind {
	case CollectionRoadmap:
		return u.RoadmapURL
	case CollectionCourse:
		return u.CourseURL
	default:
		return nil
	}
}

// SetPointer はコレクション種別に対応するポインタを設定する。
func (u *User) SetPointer(kind CollectionKind, pointer *string) {
	switch kind {
	case CollectionRoadmap:
		u.RoadmapURL = pointer
	case CollectionCourse:
		u.CourseURL = pointer
	}
}

// BlobDeletion は削除に失敗し、後続のスイープで再試行する孤立Blobを表す。
type BlobDeletion struct {
	ID            string
	BlobURL       string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}
