// Package blobstore はユーザーのコレクションJSONを保持する永続Blobストレージを提供する。
//
// Blobは不変として扱い、更新は常に新しいBlobのアップロードと古いBlobの破棄で行う。
// BlobのURLがそのBlobの同一性を表し、破棄もURLで指定する。
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrBlobTooLarge は取得したBlobがサイズ上限を超えた場合に返される。
	ErrBlobTooLarge = errors.New("blob exceeds size limit")
	// ErrForeignURL はこのストアが管理していないURLを破棄しようとした場合に返される。
	ErrForeignURL = errors.New("url is not managed by this store")
	// ErrNotFound はBlobが存在しない場合に返される。
	ErrNotFound = errors.New("blob not found")
)

// Store はBlobのアップロード・取得・破棄を行うインターフェース。
type Store interface {
	// Upload はdataを新しいBlobとして保存し、そのURLを返す。
	Upload(ctx context.Context, name string, data []byte) (string, error)
	// Fetch はURLが指すBlobの内容を返す。
	Fetch(ctx context.Context, url string) ([]byte, error)
	// Destroy はURLが指すBlobを削除する。
	Destroy(ctx context.Context, url string) error
}

// ObjectName はコレクション種別をプレフィックスにした一意なオブジェクト名を生成する。
// 例: "roadmap/3f0e...json"
func ObjectName(prefix string) string {
	return fmt.Sprintf("%s/%s.json", prefix, uuid.New().String())
}
