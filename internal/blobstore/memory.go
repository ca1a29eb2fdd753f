package blobstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const memoryURLPrefix = "memory://blobs/"

// MemoryStore はプロセス内メモリに保持するStore実装。
// STORAGE_BACKEND=memory のローカル開発と、コレクション操作のテストで使用する。
// On*フックを設定すると、対象操作の前に呼ばれ、エラーを返すとその操作は失敗する。
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	OnUpload  func(name string) error
	OnFetch   func(url string) error
	OnDestroy func(url string) error
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Upload はdataのコピーを保存し、memory://形式のURLを返す。
func (s *MemoryStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.OnUpload != nil {
		if err := s.OnUpload(name); err != nil {
			return "", err
		}
	}

	url := memoryURLPrefix + name

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[url]; exists {
		return "", fmt.Errorf("blob %s already exists", name)
	}
	s.blobs[url] = append([]byte(nil), data...)
	return url, nil
}

// Fetch は保存済みBlobのコピーを返す。
func (s *MemoryStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.OnFetch != nil {
		if err := s.OnFetch(url); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[url]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", url, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Destroy はBlobを削除する。存在しないURLの削除は成功として扱う。
func (s *MemoryStore) Destroy(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(url, memoryURLPrefix) {
		return fmt.Errorf("%s: %w", url, ErrForeignURL)
	}
	if s.OnDestroy != nil {
		if err := s.OnDestroy(url); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, url)
	return nil
}

// Exists はURLのBlobが保存されているかを返す。
func (s *MemoryStore) Exists(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[url]
	return ok
}

// Len は保存されているBlob数を返す。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
