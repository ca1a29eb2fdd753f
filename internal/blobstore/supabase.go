package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/learnify/internal/security"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

const jsonContentType = "application/json"

// SupabaseStore はSupabase Storageの公開バケットを使用するStore実装。
// アップロードと削除はstorage-goクライアント、取得は公開URLへのSSRF防止付きHTTPで行う。
type SupabaseStore struct {
	storage      *storage_go.Client
	bucket       string
	publicPrefix string
	httpClient   *http.Client
	guard        security.SSRFGuardService
	maxSize      int64

	// storage-goはファイルオプションを共有ヘッダに書き込むため、アップロードを直列化する
	uploadMu sync.Mutex
}

// NewSupabaseStore はSupabaseクライアントからSupabaseStoreを生成する。
func NewSupabaseStore(client *supabase.Client, bucket string, guard security.SSRFGuardService, fetchTimeout time.Duration, maxSize int64) *SupabaseStore {
	return &SupabaseStore{
		storage:      client.Storage,
		bucket:       bucket,
		publicPrefix: client.Storage.GetPublicUrl(bucket, "").SignedURL,
		httpClient:   guard.NewSafeClient(fetchTimeout),
		guard:        guard,
		maxSize:      maxSize,
	}
}

// Upload はdataをバケット内のnameに新規作成し、公開URLを返す。
// 既存オブジェクトの上書きは行わない。
func (s *SupabaseStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	contentType := jsonContentType
	upsert := false

	s.uploadMu.Lock()
	_, err := s.storage.UploadFile(s.bucket, name, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	s.uploadMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", name, err)
	}

	return s.storage.GetPublicUrl(s.bucket, name).SignedURL, nil
}

// Fetch は公開URLからBlobを取得する。
// URLは事前検証され、レスポンスはmaxSizeバイトを超えるとErrBlobTooLargeになる。
func (s *SupabaseStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := s.guard.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("refusing to fetch blob: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob request: %w", err)
	}
	req.Header.Set("Accept", jsonContentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("blob %s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("blob fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrBlobTooLarge
	}

	return data, nil
}

// Destroy は公開URLからオブジェクトパスを求めて削除する。
func (s *SupabaseStore) Destroy(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.objectPath(url)
	if err != nil {
		return err
	}

	if _, err := s.storage.RemoveFile(s.bucket, []string{path}); err != nil {
		return fmt.Errorf("failed to remove blob %s: %w", path, err)
	}
	return nil
}

// objectPath は公開URLからバケット内のオブジェクトパスを取り出す。
func (s *SupabaseStore) objectPath(url string) (string, error) {
	if !strings.HasPrefix(url, s.publicPrefix) {
		return "", fmt.Errorf("%s: %w", url, ErrForeignURL)
	}
	path := strings.TrimPrefix(url, s.publicPrefix)
	if path == "" {
		return "", fmt.Errorf("%s: %w", url, ErrForeignURL)
	}
	return path, nil
}

// compile-time interface check
var _ Store = (*SupabaseStore)(nil)
