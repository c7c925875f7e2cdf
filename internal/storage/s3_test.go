package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestS3Backend_ImplementsObjectStorage はインターフェース適合を検証する。
func TestS3Backend_ImplementsObjectStorage(t *testing.T) {
	var _ ObjectStorage = (*S3Backend)(nil)
}

// TestS3Backend_SignedURLs は署名URLがネットワークアクセスなしで生成でき、
// バケット・キー・有効期限がURLに反映されることを検証する。
// 署名処理はローカルで完結するため実ストレージは不要。
func TestS3Backend_SignedURLs(t *testing.T) {
	backend := NewS3Backend(S3Config{
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "test-access",
		SecretKey: "test-secret",
	})

	t.Run("GET", func(t *testing.T) {
		url, err := backend.SignedGetURL(context.Background(), "pdfs", "module/module_1/a.pdf", 30*time.Minute)
		if err != nil {
			t.Fatalf("SignedGetURL failed: %v", err)
		}
		if !strings.Contains(url, "pdfs") || !strings.Contains(url, "module/module_1/a.pdf") {
			t.Errorf("URL does not reference bucket/key: %s", url)
		}
		if !strings.Contains(url, "X-Amz-Expires=1800") {
			t.Errorf("URL does not carry the 30m expiry: %s", url)
		}
		if !strings.Contains(url, "X-Amz-Signature=") {
			t.Errorf("URL is not signed: %s", url)
		}
	})

	t.Run("PUT", func(t *testing.T) {
		url, err := backend.SignedPutURL(context.Background(), "pdfs", "module/module_1/b.pdf", 15*time.Minute)
		if err != nil {
			t.Fatalf("SignedPutURL failed: %v", err)
		}
		if !strings.Contains(url, "X-Amz-Expires=900") {
			t.Errorf("URL does not carry the 15m expiry: %s", url)
		}
	})
}
