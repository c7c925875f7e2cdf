// Package storage はオブジェクトストレージへの署名付きURL発行を提供する。
// マニフェスト応答は生のパスではなく期限付きの署名URLを返し、
// バイナリ転送自体はクライアントがストレージと直接行う。
package storage

import (
	"context"
	"time"
)

// ObjectStorage はオブジェクトストレージ操作を抽象化するインターフェース。
// マニフェストサービスのテストではフェイク実装に差し替える。
type ObjectStorage interface {
	// SignedGetURL はオブジェクト取得用の期限付き署名URLを発行する。
	SignedGetURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)

	// SignedPutURL はオブジェクトアップロード用の期限付き署名URLを発行する。
	SignedPutURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
