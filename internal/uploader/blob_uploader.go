// internal/uploader/blob_uploader.go
package uploader

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/Slade66/fetchd/internal/logger"
)

// BlobUploader 通过 gocloud.dev/blob 上传文件，支持任何已注册驱动的桶 URL，
// 例如 file:///var/archive 或 mem://。驱动需要由调用方以空白导入的方式注册。
type BlobUploader struct {
	bucket *blob.Bucket
	log    zerolog.Logger
}

// NewBlobUploader 打开 bucketURL 指向的桶。
func NewBlobUploader(ctx context.Context, bucketURL string) (*BlobUploader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("无法打开存储桶 %s: %w", bucketURL, err)
	}
	return NewBlobUploaderFromBucket(bucket), nil
}

// NewBlobUploaderFromBucket 包装一个已经打开的桶，Close 时会一并关闭它。
func NewBlobUploaderFromBucket(bucket *blob.Bucket) *BlobUploader {
	return &BlobUploader{bucket: bucket, log: logger.Get("uploader")}
}

// Upload 实现 Uploader 接口
func (u *BlobUploader) Upload(ctx context.Context, objectKey, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("无法打开待上传的文件: %w", err)
	}
	defer f.Close()

	// 写入被取消时 blob.Writer 会丢弃已写的内容，桶里不会留下半个对象
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := u.bucket.NewWriter(ctx, objectKey, nil)
	if err != nil {
		return fmt.Errorf("无法创建对象 %s: %w", objectKey, err)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("上传 %s 失败: %w", objectKey, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("提交对象 %s 失败: %w", objectKey, err)
	}

	u.log.Info().Str("file", filePath).Str("key", objectKey).Int64("bytes", n).Msg("文件已归档")
	return nil
}

// Close 关闭存储桶
func (u *BlobUploader) Close() error {
	return u.bucket.Close()
}
