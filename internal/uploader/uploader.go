// internal/uploader/uploader.go
package uploader

import "context"

// Uploader 把本地文件上传到对象存储，objectKey 是文件在桶中的路径。
type Uploader interface {
	Upload(ctx context.Context, objectKey, filePath string) error
	Close() error
}
