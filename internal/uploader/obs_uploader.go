// internal/uploader/obs_uploader.go
package uploader

import (
	"context"
	"errors"
	"fmt"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/logger"
)

// ObsUploader 结构体封装了 OBS 客户端和配置
type ObsUploader struct {
	client *obs.ObsClient
	bucket string
	log    zerolog.Logger
}

// NewObsUploader 根据官方文档创建一个新的 OBS 上传器实例
func NewObsUploader(endpoint, ak, sk, bucket string) (*ObsUploader, error) {
	if bucket == "" {
		return nil, errors.New("OBS 桶名不能为空")
	}
	client, err := obs.New(ak, sk, endpoint)
	if err != nil {
		return nil, fmt.Errorf("无法创建 OBS 客户端: %w", err)
	}

	return &ObsUploader{
		client: client,
		bucket: bucket,
		log:    logger.Get("uploader"),
	}, nil
}

// Upload 将指定路径的本地文件上传到 OBS。
// SDK 的调用不接受 ctx，只在开始前检查一次是否已取消。
func (u *ObsUploader) Upload(ctx context.Context, objectKey, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	input := &obs.PutFileInput{}
	input.Bucket = u.bucket
	input.Key = objectKey
	input.SourceFile = filePath

	output, err := u.client.PutFile(input)
	if err != nil {
		// 尝试解析 OBS 返回的详细错误信息
		var obsError obs.ObsError
		if errors.As(err, &obsError) {
			return fmt.Errorf("上传失败，OBS错误码: %s, 错误信息: %s", obsError.Code, obsError.Message)
		}
		return fmt.Errorf("上传文件到 OBS 失败: %w", err)
	}

	u.log.Info().Str("file", filePath).Str("bucket", u.bucket).Str("key", objectKey).Str("etag", output.ETag).Msg("文件已上传到 OBS")
	return nil
}

// Close 关闭客户端连接
func (u *ObsUploader) Close() error {
	if u.client != nil {
		u.client.Close()
	}
	return nil
}
