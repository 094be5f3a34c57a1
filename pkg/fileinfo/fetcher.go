package fileinfo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// Info 包含了文件的元信息
type Info struct {
	// 服务器声明的大小，未知时为 0
	Size          int64
	AcceptsRanges bool
}

// Get 发送 HEAD 请求以获取远程文件的信息。
// 服务器没有返回 Content-Length 时不视为错误，Size 为 0。
func Get(ctx context.Context, client *http.Client, url string) (*Info, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("无法创建请求: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("无法获取文件信息: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("无法获取文件信息: 服务器返回 %s", resp.Status)
	}

	info := &Info{AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes"}
	if contentLengthStr := resp.Header.Get("Content-Length"); contentLengthStr != "" {
		size, err := strconv.ParseInt(contentLengthStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("无效的文件大小: %w", err)
		}
		info.Size = size
	}
	return info, nil
}
