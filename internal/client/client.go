// internal/client/client.go
package client

import (
	"net"
	"net/http"
	"time"
)

// Options 控制下载用 http.Client 的传输层参数。
type Options struct {
	MaxIdleConnsPerHost int

	// 等待响应头的最长时间。为 0 时不限制。
	// 响应体的读取不设超时，单个文件下载可以持续任意时长。
	ResponseHeaderTimeout time.Duration
}

// DefaultOptions 返回默认的传输层参数。
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   32,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}

// New 创建一个为断点续传下载配置的 http.Client。
// 不设置 Client.Timeout，否则大文件会在传输中途被强制中断。
func New(opts Options) *http.Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		// 字节数必须与服务器上的原始实体一致，Range 偏移才有意义
		DisableCompression: true,
	}
	return &http.Client{Transport: transport}
}
