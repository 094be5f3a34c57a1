// internal/downloader/downloader.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/internal/observer"
)

var (
	ErrUnsupportedScheme = errors.New("只支持 http 和 https 协议")
	ErrSizeMismatch      = errors.New("下载的字节数与服务器声明的大小不一致")
)

// TerminalError 表示无法通过重试恢复的下载失败。
type TerminalError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TerminalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("下载 %s 失败 (HTTP %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("下载 %s 失败: %v", e.URL, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// transientError 标记可以重试的失败，只在包内流转，不会返回给调用方。
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// Options 配置下载器的重试与检查点节奏。
type Options struct {
	// 连续失败（期间没有任何新字节落盘）的最大重试次数。
	RetryAttempts int
	// 第一次重试前的等待时间，之后按指数增长。
	RetryBackoff time.Duration
	// 单次等待的上限。
	RetryMaxBackoff time.Duration

	// 每写入这么多字节做一次检查点。
	CheckpointBytes int64
	// 距离上次检查点超过这个时间也会做一次检查点，慢速下载同样能及时落盘。
	CheckpointInterval time.Duration

	BufferSize int
}

// DefaultOptions 返回默认配置。
func DefaultOptions() Options {
	return Options{
		RetryAttempts:      5,
		RetryBackoff:       time.Second,
		RetryMaxBackoff:    30 * time.Second,
		CheckpointBytes:    1 << 20,
		CheckpointInterval: time.Second,
		BufferSize:         32 * 1024,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = def.RetryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = def.RetryBackoff
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if o.CheckpointBytes <= 0 {
		o.CheckpointBytes = def.CheckpointBytes
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = def.CheckpointInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	return o
}

// Result 描述一次 Fetch 结束时目标文件的状态。
type Result struct {
	// 目标文件中已落盘的字节数。
	BytesRead int64
	// 服务器声明的总大小，未知时为 0。
	TotalSize int64
	// 服务器不支持续传，下载从零重新开始过。
	Restarted bool
}

// Downloader 把单个 URL 下载到单个本地文件，支持从已知偏移续传。
// Downloader 本身无状态，可以被多个 goroutine 同时使用，
// 但同一个目标文件同一时间只能有一个 Fetch 在写。
type Downloader struct {
	client *http.Client
	opts   Options
	log    zerolog.Logger
}

// New 创建一个新的 Downloader 实例
func New(client *http.Client, opts Options) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		client: client,
		opts:   opts.withDefaults(),
		log:    logger.Get("downloader"),
	}
}

// fetchState 在多次尝试之间传递进度。
type fetchState struct {
	url       string
	dest      string
	pos       int64
	total     int64
	restarted bool
}

func (s *fetchState) result() Result {
	return Result{BytesRead: s.pos, TotalSize: s.total, Restarted: s.restarted}
}

// Fetch 把 rawURL 下载到 dest。offset 大于 0 时尝试用 Range 请求从该位置续传，
// 服务器不支持时截断文件并从零开始。每次检查点（文件已 fsync）之后用累计字节数通知 obs。
//
// 返回的错误分三类：*TerminalError 表示该文件彻底失败；ctx 被取消时返回 ctx.Err()；
// obs 返回的错误原样传出，此时已落盘的数据保持不变，调用方可以稍后续传。
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string, offset int64, obs observer.Observer) (Result, error) {
	if obs == nil {
		obs = observer.Nop
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, &TerminalError{URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, &TerminalError{URL: rawURL, Err: ErrUnsupportedScheme}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, &TerminalError{URL: rawURL, Err: fmt.Errorf("无法创建下载目录: %w", err)}
	}

	st := &fetchState{url: rawURL, dest: dest, pos: resumeOffset(dest, offset)}
	log := d.log.With().Str("url", rawURL).Str("dest", dest).Logger()
	if st.pos > 0 {
		log.Debug().Int64("offset", st.pos).Msg("从断点继续下载")
	}

	failures := 0
	for {
		before := st.pos
		err := d.attempt(ctx, st, obs)
		if err == nil {
			return st.result(), nil
		}
		if ctx.Err() != nil {
			return st.result(), ctx.Err()
		}
		var te *transientError
		if !errors.As(err, &te) {
			return st.result(), err
		}

		if st.pos > before {
			failures = 0
		}
		failures++
		if failures > d.opts.RetryAttempts {
			return st.result(), &TerminalError{URL: rawURL, Err: fmt.Errorf("重试 %d 次后仍然失败: %w", d.opts.RetryAttempts, te.err)}
		}
		metrics.FetchRetries.Inc()
		log.Warn().Err(err).Int("attempt", failures).Int64("offset", st.pos).Msg("下载中断，稍后重试")
		if err := d.backoff(ctx, failures); err != nil {
			return st.result(), err
		}
	}
}

// resumeOffset 以磁盘上实际存在的字节数校正调用方给出的偏移。
func resumeOffset(dest string, offset int64) int64 {
	if offset <= 0 {
		return 0
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0
	}
	if info.Size() < offset {
		return info.Size()
	}
	return offset
}

// backoff 以带抖动的指数间隔等待。
func (d *Downloader) backoff(ctx context.Context, attempt int) error {
	wait := d.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if wait > d.opts.RetryMaxBackoff || wait <= 0 {
		wait = d.opts.RetryMaxBackoff
	}
	wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
