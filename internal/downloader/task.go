// internal/downloader/task.go
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/internal/observer"
)

// attempt 发起一次 HTTP 请求并把响应写入目标文件。
// 根据服务器的第一个响应选择分支：206 且起点吻合时追加写入，
// 否则截断文件从零开始。
func (d *Downloader) attempt(ctx context.Context, st *fetchState, obs observer.Observer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.url, nil)
	if err != nil {
		return &TerminalError{URL: st.url, Err: fmt.Errorf("无法创建请求: %w", err)}
	}
	if st.pos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", st.pos))
	}

	metrics.FetchAttempts.Inc()
	resp, err := d.client.Do(req)
	if err != nil {
		return transient("请求失败: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil && st.pos > 0 {
			return d.restartFromZero(ctx, st, obs, "Content-Range 无法解析")
		}
		if err == nil && start != st.pos {
			return d.restartFromZero(ctx, st, obs, fmt.Sprintf("服务器返回的起点 %d 与请求的 %d 不一致", start, st.pos))
		}
		if total > 0 {
			st.total = total
		}

	case resp.StatusCode == http.StatusOK:
		if st.pos > 0 {
			d.log.Warn().Str("url", st.url).Int64("offset", st.pos).Msg("⚠️ 服务器不支持断点续传，从头开始下载")
			metrics.FetchRestarts.Inc()
			st.pos = 0
			st.restarted = true
		}
		if resp.ContentLength >= 0 {
			st.total = resp.ContentLength
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && st.pos > 0:
		_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && total == st.pos {
			// 上次已经写满，只是没来得及记录成功
			st.total = total
			return nil
		}
		return d.restartFromZero(ctx, st, obs, "服务器拒绝了续传范围")

	case retryableStatus(resp.StatusCode):
		return transient("服务器返回了可重试的状态码: %s", resp.Status)

	default:
		return &TerminalError{URL: st.url, StatusCode: resp.StatusCode, Err: fmt.Errorf("服务器返回了非预期的状态码: %s", resp.Status)}
	}

	return d.write(st, resp.Body, obs)
}

// restartFromZero 放弃当前响应，用不带 Range 的请求重新下载整个文件。
func (d *Downloader) restartFromZero(ctx context.Context, st *fetchState, obs observer.Observer, reason string) error {
	if st.pos == 0 {
		return &TerminalError{URL: st.url, Err: fmt.Errorf("服务器响应无效: %s", reason)}
	}
	d.log.Warn().Str("url", st.url).Int64("offset", st.pos).Str("reason", reason).Msg("⚠️ 无法续传，从头开始下载")
	metrics.FetchRestarts.Inc()
	st.pos = 0
	st.restarted = true
	return d.attempt(ctx, st, obs)
}

// write 把 body 写到 st.pos 处，并按配置的节奏做检查点。
func (d *Downloader) write(st *fetchState, body io.Reader, obs observer.Observer) error {
	file, err := os.OpenFile(st.dest, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &TerminalError{URL: st.url, Err: fmt.Errorf("无法打开目标文件: %w", err)}
	}
	defer file.Close()

	// 文件可能比检查点更长（上次写入后未来得及记录），多出的部分一律丢弃
	if err := file.Truncate(st.pos); err != nil {
		return &TerminalError{URL: st.url, Err: fmt.Errorf("无法截断目标文件: %w", err)}
	}
	if _, err := file.Seek(st.pos, io.SeekStart); err != nil {
		return &TerminalError{URL: st.url, Err: fmt.Errorf("无法定位目标文件: %w", err)}
	}

	cw := newCheckpointWriter(file, st.pos, d.opts.CheckpointBytes, d.opts.CheckpointInterval, obs)
	if st.restarted && st.pos == 0 {
		// 先把截断后的状态记录下来，避免调用方继续持有过期的字节数
		if err := cw.checkpoint(); err != nil {
			return cw.translate(st.url, err)
		}
	}

	buf := make([]byte, d.opts.BufferSize)
	_, copyErr := io.CopyBuffer(cw, body, buf)
	st.pos = cw.written

	if copyErr != nil && !cw.failed(copyErr) {
		// 网络中断：先把已写入的部分落盘，再交给重试逻辑从新的位置续传
		if err := cw.checkpoint(); err != nil {
			return cw.translate(st.url, err)
		}
		return transient("读取响应失败: %w", copyErr)
	}
	if copyErr != nil {
		return cw.translate(st.url, copyErr)
	}
	if err := cw.checkpoint(); err != nil {
		return cw.translate(st.url, err)
	}

	if st.total > 0 && st.pos != st.total {
		if st.pos < st.total {
			return transient("响应提前结束: 已写入 %d 字节，预期 %d 字节", st.pos, st.total)
		}
		return &TerminalError{URL: st.url, Err: fmt.Errorf("%w: 已写入 %d 字节，预期 %d 字节", ErrSizeMismatch, st.pos, st.total)}
	}
	return nil
}

// retryableStatus 报告状态码是否代表暂时性故障。
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
