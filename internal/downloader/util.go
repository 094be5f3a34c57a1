// internal/downloader/util.go
package downloader

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/internal/observer"
)

var errObserver = errors.New("检查点被观察者拒绝")

// localWriteError 包装本地文件的写入或同步错误。
type localWriteError struct {
	err error
}

func (e *localWriteError) Error() string { return e.err.Error() }
func (e *localWriteError) Unwrap() error { return e.err }

// checkpointWriter 包装目标文件，跟踪已写入的字节数，
// 每隔 everyBytes 字节或 every 时间先 fsync 再通知观察者。
type checkpointWriter struct {
	file        *os.File
	written     int64
	checkpoints int64
	lastAt      time.Time
	everyBytes  int64
	every       time.Duration
	obs         observer.Observer
	observerErr error
}

func newCheckpointWriter(file *os.File, offset, everyBytes int64, every time.Duration, obs observer.Observer) *checkpointWriter {
	return &checkpointWriter{
		file:        file,
		written:     offset,
		checkpoints: offset,
		lastAt:      time.Now(),
		everyBytes:  everyBytes,
		every:       every,
		obs:         obs,
	}
}

// Write 实现 io.Writer 接口
func (w *checkpointWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.written += int64(n)
	metrics.BytesDownloaded.Add(float64(n))
	if err != nil {
		return n, &localWriteError{err: fmt.Errorf("写入目标文件失败: %w", err)}
	}
	if w.written-w.checkpoints >= w.everyBytes || time.Since(w.lastAt) >= w.every {
		if err := w.checkpoint(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// checkpoint 把文件同步到磁盘后再上报累计字节数，
// 保证上报给观察者的数字从不超过磁盘上真实存在的数据。
func (w *checkpointWriter) checkpoint() error {
	if err := w.file.Sync(); err != nil {
		return &localWriteError{err: fmt.Errorf("无法同步目标文件: %w", err)}
	}
	if err := w.obs.Update(w.written); err != nil {
		w.observerErr = err
		return errObserver
	}
	w.checkpoints = w.written
	w.lastAt = time.Now()
	return nil
}

// failed 报告 err 是否来自本地写入或观察者，而不是网络。
func (w *checkpointWriter) failed(err error) bool {
	var local *localWriteError
	return errors.Is(err, errObserver) || errors.As(err, &local)
}

// translate 把内部错误转换成 Fetch 的对外错误。
func (w *checkpointWriter) translate(url string, err error) error {
	var local *localWriteError
	switch {
	case errors.As(err, &local):
		return &TerminalError{URL: url, Err: local.err}
	case errors.Is(err, errObserver):
		return w.observerErr
	default:
		return err
	}
}

// parseContentRange 解析 Content-Range 头。
// 格式为 "bytes start-end/total"、"bytes start-end/*" 或 "bytes */total"；
// 未知的部分返回 -1。
func parseContentRange(header string) (start, end, total int64, err error) {
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("无效的 Content-Range: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")
	rng, size, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("无效的 Content-Range: %q", header)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("无效的总大小: %w", err)
		}
	}

	if rng == "*" {
		return -1, -1, total, nil
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("无效的 Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("无效的起始字节: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("无效的结束字节: %w", err)
	}
	return start, end, total, nil
}
