// internal/observer/progress_bar.go
package observer

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBarObserver 是一个具体的观察者，用于显示终端进度条
type ProgressBarObserver struct {
	out      io.Writer
	total    int64
	current  int64
	barWidth int
	mu       sync.Mutex
}

// NewProgressBarObserver 创建一个新的进度条观察者。totalSize 未知时传 0。
func NewProgressBarObserver(out io.Writer, totalSize int64) *ProgressBarObserver {
	return &ProgressBarObserver{
		out:      out,
		total:    totalSize,
		barWidth: 50,
	}
}

// SetTotal 在下载过程中得知文件总大小后更新进度条的分母。
func (p *ProgressBarObserver) SetTotal(total int64) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
}

// Update 实现了 Observer 接口
func (p *ProgressBarObserver) Update(bytesRead int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = bytesRead
	p.print()
	return nil
}

// Finish 在进度条后输出换行。
func (p *ProgressBarObserver) Finish() {
	fmt.Fprintln(p.out)
}

// print 在终端上绘制进度条，调用方必须持有锁
func (p *ProgressBarObserver) print() {
	if p.total <= 0 {
		fmt.Fprintf(p.out, "\r已下载 %.2f MB", float64(p.current)/1024/1024)
		return
	}
	percent := float64(p.current) / float64(p.total)
	if percent > 1 {
		percent = 1
	}
	filledWidth := int(percent * float64(p.barWidth))
	bar := strings.Repeat("=", filledWidth) + strings.Repeat(" ", p.barWidth-filledWidth)
	fmt.Fprintf(p.out, "\r[%s] %.2f%% (%.2f/%.2f MB)",
		bar,
		percent*100,
		float64(p.current)/1024/1024,
		float64(p.total)/1024/1024,
	)
}
