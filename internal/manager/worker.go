// internal/manager/worker.go
package manager

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Slade66/fetchd/internal/downloader"
	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/internal/observer"
	"github.com/Slade66/fetchd/pkg/task"
)

// run 驱动一个任务直到终态，或者直到管理器关闭。
func (m *Manager) run(e *entry) {
	ctx := m.ctx
	t := e.snapshot()
	log := m.log.With().Str("task_id", t.ID).Logger()

	if t.Status.Terminal() {
		return
	}
	if t.Status == task.StatusPending {
		if err := m.commit(ctx, e, func(t *task.DownloadTask) { t.Status = task.StatusRunning }); err != nil {
			return
		}
		log.Info().Msg("🚀 任务开始下载")
	}

	// 任何一个文件彻底失败都会取消同一任务中的其他下载，它们已落盘的进度保留
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range t.Results {
		if p.Done() {
			continue
		}
		g.Go(func() error { return m.runFile(gctx, e, i) })
	}
	groupErr := g.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("管理器已关闭，任务将在下次启动时继续")
		return
	}

	status := task.StatusCompleted
	for _, p := range e.snapshot().Results {
		if !p.Success {
			status = task.StatusFailed
			break
		}
	}
	if err := m.commit(ctx, e, func(t *task.DownloadTask) { t.Status = status }); err != nil {
		return
	}

	if status == task.StatusFailed {
		metrics.TasksFailed.Inc()
		log.Error().Err(groupErr).Msg("❌ 任务失败")
		return
	}
	metrics.TasksCompleted.Inc()
	log.Info().Msg("🎉 任务完成")
	if m.archiver != nil {
		m.archive(ctx, e.snapshot())
	}
}

// runFile 下载任务中的第 index 个文件。
// 返回 nil 表示成功，*downloader.TerminalError 表示该文件失败，其他错误来自 ctx。
func (m *Manager) runFile(ctx context.Context, e *entry, index int) error {
	e.mu.Lock()
	taskID, rawURL := e.task.ID, e.task.URLs[index]
	e.mu.Unlock()

	dest := m.filePath(taskID, index, rawURL)
	log := m.log.With().Str("task_id", taskID).Int("index", index).Str("url", rawURL).Logger()
	obs := observer.Func(func(n int64) error {
		return m.checkpoint(ctx, e, index, n)
	})

	for {
		// 磁盘上的文件大小才是真正落盘的进度
		offset := diskSize(dest)
		metrics.ActiveFetches.Inc()
		res, err := m.fetcher.Fetch(ctx, rawURL, dest, offset, obs)
		metrics.ActiveFetches.Dec()

		if err == nil {
			err := m.commit(m.ctx, e, func(t *task.DownloadTask) {
				p := &t.Results[index]
				p.BytesRead = res.BytesRead
				p.TotalSize = res.TotalSize
				p.Success = true
				p.Error = ""
			})
			if err != nil {
				return err
			}
			metrics.FilesSucceeded.Inc()
			log.Info().Int64("bytes", res.BytesRead).Msg("✅ 文件下载完成")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var te *downloader.TerminalError
		if errors.As(err, &te) {
			// 用管理器的 ctx 记录失败，兄弟文件的取消不能阻止它落盘
			_ = m.commit(m.ctx, e, func(t *task.DownloadTask) {
				p := &t.Results[index]
				p.Error = te.Error()
				if res.TotalSize > 0 {
					p.TotalSize = res.TotalSize
				}
			})
			metrics.FilesFailed.Inc()
			log.Error().Err(err).Msg("❌ 文件下载失败")
			return te
		}

		// 检查点无法持久化：暂停该文件，等存储恢复后从磁盘上的位置续传
		log.Warn().Err(err).Dur("retry_in", m.persistRetry).Msg("⚠️ 进度无法持久化，暂停下载")
		if err := sleep(ctx, m.persistRetry); err != nil {
			return err
		}
	}
}

// checkpoint 记录第 index 个文件的累计字节数并持久化整个任务。
func (m *Manager) checkpoint(ctx context.Context, e *entry, index int, n int64) error {
	e.mu.Lock()
	e.task.Results[index].BytesRead = n
	e.task.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	return m.persist(ctx, e)
}

func (m *Manager) persist(ctx context.Context, e *entry) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if err := m.store.Persist(ctx, e.snapshot()); err != nil {
		metrics.PersistFailures.Inc()
		return err
	}
	return nil
}

// commit 先把 mutate 之后的快照写入存储，成功后才应用到内存中的任务。
// 存储不可用时按 persistRetry 间隔重试，直到成功或 ctx 结束。
func (m *Manager) commit(ctx context.Context, e *entry, mutate func(*task.DownloadTask)) error {
	for {
		err := m.tryCommit(ctx, e, mutate)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn().Err(err).Dur("retry_in", m.persistRetry).Msg("⚠️ 任务状态无法持久化，稍后重试")
		if err := sleep(ctx, m.persistRetry); err != nil {
			return err
		}
	}
}

func (m *Manager) tryCommit(ctx context.Context, e *entry, mutate func(*task.DownloadTask)) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	now := time.Now().UTC()
	next := e.snapshot()
	mutate(next)
	next.UpdatedAt = now
	if err := m.store.Persist(ctx, next); err != nil {
		metrics.PersistFailures.Inc()
		return err
	}

	e.mu.Lock()
	mutate(e.task)
	e.task.UpdatedAt = now
	e.mu.Unlock()
	return nil
}

// archive 把已完成任务的文件上传到归档存储。上传失败只记录日志，不影响任务状态。
func (m *Manager) archive(ctx context.Context, t *task.DownloadTask) {
	for i, u := range t.URLs {
		name := task.FileName(i, u)
		key := t.ID + "/" + name
		log := m.log.With().Str("task_id", t.ID).Str("key", key).Logger()

		if err := m.archiver.Upload(ctx, key, m.filePath(t.ID, i, u)); err != nil {
			metrics.ArchiveUploads.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("❌ 归档上传失败")
			continue
		}
		metrics.ArchiveUploads.WithLabelValues("ok").Inc()
		log.Debug().Msg("文件已归档")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
