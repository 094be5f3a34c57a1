// internal/manager/restore.go
package manager

import (
	"context"
	"fmt"

	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/pkg/task"
)

// Restore 从存储加载所有任务记录，重建任务表，并继续所有未结束的任务。
// 应在进程启动时、接受新任务之前调用一次。
func (m *Manager) Restore(ctx context.Context) error {
	tasks, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("加载任务记录失败: %w", err)
	}

	var resume []*entry
	m.mu.Lock()
	for _, t := range tasks {
		if _, ok := m.tasks[t.ID]; ok {
			continue
		}
		e := &entry{task: t}
		m.tasks[t.ID] = e
		if !t.Status.Terminal() {
			m.reconcile(t)
			resume = append(resume, e)
		}
	}
	m.mu.Unlock()

	for _, e := range resume {
		metrics.TasksRecovered.Inc()
		m.log.Info().Str("task_id", e.task.ID).Msg("🔄 恢复未完成的任务")
		m.start(e)
	}
	m.log.Info().Int("tasks", len(tasks)).Int("resumed", len(resume)).Msg("任务记录加载完成")
	return nil
}

// reconcile 用磁盘上部分文件的实际大小校正记录中的字节数。
// 两者不一致时以磁盘为准，它反映的才是真正写下的数据。
func (m *Manager) reconcile(t *task.DownloadTask) {
	for i := range t.Results {
		p := &t.Results[i]
		if p.Done() {
			continue
		}
		size := diskSize(m.filePath(t.ID, i, t.URLs[i]))
		if size != p.BytesRead {
			m.log.Debug().Str("task_id", t.ID).Int("index", i).
				Int64("recorded", p.BytesRead).Int64("on_disk", size).
				Msg("记录的进度与磁盘不一致，以磁盘为准")
			p.BytesRead = size
		}
	}
}
