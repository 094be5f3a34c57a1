// internal/store/store.go
package store

import (
	"context"
	"fmt"

	"github.com/Slade66/fetchd/pkg/task"
)

// Store 持久化任务快照，是进程重启后唯一可信的状态来源。
type Store interface {
	// Persist 原子地写入任务的完整快照。返回 nil 之后即使进程崩溃，快照也不会丢失；
	// 写入过程中崩溃不会留下损坏或只写了一半的记录。
	Persist(ctx context.Context, t *task.DownloadTask) error

	// LoadAll 返回所有已持久化的任务，顺序不保证。
	LoadAll(ctx context.Context) ([]*task.DownloadTask, error)

	Close() error
}

// PersistenceError 表示任务快照未能写入存储。
type PersistenceError struct {
	TaskID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("无法持久化任务 %s: %v", e.TaskID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
