// internal/store/file.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/pkg/task"
)

const recordExt = ".json"

// FileStore 在目录中为每个任务保存一个 JSON 记录，文件名为 <id>.json。
// 写入先落到同目录的临时文件，fsync 后再 rename 覆盖，保证替换是原子的。
type FileStore struct {
	dir string
	log zerolog.Logger
}

// NewFileStore 创建一个基于目录的存储，目录不存在时自动创建。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建任务记录目录: %w", err)
	}
	return &FileStore{dir: dir, log: logger.Get("store")}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// Persist 实现 Store 接口
func (s *FileStore) Persist(ctx context.Context, t *task.DownloadTask) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{TaskID: t.ID, Err: err}
	}
	if err := s.writeAtomic(t); err != nil {
		return &PersistenceError{TaskID: t.ID, Err: err}
	}
	return nil
}

func (s *FileStore) writeAtomic(t *task.DownloadTask) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, t.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path(t.ID)); err != nil {
		return fmt.Errorf("替换任务记录失败: %w", err)
	}
	committed = true
	return syncDir(s.dir)
}

// syncDir 让 rename 本身也落盘。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("打开记录目录失败: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("同步记录目录失败: %w", err)
	}
	return nil
}

// LoadAll 实现 Store 接口。
// 崩溃遗留的临时文件会被清理；无法解析的记录被跳过并记录警告。
func (s *FileStore) LoadAll(ctx context.Context) ([]*task.DownloadTask, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取任务记录目录失败: %w", err)
	}

	var tasks []*task.DownloadTask
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			s.log.Debug().Str("file", name).Msg("清理遗留的临时文件")
			os.Remove(filepath.Join(s.dir, name))
			continue
		}
		if filepath.Ext(name) != recordExt {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("读取任务记录 %s 失败: %w", name, err)
		}
		var t task.DownloadTask
		if err := json.Unmarshal(data, &t); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("跳过无法解析的任务记录")
			continue
		}
		if err := t.Validate(); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("跳过不一致的任务记录")
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// Close 实现 Store 接口
func (s *FileStore) Close() error { return nil }
