// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Slade66/fetchd/internal/downloader"
	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/internal/metrics"
	"github.com/Slade66/fetchd/internal/observer"
	"github.com/Slade66/fetchd/internal/store"
	"github.com/Slade66/fetchd/internal/validation"
	"github.com/Slade66/fetchd/pkg/task"
)

var (
	ErrNotFound = errors.New("任务不存在")
	ErrClosed   = errors.New("任务管理器已关闭")
)

// Fetcher 把单个 URL 下载到单个文件，*downloader.Downloader 实现了它。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string, offset int64, obs observer.Observer) (downloader.Result, error)
}

// Archiver 在任务完成后接收下载好的文件。
type Archiver interface {
	Upload(ctx context.Context, key, path string) error
}

// Options 配置任务管理器。
type Options struct {
	// 下载文件的根目录，每个任务占用其中一个以任务 ID 命名的子目录。
	DownloadDir string

	// 持久化失败后再次尝试的间隔。
	PersistRetryInterval time.Duration

	// 为 nil 时使用不拦截内网地址的默认校验器。
	Validator *validation.Validator

	// 可选，为 nil 时不归档。
	Archiver Archiver
}

// entry 是任务表中的一项。
type entry struct {
	// mu 保护 task 和 running
	mu      sync.Mutex
	task    *task.DownloadTask
	running bool

	// persistMu 让同一任务的持久化串行执行，后写入的快照总是更新的
	persistMu sync.Mutex
}

func (e *entry) snapshot() *task.DownloadTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone()
}

// Manager 负责任务的整个生命周期：创建、并发下载、汇总状态和重启后的恢复。
type Manager struct {
	store        store.Store
	fetcher      Fetcher
	validator    *validation.Validator
	archiver     Archiver
	dir          string
	persistRetry time.Duration
	log          zerolog.Logger

	mu     sync.RWMutex
	tasks  map[string]*entry
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建一个新的任务管理器。调用方应在接受新任务前先调用 Restore。
func New(st store.Store, f Fetcher, opts Options) *Manager {
	if opts.Validator == nil {
		opts.Validator = validation.New(false)
	}
	if opts.PersistRetryInterval <= 0 {
		opts.PersistRetryInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:        st,
		fetcher:      f,
		validator:    opts.Validator,
		archiver:     opts.Archiver,
		dir:          opts.DownloadDir,
		persistRetry: opts.PersistRetryInterval,
		log:          logger.Get("manager"),
		tasks:        make(map[string]*entry),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// CreateTask 校验 URL、持久化一个新任务并开始下载，返回任务 ID。
// 校验失败返回 *validation.Error，此时不会写入任何记录；
// 首次持久化失败返回 *store.PersistenceError，任务同样不会被创建。
func (m *Manager) CreateTask(ctx context.Context, urls []string) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	if err := m.validator.URLs(urls); err != nil {
		return "", err
	}

	t := task.New(urls)
	if err := m.store.Persist(ctx, t); err != nil {
		metrics.PersistFailures.Inc()
		return "", err
	}

	e := &entry{task: t}
	m.mu.Lock()
	m.tasks[t.ID] = e
	m.mu.Unlock()

	metrics.TasksCreated.Inc()
	m.log.Info().Str("task_id", t.ID).Int("files", len(urls)).Msg("✅ 任务已创建")
	m.start(e)
	return t.ID, nil
}

// GetTask 返回任务的快照。
func (m *Manager) GetTask(id string) (*task.DownloadTask, error) {
	m.mu.RLock()
	e, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e.snapshot(), nil
}

// ListTasks 返回所有任务的快照，最新创建的排在前面。
func (m *Manager) ListTasks() []*task.DownloadTask {
	m.mu.RLock()
	list := make([]*task.DownloadTask, 0, len(m.tasks))
	for _, e := range m.tasks {
		list = append(list, e.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Close 停止所有正在进行的下载并等待它们退出。
// 已做过检查点的进度保留在存储中，下次启动时会被恢复。
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// start 为任务启动一个后台协程，同一任务同一时间只会有一个。
func (m *Manager) start(e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
		}()
		m.run(e)
	}()
}

// filePath 返回任务中第 index 个文件的本地路径，只由任务 ID、序号和 URL 决定。
func (m *Manager) filePath(taskID string, index int, rawURL string) string {
	return filepath.Join(m.dir, taskID, task.FileName(index, rawURL))
}

// diskSize 返回文件当前的大小，文件不存在时为 0。
func diskSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
