package task

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status 表示任务的整体状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal 报告状态是否为终态。终态任务不再发生任何变化。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileProgress 是任务中单个 URL 的下载进度，与 Task.URLs 按下标一一对应。
type FileProgress struct {
	URL string `json:"url"`

	// 已经写入本地文件并完成检查点的字节数。
	BytesRead int64 `json:"bytes_read"`

	// 仅当文件完整下载并通过长度校验后为 true。
	Success bool `json:"success"`

	// 不可恢复的失败原因，只在该文件终止失败时设置。
	Error string `json:"error,omitempty"`

	// 服务器声明的文件总大小，未知时为 0。
	TotalSize int64 `json:"total_size,omitempty"`
}

// Done 报告该文件是否已到达终态（成功或失败）。
func (p FileProgress) Done() bool {
	return p.Success || p.Error != ""
}

// DownloadTask 定义了一次批量下载任务。
// 它既是内存中的任务表项，也是持久化记录的完整投影。
type DownloadTask struct {
	// 任务的唯一标识符，创建时生成，之后不可变。
	ID string `json:"id"`

	// 按提交顺序排列的源 URL，下标即文件序号。
	URLs []string `json:"urls"`

	Status Status `json:"status"`

	// 与 URLs 下标对齐的进度列表。
	Results []FileProgress `json:"results"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New 根据 URL 列表创建一个处于 pending 状态的任务。
func New(urls []string) *DownloadTask {
	now := time.Now().UTC()
	t := &DownloadTask{
		ID:        uuid.NewString(),
		URLs:      append([]string(nil), urls...),
		Status:    StatusPending,
		Results:   make([]FileProgress, len(urls)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, u := range urls {
		t.Results[i] = FileProgress{URL: u}
	}
	return t
}

// Clone 返回任务的深拷贝，调用方可以自由修改而不影响原任务。
func (t *DownloadTask) Clone() *DownloadTask {
	c := *t
	c.URLs = append([]string(nil), t.URLs...)
	c.Results = append([]FileProgress(nil), t.Results...)
	return &c
}

// Validate 检查记录自身的一致性，用于加载持久化记录时过滤损坏的数据。
func (t *DownloadTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("任务缺少 id")
	}
	if len(t.Results) != len(t.URLs) {
		return fmt.Errorf("任务 %s 的 results 数量 (%d) 与 urls 数量 (%d) 不一致", t.ID, len(t.Results), len(t.URLs))
	}
	switch t.Status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("任务 %s 的状态未知: %q", t.ID, t.Status)
	}
	return nil
}

// maxBaseLen 是文件名中取自 URL 的部分的最大字节数，加上序号前缀后仍低于常见文件系统 255 字节的限制。
const maxBaseLen = 200

// FileName 返回第 index 个文件在任务目录中的文件名。
// 名称只由序号和 URL 决定，重启后可以据此重新找到部分下载的文件。
// 过长的名称会被截断到 maxBaseLen 字节，尽量保留扩展名。
func FileName(index int, rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		return fmt.Sprintf("%d", index)
	}
	base = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, base)
	return fmt.Sprintf("%d_%s", index, truncateBase(base))
}

func truncateBase(base string) string {
	if len(base) <= maxBaseLen {
		return base
	}
	ext := path.Ext(base)
	if len(ext) > 16 {
		ext = ""
	}
	cut := maxBaseLen - len(ext)
	// 不能把多字节字符切成两半
	for cut > 0 && !utf8.RuneStart(base[cut]) {
		cut--
	}
	return base[:cut] + ext
}
