package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/fetchd/internal/client"
	"github.com/Slade66/fetchd/internal/downloader"
	"github.com/Slade66/fetchd/internal/manager"
	"github.com/Slade66/fetchd/internal/store"
	"github.com/Slade66/fetchd/internal/testutils"
	"github.com/Slade66/fetchd/internal/validation"
	"github.com/Slade66/fetchd/pkg/task"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService 按预设返回结果，并记录收到的 URL。
type fakeService struct {
	mu        sync.Mutex
	tasks     map[string]*task.DownloadTask
	createErr error
	received  [][]string
}

func newFakeService() *fakeService {
	return &fakeService{tasks: make(map[string]*task.DownloadTask)}
}

func (f *fakeService) CreateTask(_ context.Context, urls []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, urls)
	if f.createErr != nil {
		return "", f.createErr
	}
	t := task.New(urls)
	t.Status = task.StatusRunning
	f.tasks[t.ID] = t
	return t.ID, nil
}

func (f *fakeService) GetTask(id string) (*task.DownloadTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, manager.ErrNotFound
	}
	return t.Clone(), nil
}

func (f *fakeService) ListTasks() []*task.DownloadTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*task.DownloadTask
	for _, t := range f.tasks {
		list = append(list, t.Clone())
	}
	return list
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateTask(t *testing.T) {
	svc := newFakeService()
	router := NewRouter(svc)

	rec := do(t, router, http.MethodPost, "/tasks", `{"urls": ["https://example.org/a.bin", "https://example.org/b.bin"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, [][]string{{"https://example.org/a.bin", "https://example.org/b.bin"}}, svc.received)
}

func TestCreateTaskErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &validation.Error{URL: "ftp://example.com/file.txt", Reason: "不支持的协议"}, http.StatusBadRequest},
		{"persistence", &store.PersistenceError{TaskID: "x", Err: errors.New("磁盘已满")}, http.StatusServiceUnavailable},
		{"closed", manager.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.createErr = tt.err

			rec := do(t, NewRouter(svc), http.MethodPost, "/tasks", `{"urls": ["https://example.org/a.bin"]}`)

			assert.Equal(t, tt.code, rec.Code)
			body := decode[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "boom")
		})
	}
}

func TestCreateTaskMalformedBody(t *testing.T) {
	svc := newFakeService()

	rec := do(t, NewRouter(svc), http.MethodPost, "/tasks", `{"urls": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.received)
}

// taskBody 只保留客户端依赖的字段，results 按原始 JSON 检查。
type taskBody struct {
	ID      string           `json:"id"`
	Status  string           `json:"status"`
	Results []map[string]any `json:"results"`
}

func TestGetTask(t *testing.T) {
	svc := newFakeService()
	router := NewRouter(svc)
	id, err := svc.CreateTask(context.Background(), []string{"https://example.org/a.bin"})
	require.NoError(t, err)
	svc.tasks[id].Results[0].BytesRead = 42

	rec := do(t, router, http.MethodGet, "/tasks/"+id, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[taskBody](t, rec)
	assert.Equal(t, id, body.ID)
	assert.Equal(t, "running", body.Status)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "https://example.org/a.bin", body.Results[0]["url"])
	assert.EqualValues(t, 42, body.Results[0]["bytes_read"])
	assert.Equal(t, false, body.Results[0]["success"])
	assert.NotContains(t, body.Results[0], "error")
}

func TestGetTaskNotFound(t *testing.T) {
	rec := do(t, NewRouter(newFakeService()), http.MethodGet, "/tasks/unknown", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	svc := newFakeService()
	_, err := svc.CreateTask(context.Background(), []string{"https://example.org/a.bin"})
	require.NoError(t, err)

	rec := do(t, NewRouter(svc), http.MethodGet, "/tasks", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestHealthAndMetrics(t *testing.T) {
	router := NewRouter(newFakeService())

	rec := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetchd_tasks_created_total")
}

// 通过真实的 Manager 走一遍创建、轮询、完成的流程。
func TestTaskLifecycleThroughAPI(t *testing.T) {
	a, b := testutils.GenerateData(30000), testutils.GenerateData(5000)
	srv := testutils.NewServer(t, map[string]testutils.File{
		"a.bin": {Data: a},
		"b.bin": {Data: b},
	})
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "tasks"))
	require.NoError(t, err)
	d := downloader.New(client.New(client.DefaultOptions()), downloader.Options{
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})
	m := manager.New(st, d, manager.Options{DownloadDir: t.TempDir(), PersistRetryInterval: 10 * time.Millisecond})
	t.Cleanup(m.Close)
	router := NewRouter(m)

	rec := do(t, router, http.MethodPost, "/tasks", `{"urls": ["not-a-url", "ftp://example.com/file.txt"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, m.ListTasks())

	rec = do(t, router, http.MethodPost, "/tasks", `{"urls": ["`+srv.FileURL("a.bin")+`", "`+srv.FileURL("b.bin")+`"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]string](t, rec)["id"]
	require.NotEmpty(t, id)

	var final task.DownloadTask
	require.Eventually(t, func() bool {
		rec := do(t, router, http.MethodGet, "/tasks/"+id, "")
		if rec.Code != http.StatusOK {
			return false
		}
		final = decode[task.DownloadTask](t, rec)
		return final.Status == task.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, final.Results, 2)
	for i, want := range []int{len(a), len(b)} {
		assert.True(t, final.Results[i].Success)
		assert.Empty(t, final.Results[i].Error)
		assert.Equal(t, int64(want), final.Results[i].BytesRead)
	}
}
