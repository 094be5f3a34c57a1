package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slade66/fetchd/internal/observer"
	"github.com/Slade66/fetchd/internal/testutils"
)

func testOptions() Options {
	return Options{
		RetryAttempts:      3,
		RetryBackoff:       time.Millisecond,
		RetryMaxBackoff:    5 * time.Millisecond,
		CheckpointBytes:    4096,
		CheckpointInterval: time.Hour,
		BufferSize:         1024,
	}
}

// recorder 记录下载器上报的每个检查点。
type recorder struct {
	mu      sync.Mutex
	updates []int64
}

func (r *recorder) Update(n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, n)
	return nil
}

func (r *recorder) all() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.updates...)
}

func writePartial(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFetchFresh(t *testing.T) {
	data := testutils.GenerateData(20000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "task", "0_a.bin")
	rec := &recorder{}

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), res.BytesRead)
	assert.Equal(t, int64(len(data)), res.TotalSize)
	assert.False(t, res.Restarted)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	updates := rec.all()
	require.NotEmpty(t, updates)
	assert.Equal(t, int64(len(data)), updates[len(updates)-1])
	assert.IsNonDecreasing(t, updates)
	assert.Equal(t, []string{""}, srv.Ranges("a.bin"))
}

func TestFetchResumesWithRange(t *testing.T) {
	data := testutils.GenerateData(10000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	writePartial(t, dest, data[:3000])
	rec := &recorder{}

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 3000, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), res.BytesRead)
	assert.Equal(t, int64(10000), res.TotalSize)
	assert.Equal(t, []string{"bytes=3000-"}, srv.Ranges("a.bin"))
	assert.Equal(t, int64(7000), srv.Served("a.bin"))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	for _, n := range rec.all() {
		assert.GreaterOrEqual(t, n, int64(3000))
	}
}

func TestFetchRestartsWhenRangeUnsupported(t *testing.T) {
	data := testutils.GenerateData(8000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data, NoRange: true}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	// 从头下载后不能残留的旧数据
	writePartial(t, dest, make([]byte, 5000))
	rec := &recorder{}

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 5000, rec)
	require.NoError(t, err)

	assert.True(t, res.Restarted)
	assert.Equal(t, int64(8000), res.BytesRead)
	updates := rec.all()
	require.NotEmpty(t, updates)
	assert.Equal(t, int64(0), updates[0])
	assert.IsNonDecreasing(t, updates)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchClampsOffsetToDiskSize(t *testing.T) {
	data := testutils.GenerateData(6000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	writePartial(t, dest, data[:1500])

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 4000, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(6000), res.BytesRead)
	assert.Equal(t, []string{"bytes=1500-"}, srv.Ranges("a.bin"))
}

func TestFetchMissingPartialStartsFromZero(t *testing.T) {
	data := testutils.GenerateData(3000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 2000, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), res.BytesRead)
	assert.Equal(t, []string{""}, srv.Ranges("a.bin"))
}

func TestFetchAlreadyCompleteFile(t *testing.T) {
	data := testutils.GenerateData(4096)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	writePartial(t, dest, data)

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 4096, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4096), res.BytesRead)
	assert.Equal(t, int64(4096), res.TotalSize)
	assert.Equal(t, []string{"bytes=4096-"}, srv.Ranges("a.bin"))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	data := testutils.GenerateData(5000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data, FailFirst: 2}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), res.BytesRead)
	assert.Equal(t, 3, srv.Requests("a.bin"))
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: []byte("x"), FailFirst: 100}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")

	_, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0, nil)

	var te *TerminalError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, srv.FileURL("a.bin"), te.URL)
	assert.Equal(t, 4, srv.Requests("a.bin"))
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	srv := testutils.NewServer(t, map[string]testutils.File{})
	dest := filepath.Join(t.TempDir(), "0_missing")

	_, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.URL+"/missing", dest, 0, nil)

	var te *TerminalError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestFetchUnreachableHostIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	dest := filepath.Join(t.TempDir(), "0_x")

	_, err := New(http.DefaultClient, testOptions()).Fetch(context.Background(), addr+"/x", dest, 0, nil)

	var te *TerminalError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "重试 3 次后仍然失败")
}

func TestFetchResumesAfterDroppedConnection(t *testing.T) {
	data := testutils.GenerateData(12000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data, DropAfter: 5000}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	rec := &recorder{}

	res, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(12000), res.BytesRead)
	ranges := srv.Ranges("a.bin")
	require.Len(t, ranges, 2)
	assert.Equal(t, "", ranges[0])
	assert.Equal(t, "bytes=5000-", ranges[1])
	assert.IsNonDecreasing(t, rec.all())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchObserverErrorStopsDownload(t *testing.T) {
	data := testutils.GenerateData(20000)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	diskFull := errors.New("disk full")

	_, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0,
		observer.Func(func(int64) error { return diskFull }))

	assert.ErrorIs(t, err, diskFull)
	var te *TerminalError
	assert.False(t, errors.As(err, &te))
}

func TestFetchCheckpointCadence(t *testing.T) {
	data := testutils.GenerateData(10 * 4096)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")
	rec := &recorder{}

	_, err := New(srv.Client(), testOptions()).Fetch(context.Background(), srv.FileURL("a.bin"), dest, 0, rec)
	require.NoError(t, err)

	updates := rec.all()
	// 大约每 4 KiB 一次检查点，外加最后一次，而不是每个 1 KiB 缓冲区一次
	assert.GreaterOrEqual(t, len(updates), 2)
	assert.LessOrEqual(t, len(updates), 11)
	assert.Equal(t, int64(len(data)), updates[len(updates)-1])
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	_, err := New(nil, testOptions()).Fetch(context.Background(), "ftp://example.com/file.txt", filepath.Join(t.TempDir(), "f"), 0, nil)

	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestFetchContextCancelled(t *testing.T) {
	data := testutils.GenerateData(8000)
	hold := make(chan struct{})
	defer close(hold)
	srv := testutils.NewServer(t, map[string]testutils.File{"a.bin": {Data: data, Hold: hold, HoldAfter: 100}})
	dest := filepath.Join(t.TempDir(), "0_a.bin")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := New(srv.Client(), testOptions()).Fetch(ctx, srv.FileURL("a.bin"), dest, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header            string
		start, end, total int64
		wantErr           bool
	}{
		{"bytes 0-99/100", 0, 99, 100, false},
		{"bytes 100-199/*", 100, 199, -1, false},
		{"bytes */500", -1, -1, 500, false},
		{"bytes 1-2", 0, 0, 0, true},
		{"items 0-1/2", 0, 0, 0, true},
		{"bytes a-1/2", 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := parseContentRange(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
			assert.Equal(t, tt.total, total)
		})
	}
}
