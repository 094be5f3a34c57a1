// Package testutils 提供测试共用的 HTTP 文件服务器，可以按文件配置是否支持 Range 以及各种故障。
package testutils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// File 描述服务器如何响应某个路径的请求。
type File struct {
	Data []byte

	// NoRange 让服务器忽略 Range 头，总是返回 200。
	NoRange bool

	// FailFirst 让前 N 个请求返回 503。
	FailFirst int

	// DropAfter 让第一个成功的响应在发送这么多字节后断开。
	DropAfter int64

	// Hold 不为 nil 时，每个不带 Range 的完整响应在发送 HoldAfter 字节后暂停，
	// 直到通道被关闭或客户端断开。
	Hold      chan struct{}
	HoldAfter int64
}

type fileState struct {
	File
	requests int
	ranges   []string
	served   int64
}

// Server 是提供已配置文件的 httptest.Server。
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string]*fileState
}

// GenerateData 返回指定大小的确定性测试数据。
func GenerateData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// NewServer 启动服务器，每个文件以 "/"+name 的路径提供。
func NewServer(t *testing.T, files map[string]File) *Server {
	t.Helper()

	s := &Server{files: make(map[string]*fileState, len(files))}
	for name, f := range files {
		s.files["/"+name] = &fileState{File: f}
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FileURL 返回文件的完整 URL。
func (s *Server) FileURL(name string) string {
	return s.URL + "/" + name
}

// Requests 返回 name 收到的请求数。
func (s *Server) Requests(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files["/"+name].requests
}

// Ranges 返回 name 每个请求的 Range 头，没有时为 ""。
func (s *Server) Ranges(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files["/"+name].ranges...)
}

// Served 返回为 name 写出的响应体字节数。
func (s *Server) Served(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files["/"+name].served
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.files[r.URL.Path]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	f.requests++
	f.ranges = append(f.ranges, r.Header.Get("Range"))
	fail := f.requests <= f.FailFirst
	drop := int64(0)
	if !fail {
		drop = f.DropAfter
		f.DropAfter = 0
	}
	data, hold, holdAfter, noRange := f.Data, f.Hold, f.HoldAfter, f.NoRange
	s.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	cw := &countingWriter{ResponseWriter: w, server: s, file: f}
	switch {
	case drop > 0:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		cw.Write(data[:drop])
	case hold != nil && r.Header.Get("Range") == "":
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		cw.Write(data[:holdAfter])
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
		cw.Write(data[holdAfter:])
	case noRange || r.Header.Get("Range") == "":
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		cw.Write(data)
	default:
		http.ServeContent(cw, r, "", time.Time{}, bytes.NewReader(data))
	}
}

type countingWriter struct {
	http.ResponseWriter
	server *Server
	file   *fileState
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.server.mu.Lock()
	c.file.served += int64(n)
	c.server.mu.Unlock()
	return n, err
}

// Flush 在底层 writer 支持时转发刷新。
func (c *countingWriter) Flush() {
	if fl, ok := c.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}
