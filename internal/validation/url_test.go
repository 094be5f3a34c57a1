package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLsAcceptsHTTPAndHTTPS(t *testing.T) {
	v := New(false)

	assert.NoError(t, v.URLs([]string{
		"https://example.org/a.bin",
		"http://example.org:8080/b.bin?x=1",
		"http://127.0.0.1:9000/c",
	}))
}

func TestURLsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		reason string
	}{
		{"not a url", "not-a-url", "无法解析"},
		{"ftp", "ftp://example.com/file.txt", "不支持的协议"},
		{"no host", "http:///path", "缺少主机名"},
		{"empty", "", "地址为空"},
		{"mailto", "mailto:someone@example.org", "无法解析"},
	}
	v := New(false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.URLs([]string{"https://example.org/ok", tt.url})

			var verr *Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.url, verr.URL)
			assert.Contains(t, verr.Reason, tt.reason)
		})
	}
}

func TestURLsRejectsEmptyBatch(t *testing.T) {
	var verr *Error
	require.ErrorAs(t, New(false).URLs(nil), &verr)
	assert.Empty(t, verr.URL)
}

func TestURLsBlocksPrivateHosts(t *testing.T) {
	v := New(true)

	for _, u := range []string{
		"http://localhost/a",
		"http://127.0.0.1/a",
		"http://10.1.2.3/a",
		"http://192.168.0.10/a",
		"http://169.254.169.254/latest",
		"http://[::1]/a",
	} {
		var verr *Error
		require.ErrorAs(t, v.URLs([]string{u}), &verr, u)
		assert.Contains(t, verr.Reason, "内网")
	}
	assert.NoError(t, v.URLs([]string{"https://example.org/a"}))
}
