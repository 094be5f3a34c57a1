package observer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBarShowsPercentage(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBarObserver(&buf, 1024*1024)

	require.NoError(t, p.Update(512*1024))

	assert.Contains(t, buf.String(), "50.00%")
	assert.Contains(t, buf.String(), "(0.50/1.00 MB)")
}

func TestProgressBarClampsOverflow(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBarObserver(&buf, 100)

	require.NoError(t, p.Update(200))

	assert.Contains(t, buf.String(), "100.00%")
}

func TestProgressBarUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBarObserver(&buf, 0)

	require.NoError(t, p.Update(2*1024*1024))

	assert.Contains(t, buf.String(), "已下载 2.00 MB")

	buf.Reset()
	p.SetTotal(4 * 1024 * 1024)
	require.NoError(t, p.Update(2*1024*1024))
	assert.Contains(t, buf.String(), "50.00%")
}

func TestFuncAdapter(t *testing.T) {
	var got int64
	boom := errors.New("boom")
	var o Observer = Func(func(n int64) error {
		got = n
		return boom
	})

	assert.ErrorIs(t, o.Update(42), boom)
	assert.Equal(t, int64(42), got)
	assert.NoError(t, Nop.Update(1))
}
