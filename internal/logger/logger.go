// internal/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog 日志。format 为 "json" 时输出 JSON，否则输出适合终端阅读的格式。
func Init(level, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter 与 Init 相同，但输出到指定的 writer。
func InitWithWriter(w io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.DateTime,
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Get 返回带有 component 字段的子日志器。
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
