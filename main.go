// main.go
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Slade66/fetchd/internal/client"
	"github.com/Slade66/fetchd/internal/downloader"
	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/internal/observer"
	"github.com/Slade66/fetchd/pkg/fileinfo"
)

var (
	output  string
	retries int
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:          "fetchd-get <url>",
	Short:        "下载单个文件，再次运行时从上次中断的位置继续",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if debug {
			level = "debug"
		}
		logger.Init(level, "console")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fetch(ctx, args[0], output)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "文件保存路径 (如果为空，则从URL中自动提取)")
	rootCmd.Flags().IntVarP(&retries, "retries", "r", downloader.DefaultOptions().RetryAttempts, "连续失败时的最大重试次数")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "输出调试日志")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fetch(ctx context.Context, rawURL, output string) error {
	// 1. 文件名处理
	if output == "" {
		parsedURL, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("无法解析提供的URL: %w", err)
		}
		filename := path.Base(parsedURL.Path)
		if filename == "" || filename == "." || filename == "/" {
			return fmt.Errorf("无法从URL [%s] 中自动提取有效的文件名，请使用 -o 参数手动指定", rawURL)
		}
		output = filename
	}

	httpClient := client.New(client.DefaultOptions())

	// 2. 获取文件信息，失败不影响下载，只是进度条没有总大小
	fmt.Println("🔎 正在获取文件信息...")
	var total int64
	info, err := fileinfo.Get(ctx, httpClient, rawURL)
	if err != nil {
		fmt.Printf("⚠️ %v\n", err)
	} else {
		total = info.Size
		if !info.AcceptsRanges {
			fmt.Println("⚠️ 服务器未声明支持断点续传，中断后可能需要从头下载")
		}
	}

	// 3. 已存在的部分文件就是续传的起点
	var offset int64
	if st, err := os.Stat(output); err == nil {
		offset = st.Size()
	}
	if total > 0 && offset > total {
		offset = 0
	}

	opts := downloader.DefaultOptions()
	opts.RetryAttempts = retries
	d := downloader.New(httpClient, opts)
	progressBar := observer.NewProgressBarObserver(os.Stdout, total)

	if offset > 0 {
		fmt.Printf("🔁 从 %d 字节处继续下载...\n", offset)
	} else {
		fmt.Println("🚀 开始下载...")
	}
	res, err := d.Fetch(ctx, rawURL, output, offset, progressBar)
	progressBar.Finish()
	if err != nil {
		return fmt.Errorf("❌ 下载失败，已保存 %d 字节，重新运行即可继续: %w", res.BytesRead, err)
	}
	if res.Restarted {
		fmt.Println("⚠️ 服务器不支持续传，文件已从头重新下载")
	}
	fmt.Printf("✅ 文件下载完成: %s (%d 字节)\n", output, res.BytesRead)
	return nil
}
