package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/Slade66/fetchd/internal/api"
	"github.com/Slade66/fetchd/internal/client"
	"github.com/Slade66/fetchd/internal/config"
	"github.com/Slade66/fetchd/internal/downloader"
	"github.com/Slade66/fetchd/internal/logger"
	"github.com/Slade66/fetchd/internal/manager"
	"github.com/Slade66/fetchd/internal/store"
	"github.com/Slade66/fetchd/internal/uploader"
	"github.com/Slade66/fetchd/internal/validation"
)

var (
	configPath  string
	listenAddr  string
	downloadDir string
	storeKind   string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:          "fetchd",
	Short:        "可断点续传的后台下载服务",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// 命令行参数优先级最高
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("download-dir") {
			cfg.DownloadDir = downloadDir
		}
		if cmd.Flags().Changed("store") {
			cfg.Store.Backend = storeKind
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML 配置文件路径")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP 监听地址")
	rootCmd.Flags().StringVarP(&downloadDir, "download-dir", "d", "", "下载文件的保存目录")
	rootCmd.Flags().StringVar(&storeKind, "store", "", "任务存储后端 (file 或 redis)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serve 启动服务并阻塞到 ctx 结束，然后依次关闭 HTTP 服务和任务管理器。
func serve(ctx context.Context, cfg *config.Config) error {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.Get("main")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := manager.Options{
		DownloadDir:          cfg.DownloadDir,
		PersistRetryInterval: cfg.Store.PersistRetryInterval,
		Validator:            validation.New(cfg.BlockPrivateHosts),
	}
	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
		opts.Archiver = archive
	}

	httpClient := client.New(client.Options{
		MaxIdleConnsPerHost:   client.DefaultOptions().MaxIdleConnsPerHost,
		ResponseHeaderTimeout: cfg.Fetch.ResponseHeaderTimeout,
	})
	d := downloader.New(httpClient, downloader.Options{
		RetryAttempts:      cfg.Fetch.RetryAttempts,
		RetryBackoff:       cfg.Fetch.RetryBackoff,
		RetryMaxBackoff:    cfg.Fetch.RetryMaxBackoff,
		CheckpointBytes:    cfg.Fetch.CheckpointBytes,
		CheckpointInterval: cfg.Fetch.CheckpointInterval,
	})

	m := manager.New(st, d, opts)
	defer m.Close()
	// 先恢复上次未完成的任务，再开始接受新任务
	if err := m.Restore(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(m),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", cfg.ListenAddr).Str("store", cfg.Store.Backend).Msg("🚀 API 服务已启动")

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("收到退出信号，正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("HTTP 服务未能正常关闭")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		rdb, err := store.DialRedis(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(rdb, cfg.Store.RedisPrefix), nil
	default:
		return store.NewFileStore(cfg.Store.TaskDir)
	}
}

// openArchive 返回配置的归档上传器，未配置时返回 nil。
func openArchive(ctx context.Context, cfg *config.Config) (uploader.Uploader, error) {
	switch cfg.Archive.Backend {
	case "obs":
		return uploader.NewObsUploader(cfg.Archive.ObsEndpoint, cfg.Archive.ObsAK, cfg.Archive.ObsSK, cfg.Archive.ObsBucket)
	case "blob":
		return uploader.NewBlobUploader(ctx, cfg.Archive.BlobURL)
	default:
		return nil, nil
	}
}
