// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 是环境变量的前缀，例如 FETCHD_STORE_BACKEND。
const EnvPrefix = "FETCHD"

// Config 是服务的全部配置。
type Config struct {
	ListenAddr  string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	DownloadDir string `yaml:"download_dir" envconfig:"DOWNLOAD_DIR"`

	// 拒绝指向回环、内网和链路本地地址的 URL
	BlockPrivateHosts bool `yaml:"block_private_hosts" envconfig:"BLOCK_PRIVATE_HOSTS"`

	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Fetch   FetchConfig   `yaml:"fetch" envconfig:"FETCH"`
	Archive ArchiveConfig `yaml:"archive" envconfig:"ARCHIVE"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
}

// StoreConfig 选择任务记录的存储后端。
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND"` // file 或 redis
	TaskDir string `yaml:"task_dir" envconfig:"TASK_DIR"`

	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`

	// 持久化失败后重试的间隔
	PersistRetryInterval time.Duration `yaml:"persist_retry_interval" envconfig:"PERSIST_RETRY_INTERVAL"`
}

// FetchConfig 控制单个文件的下载行为。
type FetchConfig struct {
	RetryAttempts         int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryBackoff          time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	RetryMaxBackoff       time.Duration `yaml:"retry_max_backoff" envconfig:"RETRY_MAX_BACKOFF"`
	CheckpointBytes       int64         `yaml:"checkpoint_bytes" envconfig:"CHECKPOINT_BYTES"`
	CheckpointInterval    time.Duration `yaml:"checkpoint_interval" envconfig:"CHECKPOINT_INTERVAL"`
	// 单次请求等待响应头的时间，超时按可重试的失败处理；为 0 时不限制
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" envconfig:"RESPONSE_HEADER_TIMEOUT"`
}

// ArchiveConfig 配置任务完成后的归档上传，Backend 为空时不归档。
type ArchiveConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND"` // ""、obs 或 blob

	ObsEndpoint string `yaml:"obs_endpoint" envconfig:"OBS_ENDPOINT"`
	ObsAK       string `yaml:"obs_ak" envconfig:"OBS_AK"`
	ObsSK       string `yaml:"obs_sk" envconfig:"OBS_SK"`
	ObsBucket   string `yaml:"obs_bucket" envconfig:"OBS_BUCKET"`

	// gocloud 桶 URL，例如 file:///var/lib/fetchd/archive
	BlobURL string `yaml:"blob_url" envconfig:"BLOB_URL"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // console 或 json
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		DownloadDir: "data/downloads",
		Store: StoreConfig{
			Backend:              "file",
			TaskDir:              "data/tasks",
			RedisAddr:            "localhost:6379",
			RedisPrefix:          "fetchd:",
			PersistRetryInterval: 5 * time.Second,
		},
		Fetch: FetchConfig{
			RetryAttempts:         5,
			RetryBackoff:          time.Second,
			RetryMaxBackoff:       30 * time.Second,
			CheckpointBytes:       1 << 20,
			CheckpointInterval:    time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load 按顺序叠加默认值、YAML 文件（path 非空时）、.env 文件和 FETCHD_ 环境变量，
// 然后校验结果。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("无法解析配置文件 %s: %w", path, err)
		}
	}

	// .env 是可选的，且不会覆盖已经存在的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("无法加载 .env 文件: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("无法解析环境变量: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否完整、取值是否合法。
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ListenAddr != "", "listen_addr 不能为空")
	check(c.DownloadDir != "", "download_dir 不能为空")

	switch c.Store.Backend {
	case "file":
		check(c.Store.TaskDir != "", "store.task_dir 不能为空")
	case "redis":
		check(c.Store.RedisAddr != "", "store.redis_addr 不能为空")
	default:
		errs = append(errs, fmt.Errorf("未知的存储后端 %q", c.Store.Backend))
	}
	check(c.Store.PersistRetryInterval > 0, "store.persist_retry_interval 必须大于 0")

	check(c.Fetch.RetryAttempts > 0, "fetch.retry_attempts 必须大于 0")
	check(c.Fetch.RetryBackoff > 0, "fetch.retry_backoff 必须大于 0")
	check(c.Fetch.RetryMaxBackoff >= c.Fetch.RetryBackoff, "fetch.retry_max_backoff 不能小于 retry_backoff")
	check(c.Fetch.CheckpointBytes > 0, "fetch.checkpoint_bytes 必须大于 0")
	check(c.Fetch.CheckpointInterval > 0, "fetch.checkpoint_interval 必须大于 0")
	check(c.Fetch.ResponseHeaderTimeout >= 0, "fetch.response_header_timeout 不能为负数")

	switch c.Archive.Backend {
	case "":
	case "obs":
		check(c.Archive.ObsEndpoint != "" && c.Archive.ObsBucket != "", "archive.obs_endpoint 和 archive.obs_bucket 不能为空")
	case "blob":
		check(c.Archive.BlobURL != "", "archive.blob_url 不能为空")
	default:
		errs = append(errs, fmt.Errorf("未知的归档后端 %q", c.Archive.Backend))
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("未知的日志格式 %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	return nil
}
