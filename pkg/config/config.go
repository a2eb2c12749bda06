package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MusicDir          string        `json:"music_directory"`         // 主音乐库目录
	FlacDir           string        `json:"flac_directory"`          // 已有 master 时 flac 的备用目录
	DataDir           string        `json:"data_dir"`                // SQLite数据库文件存放目录
	DBFileName        string        `json:"db_file_name"`            // SQLite数据库文件名
	DBPath            string        `json:"-"`                       // 完整的数据库文件路径
	CredentialsFile   string        `json:"credentials_file"`        // 各平台 Cookie/Token 的 YAML 文件
	DownloadsEnabled  bool          `json:"downloads_enabled"`       // 是否在后台下载到本地库
	FlacWithMaster    bool          `json:"enable_flac_when_master"` // 下载 master 后是否再补一份 flac
	DownloadRetries   int           `json:"download_retries"`        // 单个文件的最大下载次数
	RetryBackoff      time.Duration `json:"download_retry_backoff"`  // 重试间隔
	BatchPacing       time.Duration `json:"batch_pacing"`            // 批量任务两首歌之间的间隔
	HTTPTimeout       time.Duration `json:"http_timeout"`            // 平台接口请求超时
	DownloadTimeout   time.Duration `json:"download_timeout"`        // 单次下载超时
	Workers           int           `json:"workers"`                 // 后台下载并发数
	QueueSize         int           `json:"queue_size"`              // 后台任务队列长度
	QQRefreshInterval time.Duration `json:"qq_refresh_interval"`     // QQ 音乐 Cookie 刷新周期
	FFmpegPath        string        `json:"ffmpeg_path"`             // FFmpeg 可执行文件路径
	ScanDebounce      time.Duration `json:"scan_debounce"`           // 目录变化后延迟多久重新扫描
}

const (
	musicDir        = "/app/music"
	flacDir         = "/app/music_flac"
	dataDir         = "/app/data"
	dbFileName      = "music.db"
	credentialsFile = "credentials.yaml"
	ffmpeg          = "ffmpeg"

	downloadRetries   = 3
	retryBackoff      = 5 * time.Second
	batchPacing       = 1 * time.Second
	httpTimeout       = 20 * time.Second
	downloadTimeout   = 300 * time.Second
	workers           = 4
	queueSize         = 256
	qqRefreshInterval = 23 * time.Hour
	scanDebounce      = 5 * time.Second
)

// LoadConfig 从环境变量或默认值加载配置
func LoadConfig() (*Config, error) {
	// 尝试加载 .env 文件
	_ = godotenv.Load()

	cfg := &Config{
		MusicDir:          os.Getenv("MUSIC_DIRECTORY"),
		FlacDir:           os.Getenv("FLAC_DIRECTORY"),
		DataDir:           os.Getenv("DATA_DIR"),
		DBFileName:        os.Getenv("DB_FILE_NAME"),
		CredentialsFile:   os.Getenv("CREDENTIALS_FILE"),
		DownloadsEnabled:  parseBoolOrDefault(os.Getenv("DOWNLOADS_ENABLED"), true),
		FlacWithMaster:    parseBoolOrDefault(os.Getenv("ENABLE_FLAC_WHEN_MASTER"), false),
		DownloadRetries:   parseIntOrDefault(os.Getenv("DOWNLOAD_RETRIES"), downloadRetries),
		RetryBackoff:      parseDurationOrDefault(os.Getenv("DOWNLOAD_RETRY_BACKOFF"), retryBackoff),
		BatchPacing:       parseDurationOrDefault(os.Getenv("BATCH_PACING"), batchPacing),
		HTTPTimeout:       parseDurationOrDefault(os.Getenv("HTTP_TIMEOUT"), httpTimeout),
		DownloadTimeout:   parseDurationOrDefault(os.Getenv("DOWNLOAD_TIMEOUT"), downloadTimeout),
		Workers:           parseIntOrDefault(os.Getenv("WORKERS"), workers),
		QueueSize:         parseIntOrDefault(os.Getenv("QUEUE_SIZE"), queueSize),
		QQRefreshInterval: parseDurationOrDefault(os.Getenv("QQ_REFRESH_INTERVAL"), qqRefreshInterval),
		FFmpegPath:        os.Getenv("FFMPEG_PATH"),
		ScanDebounce:      parseDurationOrDefault(os.Getenv("SCAN_DEBOUNCE"), scanDebounce),
	}

	// 设置默认值
	if cfg.MusicDir == "" {
		cfg.MusicDir = musicDir
	}
	if cfg.FlacDir == "" {
		cfg.FlacDir = flacDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.DBFileName == "" {
		cfg.DBFileName = dbFileName
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = filepath.Join(cfg.DataDir, credentialsFile)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = ffmpeg
	}
	if cfg.DownloadRetries < 1 {
		cfg.DownloadRetries = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	// 入库路径和扫描路径都是绝对路径，同一个文件才不会被记录两次
	for _, dir := range []*string{&cfg.MusicDir, &cfg.FlacDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve directory %s: %w", *dir, err)
		}
		*dir = abs
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, cfg.DBFileName)

	// 确认目录存在
	for _, dir := range []string{cfg.MusicDir, cfg.FlacDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return cfg, nil
}

func parseDurationOrDefault(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("Warning: Could not parse duration '%s', using default '%v'. Error: %v", s, defaultValue, err)
		return defaultValue
	}
	return d
}

func parseIntOrDefault(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		log.Printf("Warning: Could not parse integer '%s', using default '%d'. Error: %v", s, defaultValue, err)
		return defaultValue
	}
	return n
}

func parseBoolOrDefault(s string, defaultValue bool) bool {
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		log.Printf("Warning: Could not parse boolean '%s', using default '%t'. Error: %v", s, defaultValue, err)
		return defaultValue
	}
	return b
}
