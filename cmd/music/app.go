package main

import (
	"context"
	"fmt"
	"log"

	"github.com/yleoer/musicapi/pkg/batch"
	"github.com/yleoer/musicapi/pkg/config"
	"github.com/yleoer/musicapi/pkg/converter"
	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/downloader"
	"github.com/yleoer/musicapi/pkg/pipeline"
	"github.com/yleoer/musicapi/pkg/reconcile"
	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/resolver/kuwo"
	"github.com/yleoer/musicapi/pkg/resolver/netease"
	"github.com/yleoer/musicapi/pkg/resolver/qq"
	"github.com/yleoer/musicapi/pkg/scanner"
	"github.com/yleoer/musicapi/pkg/scheduler"
	"github.com/yleoer/musicapi/pkg/service"
	"github.com/yleoer/musicapi/pkg/tagger"
	"github.com/yleoer/musicapi/pkg/track"
)

// app 持有所有组件，按依赖顺序创建
type app struct {
	cfg         *config.Config
	store       database.LibraryStore
	pool        *scheduler.Pool
	service     *service.Service
	scanner     *scanner.LibraryScanner
	qqRefresher *qq.Refresher
	logger      *log.Logger
}

func newApp(ctx context.Context, logger *log.Logger) (*app, error) {
	// 1. 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Printf("Configuration loaded: MusicDir=%s, FlacDir=%s, DBPath=%s, Downloads=%t",
		cfg.MusicDir, cfg.FlacDir, cfg.DBPath, cfg.DownloadsEnabled)
	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	// 2. 繁简体转换器
	t2sConverter, err := converter.NewOpenCCConverter(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenCC converter: %w", err)
	}

	// 3. 数据库存储
	store, err := database.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 4. 各平台 Resolver，凭据放在可整体替换的 Session 中
	neteaseSession := resolver.NewSession(resolver.Credentials{Cookies: resolver.ParseCookie(creds.Netease.Cookie)})
	qqSession := resolver.NewSession(qq.CredentialsFrom(creds.QQ.UIN, creds.QQ.MusicKey, creds.QQ.RefreshToken))
	qqClient := qq.NewClient("", cfg.HTTPTimeout, qqSession, logger)
	registry := resolver.NewRegistry(
		netease.NewClient("", cfg.HTTPTimeout, neteaseSession, logger),
		qqClient,
		kuwo.NewClient("", cfg.HTTPTimeout, logger),
	)
	refresher := qq.NewRefresher(qqClient, func(c resolver.Credentials) error {
		return persistQQCredentials(cfg.CredentialsFile, c)
	}, logger)

	// 5. 下载流水线和对账引擎
	fetcher := downloader.New(downloader.Options{
		Retries: cfg.DownloadRetries,
		Backoff: cfg.RetryBackoff,
		Timeout: cfg.DownloadTimeout,
	}, logger)
	writer := tagger.NewTagger(cfg.FFmpegPath, cfg.HTTPTimeout, logger)
	pipe := pipeline.New(pipeline.Directories{Primary: cfg.MusicDir, Secondary: cfg.FlacDir}, fetcher, writer, store, logger)
	engine := reconcile.NewEngine(store, pipe, reconcile.Policy{FlacWithMaster: cfg.FlacWithMaster}, logger)

	// 6. 后台任务池和批量下载
	pool := scheduler.NewPool(ctx, cfg.Workers, cfg.QueueSize, logger)
	identity := func(meta *track.Metadata) string { return track.Identity(t2sConverter, meta.Artists, meta.Name) }
	runner := batch.NewRunner(engine, pool, identity, cfg.BatchPacing, logger)

	return &app{
		cfg:         cfg,
		store:       store,
		pool:        pool,
		service:     service.New(registry, store, engine, runner, pool, t2sConverter, cfg.DownloadsEnabled, logger),
		scanner:     scanner.NewLibraryScanner(store, t2sConverter, logger, cfg.MusicDir, cfg.FlacDir),
		qqRefresher: refresher,
		logger:      logger,
	}, nil
}

// close 等后台任务结束后关闭数据库
func (a *app) close() {
	a.service.Wait()
	a.pool.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Printf("ERROR: closing database: %v", err)
	}
}

// persistQQCredentials 把续期后的 QQ 凭据写回凭据文件，其他平台的内容保持不变
func persistQQCredentials(path string, c resolver.Credentials) error {
	creds, err := config.LoadCredentials(path)
	if err != nil {
		return err
	}
	creds.QQ.UIN = c.UIN
	creds.QQ.MusicKey = c.Key
	if c.RefreshToken != "" {
		creds.QQ.RefreshToken = c.RefreshToken
	}
	return config.SaveCredentials(path, creds)
}
