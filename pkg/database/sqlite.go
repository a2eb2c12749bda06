package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/yleoer/musicapi/pkg/track"
)

// sqliteStore 是 LibraryStore 接口的 SQLite 实现
type sqliteStore struct {
	db     *sql.DB
	logger *log.Logger
}

const createTablesSQL = `
	CREATE TABLE IF NOT EXISTS songs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		search_key TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		duration_ms INTEGER,
		album TEXT,
		quality TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_songs_search_key ON songs (search_key);
	CREATE TABLE IF NOT EXISTS playlist_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		online_playlist_id TEXT NOT NULL,
		navidrome_playlist_id TEXT,
		playlist_name TEXT,
		last_sync_time DATETIME,
		UNIQUE (platform, online_playlist_id)
	);
	`

// NewSQLiteStore 初始化 SQLite 数据库并返回 LibraryStore 接口实例
func NewSQLiteStore(dataSourceName string, log *log.Logger) (LibraryStore, error) {
	dsn := dataSourceName
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// 后台下载会并发写库，单连接避免 database is locked
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close() // 创建表失败也要关闭连接
		return nil, fmt.Errorf("failed to create library tables: %w", err)
	}
	log.Printf("SQLite database initialized at: %s", dataSourceName)
	return &sqliteStore{db: db, logger: log}, nil
}

// Close 关闭数据库连接
func (s *sqliteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.logger.Println("SQLite database connection closed.")
		return err
	}
	return nil
}

// ExistingTiers 返回某首歌在本地已有的音质集合
func (s *sqliteStore) ExistingTiers(ctx context.Context, identity, album string) (track.TierSet, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT quality, COALESCE(album, '') FROM songs WHERE search_key = ?", identity)
	if err != nil {
		s.logger.Printf("ERROR: Failed to query existing tiers for %s: %v", identity, err)
		return nil, fmt.Errorf("failed to query existing tiers for %s: %w", identity, err)
	}
	defer rows.Close()

	tiers := track.NewTierSet()
	for rows.Next() {
		var quality, dbAlbum string
		if err := rows.Scan(&quality, &dbAlbum); err != nil {
			return nil, fmt.Errorf("failed to scan existing tier row: %w", err)
		}
		if album != "" && !track.AlbumsMatch(album, dbAlbum) {
			continue
		}
		tiers.Add(track.Tier(quality))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate existing tiers: %w", err)
	}
	return tiers, nil
}

// Record 写入一条记录，file_path 已存在时什么也不做
func (s *sqliteStore) Record(ctx context.Context, e Entry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO songs (search_key, file_path, duration_ms, album, quality) VALUES (?, ?, ?, ?, ?)",
		e.Identity, e.FilePath, e.DurationMs, e.Album, string(e.Tier))
	if err != nil {
		s.logger.Printf("ERROR: Failed to record %s (%s): %v", e.Identity, e.Tier, err)
		return false, fmt.Errorf("failed to record %s: %w", e.FilePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.logger.Printf("Recorded '%s' (%s) in library.", e.Identity, e.Tier)
	return true, nil
}

// PathForID 根据 ID 查询文件路径
func (s *sqliteStore) PathForID(ctx context.Context, id int64) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx, "SELECT file_path FROM songs WHERE id = ?", id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query path for id %d: %w", id, err)
	}
	return path, true, nil
}

// Search 按 "歌手 - 歌名" 精确查找，album 为子串过滤。
// 指定 tier 时按 master→flac→320→128 向下兼容，返回第一个有结果的档位的全部记录。
func (s *sqliteStore) Search(ctx context.Context, identity, album string, tier track.Tier) ([]Entry, error) {
	query := "SELECT id, search_key, COALESCE(duration_ms, 0), COALESCE(album, ''), quality, file_path FROM songs WHERE search_key = ?"
	args := []any{identity}
	if album != "" {
		query += " AND album LIKE ?"
		args = append(args, "%"+album+"%")
	}

	fallback := track.DownwardFallback(tier)
	if len(fallback) == 0 {
		return s.queryEntries(ctx, query+" ORDER BY id DESC", args...)
	}
	for _, t := range fallback {
		entries, err := s.queryEntries(ctx, query+" AND quality = ? ORDER BY id DESC", append(args, string(t))...)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, nil
}

// List 按 ID 倒序列出全部记录
func (s *sqliteStore) List(ctx context.Context) ([]Entry, error) {
	return s.queryEntries(ctx, "SELECT id, search_key, COALESCE(duration_ms, 0), COALESCE(album, ''), quality, file_path FROM songs ORDER BY id DESC")
}

// HasPath 判断文件是否已在库中
func (s *sqliteStore) HasPath(ctx context.Context, path string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM songs WHERE file_path = ?", path).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check path %s: %w", path, err)
	}
	return count > 0, nil
}

// Delete 删除指定 ID 的记录，返回实际被删除的条目，不存在的 ID 被忽略
func (s *sqliteStore) Delete(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	entries, err := s.queryEntries(ctx,
		"SELECT id, search_key, COALESCE(duration_ms, 0), COALESCE(album, ''), quality, file_path FROM songs WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM songs WHERE id IN ("+placeholders+")", args...); err != nil {
		return nil, fmt.Errorf("failed to delete songs: %w", err)
	}
	return entries, nil
}

func (s *sqliteStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var quality string
		if err := rows.Scan(&e.ID, &e.Identity, &e.DurationMs, &e.Album, &quality, &e.FilePath); err != nil {
			return nil, fmt.Errorf("failed to scan song row: %w", err)
		}
		e.Tier = track.Tier(quality)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate songs: %w", err)
	}
	return entries, nil
}

// UpsertPlaylistMapping 新增或更新歌单映射
func (s *sqliteStore) UpsertPlaylistMapping(ctx context.Context, m PlaylistMapping) error {
	var lastSync any
	if !m.LastSyncTime.IsZero() {
		lastSync = m.LastSyncTime.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlist_mappings (platform, online_playlist_id, navidrome_playlist_id, playlist_name, last_sync_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (platform, online_playlist_id) DO UPDATE SET
			navidrome_playlist_id = excluded.navidrome_playlist_id,
			playlist_name = excluded.playlist_name,
			last_sync_time = COALESCE(excluded.last_sync_time, playlist_mappings.last_sync_time)`,
		m.Platform, m.OnlinePlaylistID, m.LocalPlaylistID, m.Name, lastSync)
	if err != nil {
		s.logger.Printf("ERROR: Failed to save playlist mapping %s:%s: %v", m.Platform, m.OnlinePlaylistID, err)
		return fmt.Errorf("failed to save playlist mapping %s:%s: %w", m.Platform, m.OnlinePlaylistID, err)
	}
	return nil
}

// ListPlaylistMappings 列出全部歌单映射
func (s *sqliteStore) ListPlaylistMappings(ctx context.Context) ([]PlaylistMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, online_playlist_id, COALESCE(navidrome_playlist_id, ''), COALESCE(playlist_name, ''), last_sync_time
		FROM playlist_mappings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist mappings: %w", err)
	}
	defer rows.Close()

	var mappings []PlaylistMapping
	for rows.Next() {
		var m PlaylistMapping
		var lastSync sql.NullTime
		if err := rows.Scan(&m.Platform, &m.OnlinePlaylistID, &m.LocalPlaylistID, &m.Name, &lastSync); err != nil {
			return nil, fmt.Errorf("failed to scan playlist mapping: %w", err)
		}
		if lastSync.Valid {
			m.LastSyncTime = lastSync.Time
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// TouchPlaylistSync 更新歌单的最后同步时间
func (s *sqliteStore) TouchPlaylistSync(ctx context.Context, platform, onlineID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE playlist_mappings SET last_sync_time = ? WHERE platform = ? AND online_playlist_id = ?",
		at.UTC(), platform, onlineID)
	if err != nil {
		return fmt.Errorf("failed to update sync time for %s:%s: %w", platform, onlineID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("playlist mapping %s:%s not found", platform, onlineID)
	}
	return nil
}
