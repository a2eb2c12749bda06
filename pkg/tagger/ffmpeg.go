package tagger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yleoer/musicapi/pkg/track"
)

// writeWithFFmpeg 用 ffmpeg 流复制的方式重写容器元数据，先写临时文件再替换原文件
func (t *Tagger) writeWithFFmpeg(ctx context.Context, path string, meta *track.Metadata) error {
	ext := filepath.Ext(path)
	tmpPath := strings.TrimSuffix(path, ext) + ".tagging" + ext
	cmd := exec.CommandContext(ctx, t.ffmpegPath, buildFFmpegArgs(path, tmpPath, meta)...)
	t.logger.Printf("  -> Executing FFmpeg... Command: %s %s", t.ffmpegPath, strings.Join(cmd.Args[1:], " "))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		t.logger.Printf("  -> FFmpeg output:\n%s", stderr.String())
		return &MetadataError{Message: "ffmpeg execution failed for " + filepath.Base(path), Original: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &MetadataError{Message: "failed to replace tagged file", Original: err}
	}
	return nil
}

// buildFFmpegArgs 构建一条只改元数据、不转码的命令
func buildFFmpegArgs(inputFile, outputFile string, meta *track.Metadata) []string {
	var args []string
	args = append(args, "-y", "-i", inputFile, "-map", "0", "-c", "copy")
	addMetadata(&args, "title", meta.Name)
	addMetadata(&args, "artist", meta.ArtistString())
	addMetadata(&args, "album_artist", meta.AlbumArtist)
	addMetadata(&args, "album", meta.Album)
	addMetadata(&args, "date", meta.ReleaseDate)
	addMetadata(&args, "track", trackString(meta.TrackNumber, meta.TrackTotal))
	addMetadata(&args, "disc", intString(meta.DiscNumber))
	addMetadata(&args, "genre", meta.Genre)
	addMetadata(&args, "publisher", meta.Publisher)
	addMetadata(&args, "composer", meta.Credits.Composer)
	addMetadata(&args, "lyrics", meta.FullLyrics())
	args = append(args, outputFile)
	return args
}

func addMetadata(args *[]string, key, value string) {
	if value != "" {
		*args = append(*args, "-metadata", fmt.Sprintf("%s=%s", key, value))
	}
}
