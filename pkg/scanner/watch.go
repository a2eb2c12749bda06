package scanner

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/yleoer/musicapi/pkg/util"
)

// Trigger 接收需要重新扫描的目录，scheduler.TaskScheduler 实现了它
type Trigger interface {
	TriggerScan(dirPath string)
}

// Watch 监听目录树中新增或改动的音频文件，把所在目录交给 trigger 延迟扫描。阻塞到 ctx 结束。
func Watch(ctx context.Context, roots []string, trigger Trigger, logger *log.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := addTree(watcher, root); err != nil {
			return err
		}
		logger.Printf("Monitoring %s for new audio files...", root)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			handleEvent(watcher, event, trigger, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("ERROR: Watcher error: %v", err)
		}
	}
}

func handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, trigger Trigger, logger *log.Logger) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	// 新建的子目录也要监听
	if event.Has(fsnotify.Create) && util.IsDirectory(event.Name) {
		if err := addTree(watcher, event.Name); err != nil {
			logger.Printf("ERROR: could not watch %s: %v", event.Name, err)
		}
		trigger.TriggerScan(event.Name)
		return
	}
	if util.IsPartialDownload(event.Name) || !util.IsAudioFile(event.Name) {
		return
	}
	logger.Printf("Watcher event: %s, on %s", event.Op.String(), event.Name)
	trigger.TriggerScan(filepath.Dir(event.Name))
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
