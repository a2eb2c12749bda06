package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yleoer/musicapi/pkg/scanner"
	"github.com/yleoer/musicapi/pkg/scheduler"
	"github.com/yleoer/musicapi/pkg/service"
	"github.com/yleoer/musicapi/pkg/track"
	"github.com/yleoer/musicapi/pkg/util"
)

var (
	platform string
	tierName string
	album    string
	songMID  string
)

// 日志写到 stderr，stdout 只输出 JSON 结果
var logger = log.New(os.Stderr, "[MusicAPI] ", log.LstdFlags|log.Lshortfile)

var rootCmd = &cobra.Command{
	Use:   "music",
	Short: "Music aggregation service with quality-tiered downloads",
	Long: `Resolve songs on NetEase, QQ Music and Kuwo, keep the best available
quality in the local library and index what is already on disk.`,
	SilenceUsage: true,
}

var songCmd = &cobra.Command{
	Use:   "song [id]",
	Short: "Show song details and download the best quality in the background",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := track.Ref{Platform: platform, MID: songMID}
		if len(args) == 1 {
			ref.ID = args[0]
		}
		if ref.ID == "" && ref.MID == "" {
			return fmt.Errorf("song id or --mid is required")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			tier, err := requestedTier()
			if err != nil {
				return err
			}
			d, err := a.service.Details(ctx, ref, tier)
			return printResult(d, err)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [artist - title]",
	Short: "Search a platform and pick the best match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			tier, err := requestedTier()
			if err != nil {
				return err
			}
			d, err := a.service.SearchAndDetails(ctx, platform, args[0], album, tier)
			return printResult(d, err)
		})
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Query and maintain the local library index",
}

var localSearchCmd = &cobra.Command{
	Use:   "search [artist - title]",
	Short: "Find songs in the local library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var tier track.Tier
			if tierName != "" {
				t, err := requestedTier()
				if err != nil {
					return err
				}
				tier = t
			}
			entries, err := a.service.LocalSearch(ctx, args[0], album, tier)
			return printResult(entries, err)
		})
	},
}

var localPathCmd = &cobra.Command{
	Use:   "path [song id]",
	Short: "Print the file path of a local song",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid song id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			path, err := a.service.LocalPath(ctx, id)
			return printResult(path, err)
		})
	},
}

var localListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every song in the local library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			entries, err := a.service.LocalList(ctx)
			return printResult(entries, err)
		})
	},
}

var localDeleteCmd = &cobra.Command{
	Use:   "delete [song id]...",
	Short: "Delete songs from the index and from disk",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid song id %q", arg)
			}
			ids = append(ids, id)
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			deleted, err := a.service.Delete(ctx, ids)
			return printResult(deleted, err)
		})
	},
}

var playlistCmd = &cobra.Command{
	Use:   "playlist [playlist id]",
	Short: "Download every song of a playlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			done, err := a.service.QueuePlaylist(ctx, platform, args[0])
			if err != nil {
				return printResult(nil, err)
			}
			return printResult(<-done, nil)
		})
	},
}

var playlistsCmd = &cobra.Command{
	Use:   "playlists",
	Short: "List downloaded playlists and their last sync time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			mappings, err := a.service.Playlists(ctx)
			return printResult(mappings, err)
		})
	},
}

var albumCmd = &cobra.Command{
	Use:   "album [album id]",
	Short: "Download every song of an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			done, err := a.service.QueueAlbum(ctx, platform, args[0])
			if err != nil {
				return printResult(nil, err)
			}
			return printResult(<-done, nil)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import [keyword file]",
	Short: "Search and download every \"Artist - Title\" line of a text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keywords, err := util.ReadLines(args[0])
		if err != nil {
			return fmt.Errorf("failed to read keyword file: %w", err)
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			tier, err := requestedTier()
			if err != nil {
				return err
			}
			return printResult(a.service.SearchAll(ctx, platform, keywords, tier), nil)
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index audio files already in the music directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.scanner.ScanAll(ctx)
			return printResult(res, err)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index in sync with the music directories and refresh QQ Music credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if _, err := a.scanner.ScanAll(ctx); err != nil {
				a.logger.Printf("ERROR: initial scan: %v", err)
			}
			taskScheduler := scheduler.NewTaskScheduler(scheduler.Options{
				Debounce:    a.cfg.ScanDebounce,
				QuietPeriod: 2 * time.Second,
				MaxWait:     time.Minute,
			}, a.pool, a.scanner.Scan, a.logger)
			defer taskScheduler.Stop()

			if a.cfg.QQRefreshInterval > 0 {
				go scheduler.Every(ctx, a.cfg.QQRefreshInterval, "QQ Music credential refresh", a.qqRefresher.Refresh, a.logger)
			}

			a.logger.Println("Application is running. Press Ctrl+C to exit.")
			return scanner.Watch(ctx, a.scanner.Dirs(), taskScheduler, a.logger)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&platform, "platform", "p", "netease", "platform: netease, qq or kuwo")
	rootCmd.PersistentFlags().StringVarP(&tierName, "tier", "t", "flac", "requested quality: 128, 320, flac or master")
	rootCmd.PersistentFlags().StringVarP(&album, "album", "a", "", "album name filter")
	songCmd.Flags().StringVar(&songMID, "mid", "", "QQ Music songmid")

	localCmd.AddCommand(localSearchCmd, localPathCmd, localListCmd, localDeleteCmd)
	rootCmd.AddCommand(songCmd, searchCmd, importCmd, localCmd, playlistCmd, playlistsCmd, albumCmd, scanCmd, watchCmd)
}

func requestedTier() (track.Tier, error) {
	tier, ok := track.ParseTier(tierName)
	if !ok || tier == track.TierOther {
		return "", fmt.Errorf("unknown tier %q", tierName)
	}
	return tier, nil
}

// withApp 创建组件、执行 fn，并在退出前等待后台下载完成
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// printResult 以 JSON 输出结构化结果，失败时返回非零退出码
func printResult(data interface{}, err error) error {
	result := service.OK(data)
	if err != nil {
		result = service.FromError(err)
	}
	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(out))
	if err != nil {
		return fmt.Errorf("%s", result.Message)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Println("Starting MusicAPI...")
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Printf("ERROR: %v", err)
		stop()
		os.Exit(1)
	}
}
