package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/config"
	"github.com/John-Robertt/blockagg/internal/infra/logx"
)

const (
	defaultWatchInterval = 6 * time.Hour
	watchDebounce        = 500 * time.Millisecond
)

const (
	reasonInterval       = "interval"
	reasonSourcesChanged = "sources_changed"
)

func newWatchCmd(f *cliFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "立即运行一次，然后按周期或在源列表变化时重建",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := loadConfig(cmd, f)
			if err != nil {
				emitConfigError(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
				return exitCode(1)
			}
			log, err := logx.NewWithWriter(eff.LogLevel, eff.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "初始化日志失败：%v\n", err)
				return exitCode(1)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watched := watchedFiles(eff)
			wctx, wcancel := context.WithCancel(ctx)
			defer func() { wcancel() }()
			triggers, err := watchTriggers(wctx, interval, watchDebounce, watched, log)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "初始化文件监听失败：%v\n", err)
				return exitCode(1)
			}

			log.Info("watch 已启动", zap.Duration("interval", interval), zap.Strings("files", watched))
			runOnce(ctx, eff, log, cmd.OutOrStdout(), cmd.ErrOrStderr())

			for {
				reason, ok := <-triggers
				if !ok {
					break
				}
				log.Info("触发重建", zap.String("reason", reason))
				// 每次重建都重新读取配置与源列表，是一次完整运行。
				next, err := loadConfig(cmd, f)
				if err != nil {
					log.Error("重新读取配置失败，跳过本次重建", zap.Error(err))
					continue
				}

				// sources_file 变了：换成监听新的文件集合。
				if files := watchedFiles(next); !slices.Equal(files, watched) {
					nctx, ncancel := context.WithCancel(ctx)
					nt, err := watchTriggers(nctx, interval, watchDebounce, files, log)
					if err != nil {
						ncancel()
						log.Warn("更新文件监听失败，继续使用原有监听", zap.Strings("files", files), zap.Error(err))
					} else {
						wcancel()
						wcancel, triggers, watched = ncancel, nt, files
						log.Info("文件监听已更新", zap.Strings("files", watched))
					}
				}

				runOnce(ctx, next, log, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}
			log.Info("watch 已退出")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "周期重建间隔（0 表示只在源列表变化时重建）")
	return cmd
}

// watchedFiles 是需要监听的文件：源列表与（若有）配置文件。
func watchedFiles(eff config.EffectiveConfig) []string {
	files := []string{eff.SourcesFile}
	if eff.ConfigPath != "" {
		files = append(files, eff.ConfigPath)
	}
	return files
}

// watchTriggers 把定时器与文件变化合并为一个“需要重建”的信号流。
//
// 监听的是文件所在目录（编辑器常用“写临时文件再 rename”的方式保存）；
// 同一文件的连续事件在 debounce 内合并为一次。未被消费的信号会被合并，不会堆积。
// ctx 结束后 channel 关闭。
func watchTriggers(ctx context.Context, interval, debounceDelay time.Duration, files []string, log *zap.Logger) (<-chan string, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(files))
	dirs := make(map[string]bool, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		names[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("监听目录 %q 失败：%w", dir, err)
		}
		dirs[dir] = true
	}

	out := make(chan string, 1)
	send := func(reason string) {
		select {
		case out <- reason:
		default:
		}
	}

	go func() {
		defer close(out)
		defer fsw.Close()

		var tick <-chan time.Time
		if interval > 0 {
			t := time.NewTicker(interval)
			defer t.Stop()
			tick = t.C
		}

		var (
			timer    *time.Timer
			debounce <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				send(reasonInterval)
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !names[filepath.Clean(ev.Name)] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				log.Debug("源列表文件变化", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
				if timer == nil {
					timer = time.NewTimer(debounceDelay)
				} else {
					timer.Reset(debounceDelay)
				}
				debounce = timer.C
			case <-debounce:
				debounce = nil
				send(reasonSourcesChanged)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("文件监听错误", zap.Error(err))
			}
		}
	}()
	return out, nil
}
