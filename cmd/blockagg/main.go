package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/app/aggregate"
	"github.com/John-Robertt/blockagg/internal/app/run"
	"github.com/John-Robertt/blockagg/internal/config"
	"github.com/John-Robertt/blockagg/internal/domain"
	"github.com/John-Robertt/blockagg/internal/infra/fsx"
	"github.com/John-Robertt/blockagg/internal/infra/logx"
)

// exitCode 让子命令把退出码交给 main，而不是在深处直接 os.Exit。
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ec exitCode
	if errors.As(err, &ec) {
		return int(ec)
	}
	fmt.Fprintf(stderr, "参数错误：%v\n\n使用 \"blockagg --help\" 查看详细说明。\n", err)
	return 2
}

// cliFlags 是 run/watch 共用的参数。
type cliFlags struct {
	configPath  string
	sourcesFile string
	output      string
	publishDir  string
	concurrency int
	timeout     time.Duration
	noRefresh   bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	root := &cobra.Command{
		Use:           "blockagg",
		Short:         "下载多个广告拦截列表，合并去重后发布为一个列表文件",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "配置文件路径（未指定则尝试 ./blockagg.yaml）")
	pf.StringVar(&f.sourcesFile, "sources", "", "源列表文件（每行一个 URL，默认 links.txt）")
	pf.StringVar(&f.output, "output", "", "产物文件路径（默认 ads_list.txt）")
	pf.StringVar(&f.publishDir, "publish-dir", "", "发布目录（仅 Linux；--publish-dir= 关闭移动）")
	pf.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, "同时下载的来源数（0 表示不限）")
	pf.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "单个来源的超时（0 表示不设）")
	pf.BoolVar(&f.noRefresh, "no-refresh", false, "发布后不触发下游刷新")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "输出 debug 日志")

	root.AddCommand(newRunCmd(f), newWatchCmd(f))
	return root
}

func newRunCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "执行一次完整的下载、合并与发布",
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

			if code := runOnce(cmd.Context(), eff, log, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command, f *cliFlags) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, &config.Error{Code: config.ErrCodeInvalid, Path: ".", Err: fmt.Errorf("读取当前目录失败：%w", err)}
	}
	flags := cmd.Flags()
	return config.LoadEffective(cwd, config.CLIArgs{
		ConfigPath:     f.configPath,
		SourcesFile:    f.sourcesFile,
		Output:         f.output,
		PublishDir:     f.publishDir,
		PublishDirSet:  flags.Changed("publish-dir"),
		Concurrency:    f.concurrency,
		ConcurrencySet: flags.Changed("concurrency"),
		Timeout:        f.timeout,
		TimeoutSet:     flags.Changed("timeout"),
		NoRefresh:      f.noRefresh,
		Verbose:        f.verbose,
	})
}

// runOnce 执行一次运行并输出报告；返回进程退出码。
func runOnce(ctx context.Context, eff config.EffectiveConfig, log *zap.Logger, stdout, stderr io.Writer) int {
	var obs aggregate.Observer
	if isTTY(stderr) {
		obs = newProgressUI(stderr, eff)
	}

	rr, err := run.Execute(ctx, eff, run.Deps{Logger: log, Observer: obs})

	if eff.Report != "" {
		if werr := writeReportFile(eff.Report, rr); werr != nil {
			fmt.Fprintf(stderr, "写入报告失败：%v\n", werr)
			emitReport(stdout, stderr, rr)
			return 1
		}
	}

	emitReport(stdout, stderr, rr)
	if err != nil {
		return 1
	}
	return 0
}

func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：sources=%d succeeded=%d failed=%d entries=%d publish=%s",
		rr.Summary.Sources, rr.Summary.Succeeded, rr.Summary.Failed, rr.Summary.Entries, rr.Publish.Status,
	)
	if isTTY(stdout) {
		fmt.Fprintln(stdout, summary)
		for _, s := range rr.Sources {
			if s.Status != domain.StatusFailed {
				continue
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", s.URL, s.ErrorCode, s.ErrorMsg)
		}
		if rr.Publish.Status == domain.StatusFailed {
			fmt.Fprintf(stderr, "publish %s: %s\n", rr.Publish.ErrorCode, rr.Publish.ErrorMsg)
		}
		for _, r := range rr.Publish.Refresh {
			if r.Status == domain.StatusFailed {
				fmt.Fprintf(stderr, "refresh %s %s: %s\n", r.Notifier, r.ErrorCode, r.ErrorMsg)
			}
		}
		if rr.Publish.Published != "" {
			fmt.Fprintf(stdout, "published: %s\n", rr.Publish.Published)
		} else if rr.Publish.Output != "" {
			fmt.Fprintf(stdout, "output: %s\n", rr.Publish.Output)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(stdout).Encode(rr)
	fmt.Fprintln(stderr, summary)
}

func emitConfigError(stdout, stderr io.Writer, err error) {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		Publish: domain.PublishReport{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		},
	}
	rr.Finalize()
	fmt.Fprintf(stderr, "配置错误：%v\n", err)
	emitReport(stdout, stderr, rr)
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
