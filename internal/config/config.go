package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/blockagg/internal/domain"
	"github.com/John-Robertt/blockagg/internal/infra/logx"
	"github.com/John-Robertt/blockagg/internal/source"
)

const (
	// ErrCodeNotFound 表示 --config 指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeSourcesNotFound 表示源列表文件不存在或无法读取。
	ErrCodeSourcesNotFound = "sources_not_found"
	// ErrCodeNoSources 表示合并后没有任何源 URL。
	ErrCodeNoSources = "no_sources"
)

const (
	DefaultFileName    = "blockagg.yaml"
	DefaultSourcesFile = "links.txt"
	DefaultOutput      = "ads_list.txt"
	// DefaultPublishDir 只在 Linux 上作为默认值；其它平台默认不移动。
	DefaultPublishDir = "/var/www/html"

	DefaultConcurrency    = 16
	MaxConcurrency        = 256
	DefaultTimeout        = 60 * time.Second
	DefaultRefreshTimeout = 10 * time.Minute
	DefaultNATSSubject    = "blockagg.published"
)

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --publish-dir="" 必须能覆盖配置中的 publish_dir。
type CLIArgs struct {
	ConfigPath string

	SourcesFile string
	Output      string

	PublishDir    string
	PublishDirSet bool

	Concurrency    int
	ConcurrencySet bool

	Timeout    time.Duration
	TimeoutSet bool

	NoRefresh bool
	Verbose   bool
}

// FileConfig 对应 blockagg.yaml 的解析结构。
type FileConfig struct {
	SourcesFile     string         `yaml:"sources_file"`
	Sources         []string       `yaml:"sources"`
	Output          string         `yaml:"output"`
	PublishDir      *string        `yaml:"publish_dir"`
	Concurrency     *int           `yaml:"concurrency"`
	Timeout         *string        `yaml:"timeout"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	Proxy           *ProxyConfig   `yaml:"proxy"`
	Refresh         *RefreshConfig `yaml:"refresh"`
	MetricsTextfile string         `yaml:"metrics_textfile"`
	Report          string         `yaml:"report"`
	Log             *LogConfig     `yaml:"log"`
}

type ProxyConfig struct {
	URL string `yaml:"url"`
}

type RefreshConfig struct {
	Command []string    `yaml:"command"`
	Timeout string      `yaml:"timeout"`
	NATS    *NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件（未读取则为空）。
	ConfigPath string

	SourcesFile string
	// Sources 是去重后、保持首次出现顺序的源列表（sources_file + 内联 sources）。
	Sources []domain.SourceURL

	Output     string
	PublishDir string

	// Concurrency 为 0 表示不限。
	Concurrency int
	// Timeout 为 0 表示不设单源超时。
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string

	RefreshCommand []string
	RefreshTimeout time.Duration
	NATSURL        string
	NATSSubject    string
	NoRefresh      bool

	MetricsTextfile string
	Report          string

	LogLevel  string
	LogFormat string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeSourcesNotFound:
		return fmt.Sprintf("%s：无法读取源列表文件 %q：%v", e.Code, e.Path, e.Err)
	case ErrCodeNoSources:
		return fmt.Sprintf("%s：没有任何源 URL（检查 %q 或 sources 字段）", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试读取 <cwd>/blockagg.yaml（可选）
//
// 相对路径（sources_file/output/report/metrics_textfile）以配置文件所在目录为基准；
// 没有配置文件时以 cwd 为基准。
//
// 覆盖优先级（固定）：CLI 显式值 > 配置文件 > 内置默认。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, DefaultFileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	base := cwdAbs
	if exists {
		base = filepath.Dir(cfgPath)
	} else {
		cfgPath = ""
	}

	eff, err := merge(cwdAbs, base, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}

	// 只有内联 sources 且未显式指定 sources_file 时，源列表文件才是可选的。
	fileOptional := len(fc.Sources) > 0 && strings.TrimSpace(fc.SourcesFile) == "" && strings.TrimSpace(cli.SourcesFile) == ""
	urls, err := collectSources(eff.SourcesFile, fc.Sources, fileOptional)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if len(urls) == 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeNoSources, Path: eff.SourcesFile}
	}
	eff.Sources = urls
	return eff, nil
}

func merge(cwdAbs, base string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// CLI 给出的相对路径以 cwd 为基准；配置文件里的相对路径以配置文件目录为基准。
	sourcesFile := absCleanFrom(base, firstNonEmpty(fc.SourcesFile, DefaultSourcesFile))
	if strings.TrimSpace(cli.SourcesFile) != "" {
		sourcesFile = absCleanFrom(cwdAbs, cli.SourcesFile)
	}
	output := absCleanFrom(base, firstNonEmpty(fc.Output, DefaultOutput))
	if strings.TrimSpace(cli.Output) != "" {
		output = absCleanFrom(cwdAbs, cli.Output)
	}

	publishDir := defaultPublishDir()
	if fc.PublishDir != nil {
		publishDir = strings.TrimSpace(*fc.PublishDir)
		if publishDir != "" {
			publishDir = absCleanFrom(base, publishDir)
		}
	}
	if cli.PublishDirSet {
		publishDir = strings.TrimSpace(cli.PublishDir)
		if publishDir != "" {
			publishDir = absCleanFrom(cwdAbs, publishDir)
		}
	}

	concurrency := DefaultConcurrency
	if fc.Concurrency != nil {
		concurrency = *fc.Concurrency
	}
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	// 0 表示不限；负数按 0 处理；超出上限截断。
	if concurrency < 0 {
		concurrency = 0
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	timeout := DefaultTimeout
	if fc.Timeout != nil {
		d, err := parseDuration(*fc.Timeout)
		if err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("timeout 无效：%w", err))
		}
		timeout = d
	}
	if cli.TimeoutSet {
		timeout = cli.Timeout
	}
	if timeout < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("timeout 不能为负数：%s", timeout))
	}

	if fc.MaxBodyBytes < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("max_body_bytes 不能为负数：%d", fc.MaxBodyBytes))
	}
	maxBody := fc.MaxBodyBytes
	if maxBody == 0 {
		maxBody = source.DefaultMaxBodyBytes
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("proxy.url 无效：%q", proxyURL))
		}
	}

	var (
		refreshCmd     []string
		refreshTimeout = DefaultRefreshTimeout
		natsURL        string
		natsSubject    = DefaultNATSSubject
	)
	if fc.Refresh != nil {
		refreshCmd = append([]string(nil), fc.Refresh.Command...)
		if len(refreshCmd) > 0 && strings.TrimSpace(refreshCmd[0]) == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("refresh.command 的程序名不能为空"))
		}
		if strings.TrimSpace(fc.Refresh.Timeout) != "" {
			d, err := parseDuration(fc.Refresh.Timeout)
			if err != nil || d <= 0 {
				return EffectiveConfig{}, invalid(fmt.Errorf("refresh.timeout 无效：%q", fc.Refresh.Timeout))
			}
			refreshTimeout = d
		}
		if fc.Refresh.NATS != nil {
			natsURL = strings.TrimSpace(fc.Refresh.NATS.URL)
			if s := strings.TrimSpace(fc.Refresh.NATS.Subject); s != "" {
				natsSubject = s
			}
			if natsURL != "" {
				u, err := url.Parse(natsURL)
				if err != nil || u.Scheme == "" || u.Host == "" {
					return EffectiveConfig{}, invalid(fmt.Errorf("refresh.nats.url 无效：%q", natsURL))
				}
			}
		}
	}

	logLevel, logFormat := "info", logx.FormatConsole
	if fc.Log != nil {
		logLevel = firstNonEmpty(fc.Log.Level, logLevel)
		logFormat = firstNonEmpty(fc.Log.Format, logFormat)
	}
	if cli.Verbose {
		logLevel = "debug"
	}
	if _, err := logx.ParseLevel(logLevel); err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	switch logFormat {
	case logx.FormatConsole, logx.FormatJSON:
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("log.format 只能是 console 或 json，实际是 %q", logFormat))
	}

	eff := EffectiveConfig{
		ConfigPath:     cfgPath,
		SourcesFile:    sourcesFile,
		Output:         output,
		PublishDir:     publishDir,
		Concurrency:    concurrency,
		Timeout:        timeout,
		MaxBodyBytes:   maxBody,
		ProxyURL:       proxyURL,
		RefreshCommand: refreshCmd,
		RefreshTimeout: refreshTimeout,
		NATSURL:        natsURL,
		NATSSubject:    natsSubject,
		NoRefresh:      cli.NoRefresh,
		LogLevel:       logLevel,
		LogFormat:      logFormat,
	}
	if s := strings.TrimSpace(fc.MetricsTextfile); s != "" {
		eff.MetricsTextfile = absCleanFrom(base, s)
	}
	if s := strings.TrimSpace(fc.Report); s != "" {
		eff.Report = absCleanFrom(base, s)
	}
	return eff, nil
}

func defaultPublishDir() string {
	if runtime.GOOS == "linux" {
		return DefaultPublishDir
	}
	return ""
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
