package config

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// ParseSources 解析换行分隔的源列表。
//
// 每个非空行是一个 URL；以 '#' 开头的行是注释；重复 URL 只保留首次出现。
func ParseSources(r io.Reader) ([]domain.SourceURL, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return dedupSources(nil, lines), nil
}

// ReadSources 读取源列表文件。
func ReadSources(path string) ([]domain.SourceURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSources(f)
}

func collectSources(path string, inline []string, fileOptional bool) ([]domain.SourceURL, error) {
	urls, err := ReadSources(path)
	if err != nil {
		if !(fileOptional && os.IsNotExist(err)) {
			return nil, &Error{Code: ErrCodeSourcesNotFound, Path: path, Err: err}
		}
		urls = nil
	}
	return dedupSources(urls, inline), nil
}

func dedupSources(base []domain.SourceURL, lines []string) []domain.SourceURL {
	seen := make(map[domain.SourceURL]struct{}, len(base)+len(lines))
	out := make([]domain.SourceURL, 0, len(base)+len(lines))
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "#") {
			return
		}
		u := domain.SourceURL(s)
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range base {
		add(string(u))
	}
	for _, l := range lines {
		add(l)
	}
	return out
}
