package publish

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/domain"
	"github.com/John-Robertt/blockagg/internal/infra/fsx"
)

const (
	StageWrite    = "write"
	StageRelocate = "relocate"
)

// relocateSupported 决定是否执行“移动到发布目录”。
// 只在 Linux 上执行；测试可替换。
var relocateSupported = runtime.GOOS == "linux"

// Error 表示产物无法写出或移动；整轮运行因此失败。
type Error struct {
	Stage string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageRelocate:
		return fmt.Sprintf("移动产物到 %q 失败：%v", e.Path, e.Err)
	default:
		return fmt.Sprintf("写入产物 %q 失败：%v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Sort 把合并集合转换为按字节序升序的序列。
// 集合中不存在重复，因此结果是严格递增的。
func Sort(set domain.EntrySet) []domain.Entry {
	out := make([]domain.Entry, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode 按“一行一个条目”编码；每个条目后跟 '\n'，零条目编码为空。
func Encode(entries []domain.Entry) []byte {
	n := 0
	for _, e := range entries {
		n += len(e) + 1
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, e := range entries {
		buf.WriteString(string(e))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Target 描述产物写到哪里。
type Target struct {
	// Output 是产物文件路径（例如 ads_list.txt）。
	Output string
	// PublishDir 非空时，写出后把产物移动到该目录（仅 Linux）。
	PublishDir string
}

// Artifact 是已落盘的产物；Path 是最终位置（移动后即发布目录中的路径）。
type Artifact struct {
	Path      string
	Output    string
	Published string
	Entries   int
}

// Publish 写出产物，并按平台条件移动到发布目录。
//
// 写入或移动失败返回 *Error；非 Linux 上配置了 PublishDir 只记录错误日志并跳过移动。
func Publish(entries []domain.Entry, t Target, log *zap.Logger) (Artifact, error) {
	if log == nil {
		log = zap.NewNop()
	}

	out := filepath.Clean(strings.TrimSpace(t.Output))
	if out == "." || out == "" {
		return Artifact{}, &Error{Stage: StageWrite, Path: t.Output, Err: fmt.Errorf("输出路径为空")}
	}

	if err := fsx.WriteFileAtomic(filepath.Dir(out), filepath.Base(out), Encode(entries)); err != nil {
		return Artifact{}, &Error{Stage: StageWrite, Path: out, Err: err}
	}
	art := Artifact{Path: out, Output: out, Entries: len(entries)}
	log.Info("产物已写出", zap.String("path", out), zap.Int("entries", len(entries)))

	dir := strings.TrimSpace(t.PublishDir)
	if dir == "" {
		return art, nil
	}
	if !relocateSupported {
		log.Error("当前平台不是 Linux，跳过移动到发布目录", zap.String("publish_dir", dir), zap.String("os", runtime.GOOS))
		return art, nil
	}

	dst, err := fsx.MoveFile(out, dir)
	if err != nil {
		return art, &Error{Stage: StageRelocate, Path: dir, Err: err}
	}
	art.Path = dst
	art.Published = dst
	log.Info("产物已发布", zap.String("path", dst))
	return art, nil
}
