package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/config"
	"github.com/John-Robertt/blockagg/internal/domain"
)

func newListServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x.com\n# c\ny.com\n"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("y.com\nz.com\n"))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "blockagg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	return p
}

func TestCLI_Run_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	srv := newListServer(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf(`sources:
  - %s/a
  - %s/down
  - %s/b
output: out/ads_list.txt
publish_dir: ""
report: report.json
log:
  level: error
`, srv.URL, srv.URL, srv.URL))

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", cfg}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("期望退出码 0（单源失败不致命），实际 %d\nstderr=%s", code, stderr.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Summary.Sources != 3 || rr.Summary.Failed != 1 || rr.Summary.Entries != 3 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if !strings.Contains(stderr.String(), "完成：sources=3 succeeded=2 failed=1 entries=3") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	b, err := os.ReadFile(filepath.Join(dir, "out", "ads_list.txt"))
	if err != nil {
		t.Fatalf("读取产物失败：%v", err)
	}
	if string(b) != "x.com\ny.com\nz.com\n" {
		t.Fatalf("产物内容不正确：%q", string(b))
	}

	rb, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("读取 report 失败：%v", err)
	}
	var fromFile domain.RunReport
	if err := json.Unmarshal(rb, &fromFile); err != nil {
		t.Fatalf("report 不是合法 JSON：%v", err)
	}
	if fromFile.RunID != rr.RunID {
		t.Fatalf("report 文件与 stdout 不一致：%q vs %q", fromFile.RunID, rr.RunID)
	}
}

func TestCLI_Run_CLIOverridesConfig(t *testing.T) {
	srv := newListServer(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf("sources: [%s/a]\noutput: from-config.txt\nlog: {level: error}\n", srv.URL))
	out := filepath.Join(dir, "from-cli.txt")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", cfg, "--output", out, "--publish-dir=", "--concurrency", "1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("--output 应覆盖配置：%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "from-config.txt")); !os.IsNotExist(err) {
		t.Fatalf("不应写到配置中的 output：err=%v", err)
	}
}

func TestCLI_Run_ConfigNotFoundExit1(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("配置错误也应输出 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Publish.ErrorCode != config.ErrCodeNotFound {
		t.Fatalf("error_code 不正确：%+v", rr.Publish)
	}
}

func TestCLI_Run_NoSourcesExit1(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "links.txt"), []byte("# 只有注释\n\n"), 0o644); err != nil {
		t.Fatalf("写入源列表失败：%v", err)
	}
	cfg := writeConfig(t, dir, "publish_dir: \"\"\n")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", cfg}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), config.ErrCodeNoSources) {
		t.Fatalf("stderr 应包含 no_sources：%q", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "ads_list.txt")); !os.IsNotExist(err) {
		t.Fatalf("没有源时不应发布空产物：err=%v", err)
	}
}

func TestCLI_Run_PublishFailureExit1(t *testing.T) {
	srv := newListServer(t)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "ads_list.txt"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	cfg := writeConfig(t, dir, fmt.Sprintf("sources: [%s/a]\npublish_dir: \"\"\nlog: {level: error}\n", srv.URL))

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", cfg}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v", err)
	}
	if rr.Publish.ErrorCode != domain.ErrCodePublishFailed {
		t.Fatalf("error_code 不正确：%+v", rr.Publish)
	}
}

func TestCLI_ArgumentErrorsExit2(t *testing.T) {
	cases := [][]string{
		{"run", "--no-such-flag"},
		{"run", "extra-arg"},
		{"frobnicate"},
		{"run", "--concurrency", "many"},
	}
	for _, args := range cases {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := execute(context.Background(), args, &stdout, &stderr); code != 2 {
				t.Fatalf("期望退出码 2，实际 %d\nstderr=%s", code, stderr.String())
			}
		})
	}
}

func TestCLI_Watch_RunsOnceAndExitsOnCancel(t *testing.T) {
	srv := newListServer(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf("sources: [%s/a]\npublish_dir: \"\"\nlog: {level: error}\n", srv.URL))
	out := filepath.Join(dir, "ads_list.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, []string{"watch", "--config", cfg, "--interval", "0"}, &stdout, &stderr)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(out); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watch 未在期限内完成首次运行")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("期望退出码 0，实际 %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("取消后 watch 未退出")
	}
}

func waitForContent(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		if b, err := os.ReadFile(path); err == nil && string(b) == want {
			return
		}
		if time.Now().After(deadline) {
			b, _ := os.ReadFile(path)
			t.Fatalf("等待 %s 内容超时：want=%q got=%q", path, want, string(b))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCLI_Watch_FollowsChangedSourcesFile(t *testing.T) {
	srv := newListServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "ads_list.txt")
	writeList := func(name, url string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(url+"\n"), 0o644); err != nil {
			t.Fatalf("写入源列表失败：%v", err)
		}
	}
	writeList("first.txt", srv.URL+"/a")
	writeList("second.txt", srv.URL+"/b")
	cfgBody := "sources_file: %s\npublish_dir: \"\"\nlog: {level: error}\n"
	cfg := writeConfig(t, dir, fmt.Sprintf(cfgBody, "first.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, []string{"watch", "--config", cfg, "--interval", "0"}, &stdout, &stderr)
	}()

	waitForContent(t, out, "x.com\ny.com\n")

	// 配置改为监听 second.txt：触发重建，并切换监听对象。
	writeConfig(t, dir, fmt.Sprintf(cfgBody, "second.txt"))
	waitForContent(t, out, "y.com\nz.com\n")

	// 之后修改 second.txt 本身也必须触发重建。
	writeList("second.txt", srv.URL+"/a")
	waitForContent(t, out, "x.com\ny.com\n")

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("期望退出码 0，实际 %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("取消后 watch 未退出")
	}
}

func TestWatchTriggers_DebouncesFileChanges(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "links.txt")
	if err := os.WriteFile(links, []byte("https://a.example/list\n"), 0o644); err != nil {
		t.Fatalf("写入源列表失败：%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggers, err := watchTriggers(ctx, 0, 50*time.Millisecond, []string{links}, zap.NewNop())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 无关文件不触发。
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(links, []byte(fmt.Sprintf("https://a.example/list\n# %d\n", i)), 0o644); err != nil {
			t.Fatalf("写入失败：%v", err)
		}
	}

	select {
	case reason := <-triggers:
		if reason != reasonSourcesChanged {
			t.Fatalf("reason=%q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("源列表变化后未触发重建")
	}

	cancel()
	select {
	case _, ok := <-triggers:
		if ok {
			// 允许最多一个已合并的残留信号，随后必须关闭。
			if _, ok := <-triggers; ok {
				t.Fatalf("ctx 结束后 channel 应关闭")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ctx 结束后 channel 未关闭")
	}
}

func TestWatchTriggers_Interval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggers, err := watchTriggers(ctx, 30*time.Millisecond, watchDebounce, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	select {
	case reason := <-triggers:
		if reason != reasonInterval {
			t.Fatalf("reason=%q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("周期触发未发生")
	}
}
