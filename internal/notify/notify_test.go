package notify

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/blockagg/internal/domain"
)

type stubNotifier struct {
	name string
	err  error
	got  []Ready
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(ctx context.Context, r Ready) error {
	s.got = append(s.got, r)
	return s.err
}

func TestNotifyAll_FailureDoesNotStopOthers(t *testing.T) {
	a := &stubNotifier{name: "a", err: errors.New("exit 1")}
	b := &stubNotifier{name: "b"}

	reps := NotifyAll(context.Background(), []Notifier{a, b}, Ready{Path: "/var/www/html/ads_list.txt"})
	if len(reps) != 2 {
		t.Fatalf("期望 2 条结果，实际 %d", len(reps))
	}
	if reps[0].Status != domain.StatusFailed || reps[0].ErrorCode != domain.ErrCodeRefreshFailed || !strings.Contains(reps[0].ErrorMsg, "exit 1") {
		t.Fatalf("失败结果不正确：%+v", reps[0])
	}
	if reps[1].Status != domain.StatusOK || len(b.got) != 1 {
		t.Fatalf("后续 notifier 应继续执行：%+v", reps[1])
	}
}

// TestHelperProcess 不是真正的测试：它被 fakeCommand 作为子进程调用。
func TestHelperProcess(t *testing.T) {
	if os.Getenv("BLOCKAGG_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("BLOCKAGG_HELPER_MODE") {
	case "fail":
		os.Stderr.WriteString("gravity update failed")
		os.Exit(3)
	case "sleep":
		time.Sleep(10 * time.Second)
	}
	os.Exit(0)
}

func fakeCommand(t *testing.T, mode string) {
	t.Helper()
	old := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "BLOCKAGG_HELPER_PROCESS=1", "BLOCKAGG_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = old })
}

func TestCommand_Success(t *testing.T) {
	fakeCommand(t, "ok")
	if err := (Command{Argv: []string{"pihole", "-g"}}).Notify(context.Background(), Ready{}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
}

func TestCommand_FailureIncludesOutput(t *testing.T) {
	fakeCommand(t, "fail")
	err := (Command{Argv: []string{"pihole", "-g"}}).Notify(context.Background(), Ready{})
	if err == nil || !strings.Contains(err.Error(), "gravity update failed") {
		t.Fatalf("错误应包含命令输出：%v", err)
	}
}

func TestCommand_Timeout(t *testing.T) {
	fakeCommand(t, "sleep")
	started := time.Now()
	err := (Command{Argv: []string{"pihole", "-g"}, Timeout: 50 * time.Millisecond}).Notify(context.Background(), Ready{})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("期望超时错误，实际：%v", err)
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("超时未生效")
	}
}

func TestCommand_EmptyArgv(t *testing.T) {
	if err := (Command{}).Notify(context.Background(), Ready{}); err == nil {
		t.Fatalf("空命令期望错误")
	}
}

func TestNATS_UnreachableServerIsError(t *testing.T) {
	n := NATS{URL: "nats://127.0.0.1:1", Subject: "blockagg.published", Timeout: 200 * time.Millisecond}
	if err := n.Notify(context.Background(), Ready{}); err == nil {
		t.Fatalf("连接不可达的 NATS 期望错误")
	}
	if err := (NATS{}).Notify(context.Background(), Ready{}); err == nil {
		t.Fatalf("缺少 url/subject 期望错误")
	}
}
