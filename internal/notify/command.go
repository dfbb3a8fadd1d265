package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// 通过可替换的函数指针，让测试不依赖真实的下游命令。
var commandContext = exec.CommandContext

// Command 执行一个外部刷新命令（例如 pihole -g）。
//
// 命令的形状由配置决定；这里只负责执行、超时与收集输出。
type Command struct {
	Argv    []string
	Timeout time.Duration
}

func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return "command"
	}
	return "command:" + c.Argv[0]
}

func (c Command) Notify(ctx context.Context, r Ready) error {
	if len(c.Argv) == 0 || strings.TrimSpace(c.Argv[0]) == "" {
		return errors.New("命令为空")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := commandContext(ctx, c.Argv[0], c.Argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s 超时或被取消：%w", strings.Join(c.Argv, " "), ctx.Err())
		}
		return fmt.Errorf("%s：%w；输出：%s", strings.Join(c.Argv, " "), err, tail(out.String(), 512))
	}
	return nil
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
