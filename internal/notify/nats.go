package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS 把“产物就绪”消息发布到一个 subject，供下游订阅后自行刷新。
type NATS struct {
	URL     string
	Subject string
	Timeout time.Duration
}

func (n NATS) Name() string { return "nats:" + n.Subject }

func (n NATS) Notify(ctx context.Context, r Ready) error {
	if n.URL == "" || n.Subject == "" {
		return errors.New("nats url/subject 不能为空")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	nc, err := nats.Connect(n.URL,
		nats.Name("blockagg"),
		nats.Timeout(timeout),
		nats.NoReconnect(),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := nc.Publish(n.Subject, data); err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return nc.FlushWithContext(fctx)
}
