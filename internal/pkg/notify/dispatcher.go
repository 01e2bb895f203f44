package notify

import (
	"context"
	"log/slog"

	"bookstore/internal/pkg/metrics"
	"bookstore/internal/pkg/queue"
)

// WelcomeSender 发送欢迎邮件。
type WelcomeSender interface {
	SendWelcome(ctx context.Context, name, email string) error
}

// Dispatcher 把邮件投递放到后台队列，注册请求不等待 SMTP。
type Dispatcher struct {
	queue  *queue.Queue
	sender WelcomeSender
	logger *slog.Logger
}

// NewDispatcher 创建 Dispatcher，并把队列指标接到 prometheus。
func NewDispatcher(q *queue.Queue, sender WelcomeSender, logger *slog.Logger) *Dispatcher {
	q.SetObserver(mailObserver{})
	return &Dispatcher{queue: q, sender: sender, logger: logger}
}

// Welcome 异步发送欢迎邮件，队列满时丢弃并记录。
func (d *Dispatcher) Welcome(name, email string) {
	ok := d.queue.Submit(queue.Task{
		Name: "welcome_mail",
		Run: func(ctx context.Context) error {
			return d.sender.SendWelcome(ctx, name, email)
		},
	})
	if !ok {
		metrics.MailJobsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("welcome mail not queued", slog.String("email", email))
	}
}

type mailObserver struct{}

func (mailObserver) TaskDone(_ string, err error) {
	if err != nil {
		metrics.MailJobsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.MailJobsTotal.WithLabelValues("sent").Inc()
}

func (mailObserver) Depth(n int) {
	metrics.MailQueueDepth.Set(float64(n))
}
