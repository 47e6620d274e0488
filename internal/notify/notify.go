package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Notifier delivers an alert title and body somewhere a human will see it.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans out to every notifier and joins their failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Log writes alerts to the daemon log.
type Log struct{ Logger *zap.Logger }

func (l Log) Send(_ context.Context, title, text string) error {
	l.Logger.Info("alert_notification", zap.String("title", title), zap.String("text", text))
	return nil
}

// Build returns the daemon notifier: the log always, plus Slack and email
// when they are configured.
func Build(logger *zap.Logger, webhook string, smtp SMTP) Notifier {
	m := Multi{Log{Logger: logger}}
	if s := NewSlack(webhook); s != nil {
		m = append(m, s)
	}
	if e := NewEmail(smtp); e != nil {
		m = append(m, e)
	}
	return m
}
