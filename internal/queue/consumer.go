package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// MailSink receives mail the worker pulled off the queue.
type MailSink interface {
    Deliver(ev MailRequestedEvent) error
}

// FileSink appends one line per email to Dir/mail.log.  It stands in for a
// real SMTP relay in development.
type FileSink struct {
    Dir string
}

func (s FileSink) Deliver(ev MailRequestedEvent) error {
    if err := os.MkdirAll(s.Dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", s.Dir, err)
    }
    f, err := os.OpenFile(filepath.Join(s.Dir, "mail.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open mail log: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatMail(ev)); err != nil {
        return fmt.Errorf("write mail log: %w", err)
    }
    return nil
}

// secretKeys are data fields redeemable by whoever reads the log.
var secretKeys = map[string]bool{"code": true}

func formatMail(ev MailRequestedEvent) string {
    keys := make([]string, 0, len(ev.Data))
    for k := range ev.Data {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    pairs := make([]string, 0, len(keys))
    for _, k := range keys {
        v := ev.Data[k]
        if secretKeys[k] {
            v = strings.Repeat("*", len(v))
        }
        pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
    }
    return fmt.Sprintf("[%s] Mail sent | id=%s | to=%s | template=%s | subject=%q | data={%s}\n",
        ev.RequestedAt, ev.ID, ev.To, ev.Template, ev.Subject, strings.Join(pairs, " "))
}

// StartMailConsumer drains MailQueue into sink until ctx is cancelled.  The
// broker connection is re-dialled with exponential backoff when it drops.
// Messages that cannot be decoded or delivered are rejected without requeue.
func StartMailConsumer(ctx context.Context, url string, sink MailSink, log *zap.Logger) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("mail-consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, sink, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("mail-consumer: consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sink MailSink, log *zap.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("mail-consumer: set QoS failed", zap.Error(err))
    }
    if err := declareMailQueue(ch); err != nil {
        return err
    }
    msgs, err := ch.ConsumeWithContext(ctx, MailQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := handleMessage(sink, d.Body); err != nil {
            log.Error("mail-consumer: handle message failed", zap.String("message_id", d.MessageId), zap.Error(err))
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

func handleMessage(sink MailSink, body []byte) error {
    var ev MailRequestedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.To == "" || ev.Template == "" {
        return errors.New("mail event missing recipient or template")
    }
    return sink.Deliver(ev)
}
