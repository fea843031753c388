package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/storefront-auth/internal/model"
)

// MailPublisher hands outbound mail to RabbitMQ.  Send returns only once the
// broker accepted the message, so callers can treat a nil error as "queued".
type MailPublisher struct {
    url string
    log *zap.Logger
}

func NewMailPublisher(url string, log *zap.Logger) *MailPublisher {
    return &MailPublisher{url: url, log: log}
}

// Send publishes msg as a persistent MailRequestedEvent on MailQueue.  A
// connection is opened per message; mail volume is a handful per sign-up.
func (p *MailPublisher) Send(ctx context.Context, msg model.MailMessage) error {
    ev := newMailEvent(msg, time.Now())
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("mail publish: marshal: %w", err)
    }

    conn, err := amqp.Dial(p.url)
    if err != nil {
        p.log.Warn("rabbitmq dial failed", zap.Error(err))
        return fmt.Errorf("mail publish: dial: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("mail publish: channel: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := declareMailQueue(ch); err != nil {
        return fmt.Errorf("mail publish: %w", err)
    }
    // Confirm mode so a nil error means the broker took ownership.
    if err := ch.Confirm(false); err != nil {
        return fmt.Errorf("mail publish: confirm mode: %w", err)
    }

    conf, err := ch.PublishWithDeferredConfirmWithContext(ctx,
        "",        // default exchange
        MailQueue, // routing key = queue name
        false,     // mandatory
        false,     // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            MessageId:    ev.ID,
            Timestamp:    time.Now().UTC(),
            Body:         body,
        })
    if err != nil {
        p.log.Warn("rabbitmq publish failed", zap.String("template", msg.Template), zap.Error(err))
        return fmt.Errorf("mail publish: %w", err)
    }
    acked, err := conf.WaitContext(ctx)
    if err != nil {
        return fmt.Errorf("mail publish: await confirm: %w", err)
    }
    if !acked {
        return fmt.Errorf("mail publish: broker nacked message %s", ev.ID)
    }
    p.log.Debug("mail queued", zap.String("id", ev.ID), zap.String("template", msg.Template))
    return nil
}

func declareMailQueue(ch *amqp.Channel) error {
    _, err := ch.QueueDeclare(
        MailQueue, // name
        true,      // durable
        false,     // autoDelete
        false,     // exclusive
        false,     // noWait
        nil,       // args
    )
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    return nil
}
