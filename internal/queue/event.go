// Package queue carries outbound mail over RabbitMQ: the publisher used by
// the auth service and the worker that drains the queue.
package queue

import (
    "time"

    "github.com/google/uuid"

    "github.com/iliyamo/storefront-auth/internal/model"
)

// MailQueue is the durable queue outbound mail is published to.
const MailQueue = "mail.outbound"

// MailRequestedEvent is the message body on MailQueue.  It is everything the
// mail worker needs to render and send one email.
type MailRequestedEvent struct {
    ID          string            `json:"id"`
    To          string            `json:"to"`
    Subject     string            `json:"subject"`
    Template    string            `json:"template"`
    Data        map[string]string `json:"data,omitempty"`
    RequestedAt string            `json:"requested_at"`
}

func newMailEvent(msg model.MailMessage, now time.Time) MailRequestedEvent {
    return MailRequestedEvent{
        ID:          uuid.NewString(),
        To:          msg.To,
        Subject:     msg.Subject,
        Template:    msg.Template,
        Data:        msg.Data,
        RequestedAt: now.UTC().Format(time.RFC3339),
    }
}
