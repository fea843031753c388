package queue

import (
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/storefront-auth/internal/model"
)

type recordingSink struct {
    got []MailRequestedEvent
    err error
}

func (r *recordingSink) Deliver(ev MailRequestedEvent) error {
    if r.err != nil {
        return r.err
    }
    r.got = append(r.got, ev)
    return nil
}

func TestNewMailEvent(t *testing.T) {
    at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
    ev := newMailEvent(model.MailMessage{
        To:       "a@x.com",
        Subject:  "Verify your email address",
        Template: model.TemplateEmailVerification,
        Data:     map[string]string{"code": "012345"},
    }, at)

    assert.NotEmpty(t, ev.ID)
    assert.Equal(t, "a@x.com", ev.To)
    assert.Equal(t, "2026-03-01T09:30:00Z", ev.RequestedAt)
    assert.Equal(t, "012345", ev.Data["code"])
}

func TestHandleMessage(t *testing.T) {
    sink := &recordingSink{}
    body, err := json.Marshal(MailRequestedEvent{ID: "m1", To: "a@x.com", Template: model.TemplateWelcome})
    require.NoError(t, err)

    require.NoError(t, handleMessage(sink, body))
    require.Len(t, sink.got, 1)
    assert.Equal(t, "m1", sink.got[0].ID)

    assert.Error(t, handleMessage(sink, []byte("{")))
    assert.Error(t, handleMessage(sink, []byte(`{"id":"m2"}`)))

    sink.err = errors.New("disk full")
    assert.Error(t, handleMessage(sink, body))
}

func TestFileSinkAppends(t *testing.T) {
    dir := filepath.Join(t.TempDir(), "logs")
    sink := FileSink{Dir: dir}
    ev := MailRequestedEvent{
        ID:          "m1",
        To:          "a@x.com",
        Subject:     "Your password reset code",
        Template:    model.TemplatePasswordReset,
        Data:        map[string]string{"ttlMinutes": "15", "code": "001122"},
        RequestedAt: "2026-03-01T09:30:00Z",
    }
    require.NoError(t, sink.Deliver(ev))
    require.NoError(t, sink.Deliver(ev))

    b, err := os.ReadFile(filepath.Join(dir, "mail.log"))
    require.NoError(t, err)
    lines := strings.Split(strings.TrimSpace(string(b)), "\n")
    require.Len(t, lines, 2)
    assert.Equal(t,
        `[2026-03-01T09:30:00Z] Mail sent | id=m1 | to=a@x.com | template=password_reset | subject="Your password reset code" | data={code="******" ttlMinutes="15"}`,
        lines[0])
    assert.NotContains(t, string(b), "001122")
}
