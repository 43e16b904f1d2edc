package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	logx "tickd/pkg/logx"
)

type recordingMailer struct {
	sends []sentMail
}

type sentMail struct {
	text string
	msg  Message
}

func (m *recordingMailer) SendRaw(ctx context.Context, text string, msg Message) error {
	m.sends = append(m.sends, sentMail{text: text, msg: msg})
	return nil
}

func writeOutput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write output file: %v", err)
	}
	return path
}

func TestEmailOutputDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := &recordingMailer{}
	path := writeOutput(t, "backup finished\n")

	err := EmailOutput(ctx, m, path, "Nightly Backup", []string{"ops@example.com"}, false)
	if err != nil {
		t.Fatalf("EmailOutput error: %v", err)
	}
	if len(m.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(m.sends))
	}
	got := m.sends[0]
	if got.text != "backup finished\n" {
		t.Fatalf("body = %q", got.text)
	}
	if got.msg.Subject != "Nightly Backup" {
		t.Fatalf("subject = %q", got.msg.Subject)
	}
	if len(got.msg.To) != 1 || got.msg.To[0] != "ops@example.com" {
		t.Fatalf("recipients = %v", got.msg.To)
	}
}

func TestEmailOutputOnlyIfOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty file is a no-op", func(t *testing.T) {
		m := &recordingMailer{}
		path := writeOutput(t, "  \n")
		if err := EmailOutput(ctx, m, path, "s", []string{"a@x.com"}, true); err != nil {
			t.Fatalf("EmailOutput error: %v", err)
		}
		if len(m.sends) != 0 {
			t.Fatalf("sends = %d, want 0", len(m.sends))
		}
	})

	t.Run("missing file is a no-op", func(t *testing.T) {
		m := &recordingMailer{}
		path := filepath.Join(t.TempDir(), "never-written.log")
		if err := EmailOutput(ctx, m, path, "s", []string{"a@x.com"}, true); err != nil {
			t.Fatalf("EmailOutput error: %v", err)
		}
		if len(m.sends) != 0 {
			t.Fatalf("sends = %d, want 0", len(m.sends))
		}
	})

	t.Run("non-empty file dispatches once", func(t *testing.T) {
		m := &recordingMailer{}
		path := writeOutput(t, "content")
		if err := EmailOutput(ctx, m, path, "s", []string{"a@x.com"}, true); err != nil {
			t.Fatalf("EmailOutput error: %v", err)
		}
		if len(m.sends) != 1 {
			t.Fatalf("sends = %d, want 1", len(m.sends))
		}
	})
}

func TestEmailOutputMissingFileIsError(t *testing.T) {
	t.Parallel()
	m := &recordingMailer{}
	path := filepath.Join(t.TempDir(), "never-written.log")
	if err := EmailOutput(context.Background(), m, path, "s", []string{"a@x.com"}, false); err == nil {
		t.Fatal("unreadable output without only-if-output must be an error")
	}
	if len(m.sends) != 0 {
		t.Fatal("no mail may be sent when the read fails")
	}
}

func TestEmailOutputValidation(t *testing.T) {
	t.Parallel()
	path := writeOutput(t, "x")
	if err := EmailOutput(context.Background(), nil, path, "s", []string{"a@x.com"}, false); err == nil {
		t.Fatal("nil mailer should error")
	}
	if err := EmailOutput(context.Background(), &recordingMailer{}, path, "s", nil, false); err == nil {
		t.Fatal("no recipients should error")
	}
}

func TestPingerGet(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits.Add(1)
		}
	}))
	defer srv.Close()

	p := NewPinger(logx.Nop())
	p.Ping(context.Background(), srv.URL)
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestPingerFailureDoesNotPanic(t *testing.T) {
	t.Parallel()
	p := NewPinger(logx.Nop())
	// Unreachable target and invalid URL both only log.
	p.Ping(context.Background(), "http://127.0.0.1:1/ping")
	p.Ping(context.Background(), "://bad-url")
}
