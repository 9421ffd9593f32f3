package mail

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/owners"
	"github.com/telekom/owners-notify/pkg/system"
)

func TestNewSender(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Mail
	}{
		{
			name: "Basic mail configuration",
			cfg: config.Mail{
				Host:          "smtp.example.com",
				Port:          587,
				User:          "test@example.com",
				Password:      "password123",
				SenderAddress: "noreply@example.com",
				SenderName:    "Test Sender",
			},
		},
		{
			name: "InsecureSkipVerify",
			cfg: config.Mail{
				Host:               "smtp.internal.com",
				Port:               25,
				InsecureSkipVerify: true,
			},
		},
		{
			name: "Minimal configuration with defaults",
			cfg:  config.Mail{Host: "smtp.minimal.com", Port: 25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(tt.cfg, system.NewTestLogger())
			require.NotNil(t, s)
			assert.Equal(t, tt.cfg.Host, s.GetHost())
			assert.Equal(t, tt.cfg.Port, s.GetPort())
		})
	}
}

func TestSender_BuildHeaders(t *testing.T) {
	newSender := func(vary bool) *sender {
		return NewSender(config.Mail{
			Host:          "smtp.example.com",
			Port:          25,
			SenderAddress: "owners@code.example.com",
			SenderName:    "Owners",
			ThreadDomain:  "code.example.com",
			VarySubjects:  vary,
		}, system.NewTestLogger()).(*sender)
	}
	message := func(first bool) *Message {
		m := NewMessage(nil).SetThreadID("package-P1", first).AddHeader(HeaderThreadTopic, "package P1")
		m.Subject = "[Package] Core"
		m.VarySubject = "[Package] [Changed] Core"
		m.From = "U3"
		m.RelatedID = "P1"
		m.IsBulk = true
		m.ReplyTo = "reply@code.example.com"
		m.Body = "body"
		m.To = []owners.Handle{{ID: "U1", Email: "u1@example.com"}, {ID: "U2", Email: "u2@example.com"}}
		return m
	}

	t.Run("first message opens the thread", func(t *testing.T) {
		msg := newSender(false).build(message(true))
		assert.Equal(t, []string{"<package-P1@code.example.com>"}, msg.GetHeader("Message-ID"))
		assert.Empty(t, msg.GetHeader("In-Reply-To"))
		assert.Equal(t, []string{"[Package] Core"}, msg.GetHeader("Subject"))
		assert.Equal(t, []string{"u1@example.com", "u2@example.com"}, msg.GetHeader("To"))
		assert.Equal(t, []string{"package P1"}, msg.GetHeader(HeaderThreadTopic))
		assert.Equal(t, []string{"bulk"}, msg.GetHeader("Precedence"))
		assert.Equal(t, []string{"P1"}, msg.GetHeader("X-Owners-Related"))
		assert.Equal(t, []string{"U3"}, msg.GetHeader("X-Owners-Sender"))
		assert.Equal(t, []string{"reply@code.example.com"}, msg.GetHeader("Reply-To"))
	})

	t.Run("reply references the thread", func(t *testing.T) {
		msg := newSender(false).build(message(false))
		assert.Empty(t, msg.GetHeader("Message-ID"))
		assert.Equal(t, []string{"<package-P1@code.example.com>"}, msg.GetHeader("In-Reply-To"))
		assert.Equal(t, []string{"<package-P1@code.example.com>"}, msg.GetHeader("References"))
	})

	t.Run("vary subjects", func(t *testing.T) {
		msg := newSender(true).build(message(false))
		assert.Equal(t, []string{"[Package] [Changed] Core"}, msg.GetHeader("Subject"))
	})
}

func TestSender_SendNoRecipients(t *testing.T) {
	s := NewSender(config.Mail{Host: "localhost", Port: 1025}, system.NewTestLogger())
	err := s.Send(testMessage("No Recipients"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no deliverable recipients")
}

func TestSender_SendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := NewSender(config.Mail{Host: "127.0.0.1", Port: port, RetryCount: 1, RetryBackoffMs: 1}, system.NewTestLogger())
	assert.Error(t, s.Send(testMessage("Hello", "recipient@example.com")))
}

// startTestSMTPServer starts a minimal SMTP server on a random port that
// accepts one message and records its DATA section.
func startTestSMTPServer(t *testing.T) (host string, port int, data func() string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		buf strings.Builder
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		_, _ = fmt.Fprintf(conn, "220 localhost Test SMTP Service Ready\r\n")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				_, _ = fmt.Fprintf(conn, "250-localhost Hello\r\n250 OK\r\n")
			case strings.HasPrefix(line, "DATA"):
				_, _ = fmt.Fprintf(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
				for {
					dline, derr := r.ReadString('\n')
					if derr != nil || strings.TrimSpace(dline) == "." {
						break
					}
					mu.Lock()
					buf.WriteString(dline)
					mu.Unlock()
				}
				_, _ = fmt.Fprintf(conn, "250 OK: queued as 12345\r\n")
			case strings.HasPrefix(line, "QUIT"):
				_, _ = fmt.Fprintf(conn, "221 Bye\r\n")
				return
			default:
				_, _ = fmt.Fprintf(conn, "250 OK\r\n")
			}
		}
	}()

	data = func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
	stop = func() {
		_ = ln.Close()
		wg.Wait()
	}
	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, data, stop
}

func TestSender_Send_HappyPath(t *testing.T) {
	host, port, data, stop := startTestSMTPServer(t)

	s := NewSender(config.Mail{
		Host:          host,
		Port:          port,
		SenderAddress: "owners@example.com",
		ThreadDomain:  "example.com",
	}, system.NewTestLogger())

	m := testMessage("[Package] Core", "recipient@example.com")
	m.SetThreadID("package-7", false)
	m.Body = "alice changed Core."

	require.NoError(t, s.Send(m), "expected Send to succeed against test SMTP server")
	stop()

	raw := data()
	assert.Contains(t, raw, "Subject: [Package] Core")
	assert.Contains(t, raw, "In-Reply-To: <package-7@example.com>")
	assert.Contains(t, raw, "alice changed Core.")
}
