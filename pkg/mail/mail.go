package mail

import (
	"crypto/tls"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/metrics"
)

type Sender interface {
	Send(m *Message) error
	GetHost() string
	GetPort() int
}

type sender struct {
	dialer         *gomail.Dialer
	senderAddress  string
	senderName     string
	threadDomain   string
	varySubjects   bool
	retryCount     int
	retryBackoffMs int
	log            *zap.SugaredLogger
}

// NewSender creates an SMTP sender from the mail configuration. Unset values
// fall back to the same defaults as config.Defaults.
func NewSender(cfg config.Mail, log *zap.SugaredLogger) Sender {
	log = log.Named("sender")
	log.Infow("Initializing new mail sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly configured
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@owners.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Owners"
	}
	threadDomain := cfg.ThreadDomain
	if threadDomain == "" {
		threadDomain = "owners.local"
	}

	retryCount := cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	log.Debugw("Retry configuration", "count", retryCount, "initialBackoffMs", retryBackoffMs)

	return &sender{
		dialer:         d,
		senderAddress:  senderAddr,
		senderName:     senderName,
		threadDomain:   threadDomain,
		varySubjects:   cfg.VarySubjects,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		log:            log,
	}
}

func (s *sender) Send(m *Message) error {
	receivers := m.Recipients()
	if len(receivers) == 0 {
		return fmt.Errorf("mail %s has no deliverable recipients", m.ID)
	}
	msg := s.build(m)
	s.log.Debugw("Preparing to send mail", "id", m.ID, "receivers", len(receivers), "subject", msg.GetHeader("Subject"))

	var lastErr error
	backoffMs := s.retryBackoffMs

	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(msg)
		if err == nil {
			s.log.Infow("Mail sent", "id", m.ID, "receivers", len(receivers), "attempt", attempt+1)
			metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
			return nil
		}

		lastErr = err
		if attempt < s.retryCount {
			s.log.Warnw("Send attempt failed, retrying", "id", m.ID, "attempt", attempt+1, "error", err, "backoffMs", backoffMs)
			time.Sleep(time.Duration(backoffMs) * time.Millisecond)
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000))
		} else {
			s.log.Errorw("Failed to send mail", "id", m.ID, "attempts", s.retryCount+1, "error", err)
		}
	}

	metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
	return lastErr
}

// build renders m into a gomail message including threading headers.
func (s *sender) build(m *Message) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", m.Recipients()...)

	subject := m.Subject
	if s.varySubjects && m.VarySubject != "" {
		subject = m.VarySubject
	}
	msg.SetHeader("Subject", subject)

	if m.ReplyTo != "" {
		msg.SetHeader("Reply-To", m.ReplyTo)
	}
	if m.ThreadID != "" {
		ref := fmt.Sprintf("<%s@%s>", m.ThreadID, s.threadDomain)
		if m.IsFirstMessage {
			msg.SetHeader("Message-ID", ref)
		} else {
			msg.SetHeader("In-Reply-To", ref)
			msg.SetHeader("References", ref)
		}
	}
	if m.IsBulk {
		msg.SetHeader("Precedence", "bulk")
	}
	if m.RelatedID != "" {
		msg.SetHeader("X-Owners-Related", m.RelatedID)
	}
	if m.From != "" {
		msg.SetHeader("X-Owners-Sender", m.From)
	}
	// custom headers go last so they can override the ones above
	names := make([]string, 0, len(m.Headers))
	for name := range m.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		msg.SetHeader(name, m.Headers[name])
	}

	msg.SetBody("text/plain", m.Body)
	return msg
}

func (s *sender) GetHost() string {
	return s.dialer.Host
}

func (s *sender) GetPort() int {
	return s.dialer.Port
}
