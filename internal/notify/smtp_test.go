package notify

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apartment_finder/internal/config"
	"apartment_finder/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type receivedMail struct {
	from string
	rcpt []string
	data string
}

// serveOneMail accepts a single plain-text SMTP session on a loopback port.
func serveOneMail(t *testing.T) (int, <-chan receivedMail) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan receivedMail, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		var mail receivedMail
		_ = tp.PrintfLine("220 localhost ESMTP test")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch {
			case cmd == "EHLO" || cmd == "HELO":
				_ = tp.PrintfLine("250 localhost")
			case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM:"):
				mail.from = strings.Trim(line[len("MAIL FROM:"):], "<>")
				_ = tp.PrintfLine("250 OK")
			case strings.HasPrefix(strings.ToUpper(line), "RCPT TO:"):
				mail.rcpt = append(mail.rcpt, strings.Trim(line[len("RCPT TO:"):], "<>"))
				_ = tp.PrintfLine("250 OK")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				mail.data = string(data)
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				out <- mail
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, out
}

func TestSMTP_Send(t *testing.T) {
	port, received := serveOneMail(t)

	notifier := NewSMTP(config.SMTPConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "finder@example.com",
		To:      []string{"me@example.com", "partner@example.com"},
		Timeout: 5 * time.Second,
	}, testLogger())

	digest := domain.Digest{
		Subject: "Apartment finder: 1 new listing, 1 with laundry",
		Body:    "1 new listing, 1 with laundry\n\nIn-unit laundry\n$3,800 · 2 bed · 1 bath · 456 Lincoln Pl\n",
	}

	require.NoError(t, notifier.Send(context.Background(), digest))

	select {
	case mail := <-received:
		assert.Equal(t, "finder@example.com", mail.from)
		assert.Equal(t, []string{"me@example.com", "partner@example.com"}, mail.rcpt)
		assert.Contains(t, mail.data, "Subject: Apartment finder: 1 new listing, 1 with laundry\n")
		assert.Contains(t, mail.data, "$3,800 · 2 bed · 1 bath · 456 Lincoln Pl")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mail")
	}
}

func TestSMTP_SendConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	notifier := NewSMTP(config.SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second}, testLogger())
	err = notifier.Send(context.Background(), domain.Digest{Subject: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect 127.0.0.1:"+strconv.Itoa(port))
}

func TestSMTP_Message(t *testing.T) {
	notifier := NewSMTP(config.SMTPConfig{
		From: "finder@example.com",
		To:   []string{"me@example.com"},
	}, testLogger())
	notifier.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

	msg := string(notifier.message(domain.Digest{
		Subject: "Apartment finder: 2 new listings · Crown Heights",
		Body:    "line one\nline two\n",
	}))

	headers, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)

	tp := textproto.NewReader(bufio.NewReader(strings.NewReader(headers + "\r\n\r\n")))
	h, err := tp.ReadMIMEHeader()
	require.NoError(t, err)

	assert.Equal(t, "finder@example.com", h.Get("From"))
	assert.Equal(t, "me@example.com", h.Get("To"))
	assert.True(t, strings.HasPrefix(h.Get("Subject"), "=?utf-8?q?"))
	assert.Equal(t, "Fri, 01 Mar 2024 09:00:00 +0000", h.Get("Date"))
	assert.Equal(t, "line one\r\nline two\r\n", body)
}

func TestLog_Send(t *testing.T) {
	n := NewLog(testLogger())
	assert.NoError(t, n.Send(context.Background(), domain.Digest{RunID: uuid.New(), Subject: "s"}))
	assert.NoError(t, n.Close())
}
