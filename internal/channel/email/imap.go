package email

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/soyeahso/chanhub/internal/config"
)

const (
	imapDialTimeout = 15 * time.Second
	imapCmdTimeout  = time.Minute
	maxBodyBytes    = 64 << 10
)

type imapMailbox struct {
	addr     string
	host     string
	useTLS   bool
	mailbox  string
	username string
	password string
}

func newIMAPMailbox(cfg config.EmailConfig) *imapMailbox {
	useTLS := cfg.IMAPUseTLS == nil || *cfg.IMAPUseTLS
	port := cfg.IMAPPort
	if port == 0 {
		port = 143
		if useTLS {
			port = 993
		}
	}
	box := cfg.Mailbox
	if box == "" {
		box = defaultMailbox
	}
	return &imapMailbox{
		addr:     net.JoinHostPort(cfg.IMAPHost, strconv.Itoa(port)),
		host:     cfg.IMAPHost,
		useTLS:   useTLS,
		mailbox:  box,
		username: cfg.Username,
		password: cfg.Password,
	}
}

func (b *imapMailbox) connect(ctx context.Context) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: imapDialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if b.useTLS {
		c, err = client.DialWithDialerTLS(dialer, b.addr, &tls.Config{ServerName: b.host})
	} else {
		c, err = client.DialWithDialer(dialer, b.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", b.addr, err)
	}
	c.Timeout = imapCmdTimeout

	if err := c.Login(b.username, b.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

func (b *imapMailbox) Ping(ctx context.Context) error {
	c, err := b.connect(ctx)
	if err != nil {
		return err
	}
	return c.Logout()
}

func (b *imapMailbox) FetchUnseen(ctx context.Context) ([]inboundMail, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(b.mailbox, false); err != nil {
		return nil, fmt.Errorf("select %s: %w", b.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var mails []inboundMail
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		m, ok := toInbound(msg, section)
		if ok {
			mails = append(mails, m)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Mark seen only after a complete fetch so nothing is lost on error.
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	return mails, nil
}

func toInbound(msg *imap.Message, section *imap.BodySectionName) (inboundMail, bool) {
	if msg == nil || msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return inboundMail{}, false
	}
	m := inboundMail{
		ID:      strings.Trim(msg.Envelope.MessageId, "<>"),
		From:    msg.Envelope.From[0].Address(),
		Subject: msg.Envelope.Subject,
	}
	if m.ID == "" {
		m.ID = "uid-" + strconv.FormatUint(uint64(msg.Uid), 10)
	}
	if body := msg.GetBody(section); body != nil {
		if text, err := plainText(body); err == nil {
			m.Body = text
		}
	}
	return m, true
}

// plainText extracts the first text/plain part of an RFC 5322 message.
func plainText(r io.Reader) (string, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return "", err
	}
	return partText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
}

// decodeBody undoes the transfer encoding of a message or part body.
// multipart.Reader already decodes quoted-printable parts and drops the header.
func decodeBody(encoding string, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	default:
		return body
	}
}

func partText(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Missing or broken Content-Type means text/plain.
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			text, err := partText(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}
	if mediaType != "text/plain" {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(decodeBody(encoding, body), maxBodyBytes))
	if err != nil {
		return "", err
	}
	return stripQuoted(string(data)), nil
}

// stripQuoted drops quoted reply lines and trims the result.
func stripQuoted(text string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
