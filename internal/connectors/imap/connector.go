package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"pharmatrack/internal"
	"pharmatrack/internal/config"
	"pharmatrack/internal/connectors"
)

const providerName = "imap"

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	mailbox  string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	mailbox := strings.TrimSpace(cfg.IMAPMailbox)
	if mailbox == "" {
		mailbox = "INBOX"
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		mailbox:  mailbox,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

func (c *Connector) Open(ctx context.Context) (connectors.MailSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if c.secure {
		conn = tls.Client(conn, &tls.Config{ServerName: c.host})
	}

	// Closing the connection unblocks the greeting, LOGIN and SELECT when ctx
	// ends first.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	client, err := c.login(conn)
	if !stop() {
		return nil, fmt.Errorf("imap open %s: %w", addr, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &session{client: client, markSeen: c.markSeen}, nil
}

func (c *Connector) login(conn net.Conn) (*imapclient.Client, error) {
	client, err := imapclient.New(conn)
	if err != nil {
		return nil, fmt.Errorf("imap greeting: %w", err)
	}
	if err := client.Login(c.user, c.password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select(c.mailbox, false); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap select %s: %w", c.mailbox, err)
	}
	return client, nil
}

type session struct {
	client   *imapclient.Client
	markSeen bool
}

// Search matches the subject header. Results keep the server's UID order.
func (s *session) Search(ctx context.Context, subject string) ([]internal.MessageRef, error) {
	criteria := imap.NewSearchCriteria()
	if strings.TrimSpace(subject) != "" {
		criteria.Header.Add("Subject", subject)
	}

	uids, err := withContext(ctx, s.client, func() ([]uint32, error) {
		return s.client.UidSearch(criteria)
	})
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}

	messages, err := withContext(ctx, s.client, func() ([]*imap.Message, error) {
		return s.fetch(seqset, items)
	})
	if err != nil {
		return nil, err
	}

	byUID := make(map[uint32]*imap.Message, len(messages))
	for _, m := range messages {
		byUID[m.Uid] = m
	}

	refs := make([]internal.MessageRef, 0, len(uids))
	for _, uid := range uids {
		m, ok := byUID[uid]
		if !ok {
			continue
		}
		ref := internal.MessageRef{Provider: providerName, UID: uid, ID: fmt.Sprintf("%d", uid)}
		if m.Envelope != nil {
			ref.MessageID = m.Envelope.MessageId
			ref.Subject = m.Envelope.Subject
			ref.From = formatAddresses(m.Envelope.From)
			ref.Date = m.Envelope.Date
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *session) Fetch(ctx context.Context, ref internal.MessageRef) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ref.UID)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages, err := withContext(ctx, s.client, func() ([]*imap.Message, error) {
		return s.fetch(seqset, items)
	})
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if body := m.GetBody(section); body != nil {
			return io.ReadAll(body)
		}
	}
	return nil, fmt.Errorf("imap uid %d: empty body", ref.UID)
}

// MarkSeen flags the message \Seen when IMAP_MARK_SEEN is enabled.
func (s *session) MarkSeen(ctx context.Context, ref internal.MessageRef) error {
	if !s.markSeen {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ref.UID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	_, err := withContext(ctx, s.client, func() (struct{}, error) {
		return struct{}{}, s.client.UidStore(seqset, item, flags, nil)
	})
	return err
}

func (s *session) Logout() error {
	return s.client.Logout()
}

func (s *session) fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 16)
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- s.client.UidFetch(seqset, items, messages) }()

	var out []*imap.Message
	for msg := range messages {
		if msg != nil {
			out = append(out, msg)
		}
	}
	if err := <-fetchDone; err != nil {
		return nil, err
	}
	return out, nil
}

// withContext runs a blocking IMAP command and aborts the connection when
// ctx ends first; go-imap v1 commands take no context.
func withContext[T any](ctx context.Context, client *imapclient.Client, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		_ = client.Terminate()
		var zero T
		return zero, errors.Join(ctx.Err(), errors.New("imap connection closed"))
	}
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
