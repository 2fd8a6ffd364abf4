package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"opsdiag/internal/domain"
)

const defaultIMAPPort = "993"

type IMAPOptions struct {
	Host         string
	Username     string
	Password     string
	Folder       string
	LookbackDays int
	MaxItems     int
}

// IMAPSource reads recent messages from a mailbox without marking them seen.
type IMAPSource struct {
	opts IMAPOptions
	now  func() time.Time
}

func NewIMAPSource(opts IMAPOptions) (*IMAPSource, error) {
	if opts.Host == "" || opts.Username == "" || opts.Password == "" {
		return nil, errors.New("imap mode: host, username and password are required")
	}
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 14
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 200
	}
	return &IMAPSource{opts: opts, now: time.Now}, nil
}

func (s *IMAPSource) Fetch(ctx context.Context) ([]domain.InboundItem, error) {
	addr := s.opts.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultIMAPPort)
	}

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	// go-imap has no context support; drop the connection on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(s.opts.Username, s.opts.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(s.opts.Folder, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", s.opts.Folder, err)
	}

	now := s.now()
	criteria := imap.NewSearchCriteria()
	criteria.Since = now.AddDate(0, 0, -s.opts.LookbackDays)
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}
	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] < seqNums[j] })
	if len(seqNums) > s.opts.MaxItems {
		seqNums = seqNums[len(seqNums)-s.opts.MaxItems:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	raw := make(map[uint32][]byte, len(seqNums))
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			continue
		}
		raw[msg.SeqNum] = data
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	items := make([]domain.InboundItem, 0, len(raw))
	for idx, seq := range seqNums {
		data, ok := raw[seq]
		if !ok {
			continue
		}
		item, err := parseMessage(data)
		if err != nil {
			continue
		}
		item.ID = fmt.Sprintf("imap-%d", idx+1)
		items = append(items, item)
	}

	sortNewestFirst(items, now)
	if len(items) > s.opts.MaxItems {
		items = items[:s.opts.MaxItems]
	}
	return items, nil
}

// parseMessage decodes an RFC 5322 message into an item without an ID.
func parseMessage(raw []byte) (domain.InboundItem, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.InboundItem{}, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	item := domain.InboundItem{Source: ModeIMAP}
	if subject, err := mr.Header.Subject(); err == nil {
		item.Subject = subject
	} else {
		item.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.Text("From"); err == nil {
		item.Sender = strings.TrimSpace(from)
	}
	if mr.Header.Get("Date") != "" {
		if ts, err := mr.Header.Date(); err == nil {
			item.Timestamp = &ts
		}
	}

	body, err := textBody(mr)
	if err != nil {
		return domain.InboundItem{}, err
	}
	item.Body = strings.TrimSpace(body)
	return item, nil
}

// textBody returns the first non-attachment text/plain part. A single-part
// message yields its body whatever its type.
func textBody(mr *mail.Reader) (string, error) {
	topType, _, _ := mime.ParseMediaType(mr.Header.Get("Content-Type"))
	multipart := strings.HasPrefix(topType, "multipart/")

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			return "", fmt.Errorf("read message part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct == "text/plain" || !multipart {
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("read message body: %w", err)
			}
			return string(data), nil
		}
	}
}
