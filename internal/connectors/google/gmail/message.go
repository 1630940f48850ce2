package gmail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers non UTF-8 decoders
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	"google.golang.org/api/gmail/v1"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// Headers kept on the stored message. The classifier reads the bulk ones.
var keptHeaders = []string{
	"List-Unsubscribe",
	"List-Id",
	"Precedence",
	"Auto-Submitted",
	"X-Auto-Response-Suppress",
	"Reply-To",
	"Message-Id",
	"In-Reply-To",
}

var (
	stripPolicy = bluemonday.StrictPolicy()

	blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6]|table)>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// ParseMessage converts a Gmail message fetched with Format("raw") into a
// domain message. msg.Raw holds the base64url-encoded RFC 5322 message.
func ParseMessage(msg *gmail.Message, accountID string) (*domain.Message, error) {
	if msg == nil || msg.Id == "" {
		return nil, fmt.Errorf("%w: empty gmail message", domain.ErrInvalidInput)
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw message %s: %w", msg.Id, err)
	}

	m := &domain.Message{
		ID:        msg.Id,
		AccountID: accountID,
		ThreadID:  msg.ThreadId,
		Snippet:   html.UnescapeString(msg.Snippet),
		LabelIDs:  msg.LabelIds,
		Headers:   map[string]string{},
	}
	if msg.InternalDate > 0 {
		m.SentAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	parseRaw(raw, m)
	m.HasAttachments = len(m.Attachments) > 0
	return m, nil
}

func decodeRaw(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// parseRaw fills headers, addresses, body and attachments. A message that
// cannot be parsed as MIME keeps its raw bytes as the body.
func parseRaw(raw []byte, m *domain.Message) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		m.BodyText = string(raw)
		return
	}
	defer mr.Close()

	readHeader(mr.Header, m)

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if part == nil || !message.IsUnknownCharset(err) {
				break
			}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			m.Attachments = append(m.Attachments, domain.Attachment{
				Filename: filename,
				MIMEType: contentType,
				Size:     size,
			})
		}
	}

	if textBody != "" {
		m.BodyText = strings.TrimSpace(textBody)
	} else if htmlBody != "" {
		m.BodyText = HTMLToText(htmlBody)
	}
}

func readHeader(h mail.Header, m *domain.Message) {
	if subject, err := h.Subject(); err == nil {
		m.Subject = subject
	} else {
		m.Subject = h.Get("Subject")
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.From = domain.Address{Name: from[0].Name, Email: strings.ToLower(from[0].Address)}
	} else {
		m.From = domain.Address{Email: strings.TrimSpace(h.Get("From"))}
	}
	m.To = addressList(h, "To")
	m.Cc = addressList(h, "Cc")
	m.Bcc = addressList(h, "Bcc")

	if date, err := h.Date(); err == nil && !date.IsZero() {
		m.SentAt = date.UTC()
	}

	for _, name := range keptHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			m.Headers[domain.CanonicalHeader(name)] = v
		}
	}
}

func addressList(h mail.Header, key string) []domain.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]domain.Address, 0, len(list))
	for _, a := range list {
		out = append(out, domain.Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

// HTMLToText strips all markup from an HTML body, keeping line breaks
// at block boundaries.
func HTMLToText(s string) string {
	s = blockBreak.ReplaceAllString(s, "\n")
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}
