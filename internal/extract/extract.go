// Package extract turns a raw MIME email into a single normalized
// plaintext body suitable for pattern matching.
package extract

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// FromMessage parses a raw RFC 2822 message and returns one normalized
// text body. Attachments are skipped. A text/html part wins over
// text/plain because the provider's HTML bodies carry the labeled
// fields; the HTML is converted so that visual line structure survives
// for downstream regex matching. If the MIME structure cannot be parsed
// at all, the raw bytes are treated as a flat plain-text message, so
// extraction always yields a (possibly empty) string.
func FromMessage(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		return Normalize(decodeLossy(raw))
	}
	defer mr.Close()

	var htmlBody, plainBody string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		if part == nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			// Attachment parts never contribute body text.
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = decodeLossy(body)
		case strings.HasPrefix(contentType, "text/plain") && plainBody == "":
			plainBody = decodeLossy(body)
		}
	}

	if htmlBody != "" {
		return HTMLToText(htmlBody)
	}
	return Normalize(plainBody)
}

var (
	// lineBreakTags become newlines before tags are stripped so the
	// line structure the parser's label regexes depend on survives.
	lineBreakTags = regexp.MustCompile(
		`(?i)<br\s*/?>|</(?:p|div|li|tr|td|h[1-6]|table)>`,
	)
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
	styleBlocks     = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	horizontalSpace = regexp.MustCompile(`[ \t\x{00a0}\x{202f}]+`)
	blankLineRuns   = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText converts an HTML body to normalized plain text.
func HTMLToText(s string) string {
	s = styleBlocks.ReplaceAllString(s, "")
	s = lineBreakTags.ReplaceAllString(s, "\n")
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return Normalize(s)
}

// Normalize collapses runs of horizontal whitespace (including
// non-breaking and narrow no-break spaces) to single spaces, trims line
// ends, and collapses runs of blank lines.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")

	s = blankLineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// decodeLossy returns b as valid UTF-8. Invalid byte sequences are
// interpreted as Latin-1, which maps every byte to a rune and so never
// fails. Provider emails occasionally declare a charset they do not use.
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
