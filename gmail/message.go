package gmail

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"google.golang.org/api/gmail/v1"

	"github.com/bassamadnan/delivnotify/mailbox"
)

func parseMessage(msg *gmail.Message) (mailbox.RawEmail, error) {
	email := mailbox.RawEmail{ID: msg.Id, Subject: mailbox.NoSubject}
	if msg.Payload == nil {
		return email, nil
	}
	if s, ok := header(msg.Payload.Headers, "Subject"); ok {
		email.Subject = s
	}
	body, err := plainTextBody(msg.Payload)
	if err != nil {
		return email, err
	}
	email.Body = strings.TrimSpace(body)
	return email, nil
}

func header(headers []*gmail.MessagePartHeader, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// plainTextBody returns the first text/plain part of a multipart payload,
// searching nested multiparts depth-first, or the body of a single-part
// payload.
func plainTextBody(payload *gmail.MessagePart) (string, error) {
	if len(payload.Parts) > 0 {
		part := findPlainText(payload.Parts)
		if part == nil {
			return "", nil
		}
		return decodePart(part)
	}
	if payload.Body == nil || payload.Body.Data == "" {
		return "", nil
	}
	return decodePart(payload)
}

func findPlainText(parts []*gmail.MessagePart) *gmail.MessagePart {
	for _, p := range parts {
		if strings.EqualFold(p.MimeType, "text/plain") && p.Body != nil && p.Body.Data != "" {
			return p
		}
		if len(p.Parts) > 0 {
			if found := findPlainText(p.Parts); found != nil {
				return found
			}
		}
	}
	return nil
}

func decodePart(part *gmail.MessagePart) (string, error) {
	// Gmail sends base64url; padding is not guaranteed.
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "="))
	if err != nil {
		return "", fmt.Errorf("decoding %s body: %w", part.MimeType, err)
	}
	charset := ""
	if ct, ok := header(part.Headers, "Content-Type"); ok {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			charset = params["charset"]
		}
	}
	return toUTF8(raw, charset), nil
}

// toUTF8 converts raw from the declared charset. Bytes are returned as is
// when the charset is unknown or the conversion only produces garbage.
func toUTF8(raw []byte, charset string) string {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "us-ascii":
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil || !utf8.Valid(out) {
		return string(raw)
	}
	if utf8.Valid(raw) && strings.ContainsRune(string(out), utf8.RuneError) {
		return string(raw)
	}
	return string(out)
}
