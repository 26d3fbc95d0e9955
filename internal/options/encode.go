package options

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when percent-decoding yields bytes that are not
// UTF-8, which decodeURIComponent rejects with a URIError.
var ErrInvalidUTF8 = errors.New("percent-encoded bytes are not valid UTF-8")

const upperhex = "0123456789ABCDEF"

// EncodeURIComponent percent-encodes s the way browsers do for a URI
// component: everything except A-Z a-z 0-9 and - _ . ! ~ * ' ( ) is escaped
// byte by byte from its UTF-8 form. url.QueryEscape differs (space becomes
// '+', and ! ' ( ) * are escaped), which the configuration pages do not expect.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// DecodeURIComponent reverses EncodeURIComponent. A '+' is left as is.
func DecodeURIComponent(s string) (string, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", ErrInvalidUTF8
	}
	return decoded, nil
}

// ConfigURL appends the encoded options document to the page URL as its
// single query parameter.
func ConfigURL(pageURL string, doc []byte) string {
	return pageURL + "?" + EncodeURIComponent(string(doc))
}
