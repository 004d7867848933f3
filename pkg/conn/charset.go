package conn

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// LookupEncoding resolves an IANA charset name. UTF-8 (and the empty name)
// resolve to nil, meaning bytes are passed through untouched.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// codec converts between wire bytes and strings for one connection.
type codec struct {
	enc encoding.Encoding
	dec *encoding.Decoder
}

func newCodec(enc encoding.Encoding) *codec {
	c := &codec{enc: enc}
	if enc != nil {
		c.dec = enc.NewDecoder()
	}
	return c
}

// decode converts a received line. Only the read path calls it.
func (c *codec) decode(b []byte) string {
	if c.dec == nil {
		return string(b)
	}
	s, err := c.dec.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// encode converts an outbound line, substituting characters the charset
// cannot represent. Safe for concurrent use.
func (c *codec) encode(s string) []byte {
	if c.enc == nil {
		return []byte(s)
	}
	b, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}
