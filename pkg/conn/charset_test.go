package conn

import (
	"bytes"
	"testing"
)

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf8"} {
		enc, err := LookupEncoding(name)
		if err != nil || enc != nil {
			t.Errorf("LookupEncoding(%q) = %v, %v; want nil, nil", name, enc, err)
		}
	}
	for _, name := range []string{"ISO-8859-1", "windows-1252", "IBM437"} {
		enc, err := LookupEncoding(name)
		if err != nil || enc == nil {
			t.Errorf("LookupEncoding(%q) = %v, %v", name, enc, err)
		}
	}
	if _, err := LookupEncoding("klingon-9"); err == nil {
		t.Error("expected error for unknown charset")
	}
}

func TestCodecReplacesUnsupported(t *testing.T) {
	enc, err := LookupEncoding("ISO-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	c := newCodec(enc)
	got := c.encode("a☕b")
	if !bytes.Equal(got, []byte("a\x1ab")) {
		t.Errorf("encode = %q", got)
	}
	if s := c.decode([]byte{'n', 0xe9}); s != "né" {
		t.Errorf("decode = %q", s)
	}
}

func TestCodecPassthrough(t *testing.T) {
	c := newCodec(nil)
	if s := c.decode([]byte("AB\xff")); s != "AB\xff" {
		t.Errorf("decode = %q", s)
	}
	if b := c.encode("é"); string(b) != "é" {
		t.Errorf("encode = %q", b)
	}
}
