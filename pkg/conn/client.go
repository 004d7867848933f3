// Package conn owns the TCP connection to a MUD server: one goroutine reads
// and decodes the telnet stream into lines, one goroutine serializes every
// write. Connect and Disconnect are idempotent and safe to race.
package conn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"

	"github.com/crystal-mush/mudrelay/pkg/telnet"
)

// LineListener receives every decoded, sanitized line, including empty ones.
type LineListener func(line string)

// DisconnectListener is called once per disconnect with the reason.
type DisconnectListener func(reason string)

// ConnectListener is called with the remote address once a connection is up,
// before the first byte is read.
type ConnectListener func(addr string)

// MessageListener receives GMCP messages. data is nil for messages without
// a JSON part.
type MessageListener func(name string, data []byte)

// Options configures a Client. The zero value is usable.
type Options struct {
	// Encoding is the server's text charset; nil passes bytes through as UTF-8.
	Encoding encoding.Encoding
	// TerminalType and Identity are announced during negotiation.
	TerminalType string
	Identity     telnet.Identity
	// InputSanitizer cleans outbound lines. Defaults to SanitizeInput.
	InputSanitizer func(string) string
	// OutputSanitizer cleans inbound lines. Defaults to SanitizeOutput.
	OutputSanitizer func(string) string
	// QueueSize bounds pending writes. Defaults to 256.
	QueueSize int
	// MaxLineLength forces a line break on runaway input. Defaults to 64 KiB.
	MaxLineLength int
	// WriteTimeout bounds each socket write; zero means no deadline.
	WriteTimeout time.Duration
	Metrics      *Metrics
}

// Client is a telnet connection to one server at a time.
type Client struct {
	opts Options

	// link is non-nil exactly while connected. Connect installs it with a
	// compare-and-swap from nil; whoever swaps it back to nil tears it down.
	link atomic.Pointer[link]

	mu           sync.Mutex
	onLine       LineListener
	onConnect    ConnectListener
	onDisconnect DisconnectListener
	onMessage    MessageListener

	bytesIn, bytesOut atomic.Uint64
	linesIn, linesOut atomic.Uint64
}

// Stats are cumulative traffic counters for a Client across connections.
type Stats struct {
	BytesReceived uint64
	BytesSent     uint64
	LinesReceived uint64
	LinesSent     uint64
}

// link bundles everything that lives exactly as long as one connection.
type link struct {
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	codec *codec
	queue chan []byte
	done  chan struct{}
	addr  string
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	if opts.InputSanitizer == nil {
		opts.InputSanitizer = SanitizeInput
	}
	if opts.OutputSanitizer == nil {
		opts.OutputSanitizer = SanitizeOutput
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = 64 * 1024
	}
	return &Client{opts: opts}
}

// SetLineListener sets the inbound line callback.
func (c *Client) SetLineListener(fn LineListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = fn
}

// SetConnectListener sets the connect callback.
func (c *Client) SetConnectListener(fn ConnectListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// SetDisconnectListener sets the disconnect callback.
func (c *Client) SetDisconnectListener(fn DisconnectListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// SetMessageListener sets the GMCP message callback.
func (c *Client) SetMessageListener(fn MessageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// IsConnected reports whether a connection is currently up.
func (c *Client) IsConnected() bool {
	return c.link.Load() != nil
}

// Stats returns the client's traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		BytesReceived: c.bytesIn.Load(),
		BytesSent:     c.bytesOut.Load(),
		LinesReceived: c.linesIn.Load(),
		LinesSent:     c.linesOut.Load(),
	}
}

// RemoteAddr returns the address of the current connection, or "".
func (c *Client) RemoteAddr() string {
	if l := c.link.Load(); l != nil {
		return l.addr
	}
	return ""
}

// Connect dials host:port. It is a no-op when already connected. The
// connection state only changes once the socket is up, so a failed dial
// leaves the client disconnected.
func (c *Client) Connect(ctx context.Context, host string, port int, timeout time.Duration) error {
	if c.IsConnected() {
		return nil
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Addr: addr, Cause: err}
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	l := &link{
		conn:  nc,
		r:     bufio.NewReaderSize(nc, 4096),
		w:     bufio.NewWriter(nc),
		codec: newCodec(c.opts.Encoding),
		queue: make(chan []byte, c.opts.QueueSize),
		done:  make(chan struct{}),
		addr:  addr,
	}
	if !c.link.CompareAndSwap(nil, l) {
		// Lost a race with another Connect.
		nc.Close()
		return nil
	}
	c.opts.Metrics.onConnect()
	log.Info().Str("module", "conn").Str("addr", addr).Msg("connected")

	c.mu.Lock()
	fn := c.onConnect
	c.mu.Unlock()
	if fn != nil {
		fn(addr)
	}

	go c.writeLoop(l)
	go c.readLoop(l)
	return nil
}

// Disconnect closes the connection if there is one. Only the first of any
// number of concurrent calls does the work and notifies the listener.
func (c *Client) Disconnect(reason string) {
	if l := c.link.Swap(nil); l != nil {
		c.teardown(l, causeCaller, reason)
	}
}

// drop disconnects l if it is still the current link. The read and write
// loops use this so a stale loop can never tear down a newer connection.
func (c *Client) drop(l *link, cause, reason string) {
	if c.link.CompareAndSwap(l, nil) {
		c.teardown(l, cause, reason)
	}
}

func (c *Client) teardown(l *link, cause, reason string) {
	close(l.done)
	_ = l.conn.Close()
	c.opts.Metrics.onDisconnect(cause)
	log.Info().Str("module", "conn").Str("addr", l.addr).Str("reason", reason).Msg("disconnected")

	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// SendLines queues lines for the server as a single ordered write. It fails
// immediately with ErrNotConnected when there is no connection.
func (c *Client) SendLines(lines ...string) error {
	l := c.link.Load()
	if l == nil {
		return ErrNotConnected
	}
	var buf []byte
	for _, line := range lines {
		buf = appendEscaped(buf, l.codec.encode(c.opts.InputSanitizer(line)))
		buf = append(buf, '\r', '\n')
	}
	if err := l.enqueue(buf); err != nil {
		return err
	}
	c.linesOut.Add(uint64(len(lines)))
	c.opts.Metrics.queued(len(lines))
	return nil
}

// appendEscaped appends p to dst, doubling IAC so data bytes of 255 are not
// read as commands by the server.
func appendEscaped(dst, p []byte) []byte {
	for _, b := range p {
		if b == telnet.IAC {
			dst = append(dst, telnet.IAC)
		}
		dst = append(dst, b)
	}
	return dst
}

func (l *link) enqueue(b []byte) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.queue <- b:
		return nil
	case <-l.done:
		return ErrNotConnected
	}
}

// replyWriter feeds decoder negotiation replies into the write queue so they
// are ordered with application lines.
type replyWriter struct{ l *link }

func (w replyWriter) Write(p []byte) (int, error) {
	if err := w.l.enqueue(append([]byte(nil), p...)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Client) writeLoop(l *link) {
	for {
		select {
		case <-l.done:
			return
		case buf := <-l.queue:
			if c.opts.WriteTimeout > 0 {
				_ = l.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			}
			_, err := l.w.Write(buf)
			if err == nil {
				err = l.w.Flush()
			}
			if err != nil {
				c.drop(l, causeWrite, writeReason(err))
				return
			}
			c.bytesOut.Add(uint64(len(buf)))
			c.opts.Metrics.sent(len(buf))
		}
	}
}

func (c *Client) readLoop(l *link) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "conn").Interface("panic", r).Msg("read loop failed")
			c.drop(l, causePanic, panicReason(r))
		}
	}()

	dec := telnet.NewDecoder(replyWriter{l}, telnet.Config{
		TerminalType: c.opts.TerminalType,
		Identity:     c.opts.Identity,
		OnMessage:    func(payload []byte) { c.dispatchMessage(l, payload) },
	})
	line := make([]byte, 0, 256)
	// split is set after a forced break so the line's own LF does not
	// dispatch an extra empty line.
	split := false
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.drop(l, causeEOF, ReasonEOF)
			} else {
				c.drop(l, causeIO, ioReason(err))
			}
			return
		}
		// Bytes still buffered after a disconnect belong to a dead link.
		if l.closed() {
			return
		}
		c.bytesIn.Add(1)
		c.opts.Metrics.received(1)
		for _, p := range dec.Accept(b) {
			if p == '\n' {
				if split && (len(line) == 0 || len(line) == 1 && line[0] == '\r') {
					split = false
					line = line[:0]
					continue
				}
			} else {
				if p != '\r' {
					split = false
				}
				line = append(line, p)
				if len(line) < c.opts.MaxLineLength || p == '\r' {
					continue
				}
				split = true
			}
			c.dispatchLine(l, line)
			line = line[:0]
		}
	}
}

// closed reports whether l has been torn down.
func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (c *Client) dispatchLine(l *link, raw []byte) {
	if l.closed() {
		return
	}
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}
	text := c.opts.OutputSanitizer(l.codec.decode(raw))
	c.linesIn.Add(1)
	c.opts.Metrics.line()

	c.mu.Lock()
	fn := c.onLine
	c.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (c *Client) dispatchMessage(l *link, payload []byte) {
	if l.closed() {
		return
	}
	name, data := telnet.ParseGMCPMessage(payload)
	if data != nil {
		data = append([]byte(nil), data...)
	}
	c.opts.Metrics.message(name)
	log.Debug().Str("module", "conn").Str("gmcp", name).Int("bytes", len(data)).Msg("message")

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(name, data)
	}
}
