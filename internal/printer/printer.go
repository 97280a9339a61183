// Package printer renders task tickets as ESC/POS and sends them to a
// networked thermal printer over a raw TCP socket.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	appLog "taskprinter/internal/log"
)

// ErrDisabled is returned by a printer switched off in the configuration.
var ErrDisabled = errors.New("printer: disabled")

// Ticket is one printable task slip.
type Ticket struct {
	Title       string
	Description string
	Category    string
	// When is the occurrence instant, already in the display zone.
	When time.Time
}

// Printer sends tickets somewhere.
type Printer interface {
	Print(ctx context.Context, t Ticket) error
	TestPage(ctx context.Context) error
}

// Options configure a Network printer.
type Options struct {
	Host    string
	Port    int
	Timeout time.Duration
	// Width is the line width in characters at normal size.
	Width   int
	Enabled bool
}

// Network writes ESC/POS jobs to host:port, one connection per job.
type Network struct {
	opts Options
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewNetwork(opts Options) *Network {
	if opts.Port <= 0 {
		opts.Port = 9100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Width <= 0 {
		opts.Width = 32
	}
	d := &net.Dialer{Timeout: opts.Timeout}
	return &Network{opts: opts, dial: d.DialContext}
}

// Addr returns the printer's host:port.
func (n *Network) Addr() string {
	return net.JoinHostPort(n.opts.Host, strconv.Itoa(n.opts.Port))
}

// Print renders and sends one ticket.
func (n *Network) Print(ctx context.Context, t Ticket) error {
	return n.send(ctx, Encode(t, n.opts.Width))
}

// TestPage prints a short slip confirming the printer is reachable.
func (n *Network) TestPage(ctx context.Context) error {
	return n.send(ctx, Encode(Ticket{
		Title:       "Test print",
		Description: "If you can read this, the printer is connected.",
		When:        time.Now(),
	}, n.opts.Width))
}

func (n *Network) send(ctx context.Context, job []byte) error {
	if !n.opts.Enabled {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	conn, err := n.dial(ctx, "tcp", n.Addr())
	if err != nil {
		return fmt.Errorf("connecting to printer %s: %w", n.Addr(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(job); err != nil {
		return fmt.Errorf("writing to printer %s: %w", n.Addr(), err)
	}

	appLog.Debug("printer: job sent", "addr", n.Addr(), "bytes", len(job))
	return nil
}

var (
	cmdInit         = []byte{0x1b, '@'}
	cmdAlignLeft    = []byte{0x1b, 'a', 0}
	cmdAlignCenter  = []byte{0x1b, 'a', 1}
	cmdBoldOn       = []byte{0x1b, 'E', 1}
	cmdBoldOff      = []byte{0x1b, 'E', 0}
	cmdDoubleSize   = []byte{0x1d, '!', 0x11}
	cmdNormalSize   = []byte{0x1d, '!', 0x00}
	cmdFeedAndCut   = []byte{0x1b, 'd', 4, 0x1d, 'V', 0}
	ticketFooter    = "[TaskPrinter]"
	ticketTimestamp = "Mon 02 Jan 2006 15:04"
)

// Encode renders a ticket as an ESC/POS byte stream. The title is printed
// at double size, so it wraps at half the width.
func Encode(t Ticket, width int) []byte {
	var b bytes.Buffer
	b.Write(cmdInit)

	b.Write(cmdAlignCenter)
	b.Write(cmdBoldOn)
	b.Write(cmdDoubleSize)
	writeLines(&b, t.Title, width/2)
	b.Write(cmdNormalSize)
	b.Write(cmdBoldOff)

	if t.Category != "" {
		writeLines(&b, strings.ToUpper(strings.ReplaceAll(t.Category, "_", " ")), width)
	}
	b.WriteString(strings.Repeat("-", width) + "\n")

	b.Write(cmdAlignLeft)
	if !t.When.IsZero() {
		writeLines(&b, "When: "+t.When.Format(ticketTimestamp), width)
	}
	if d := strings.TrimSpace(t.Description); d != "" {
		b.WriteString("\n")
		writeLines(&b, d, width)
	}

	b.WriteString("\n")
	b.Write(cmdAlignCenter)
	b.WriteString(ticketFooter + "\n")
	b.Write(cmdFeedAndCut)
	return b.Bytes()
}

// writeLines word-wraps s to width, hard-wrapping words that do not fit.
func writeLines(b *bytes.Buffer, s string, width int) {
	if width < 1 {
		width = 1
	}
	b.WriteString(wrap.String(wordwrap.String(s, width), width))
	b.WriteString("\n")
}
