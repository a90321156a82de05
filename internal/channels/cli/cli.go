// Package cli implements the stdin/stdout channel used by interactive runs
// and tests. It exercises the full channel contract without a wire
// protocol.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/qhkm/zeptoclaw/internal/bus"
	"github.com/qhkm/zeptoclaw/internal/channels"
	"github.com/qhkm/zeptoclaw/pkg/models"
)

// ChatID is the single conversation the CLI channel carries.
const ChatID = "local"

// Channel reads lines from an input stream and prints agent replies.
type Channel struct {
	bus    *bus.Bus
	in     io.Reader
	out    io.Writer
	policy channels.AccessPolicy

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	pending chan string
}

// New creates a CLI channel on stdin/stdout.
func New(b *bus.Bus) *Channel {
	return &Channel{bus: b, in: os.Stdin, out: os.Stdout}
}

// NewWithStreams creates a CLI channel on explicit streams, for tests.
func NewWithStreams(b *bus.Bus, in io.Reader, out io.Writer) *Channel {
	return &Channel{bus: b, in: in, out: out}
}

func (c *Channel) Name() models.ChannelType {
	return models.ChannelCLI
}

func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.readLoop(runCtx)
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.intercept(line) {
			continue
		}
		c.bus.PublishInbound(models.InboundMessage{
			Channel:   c.Name(),
			SenderID:  "local",
			ChatID:    ChatID,
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, err := fmt.Fprintln(c.out, msg.Content)
	return err
}

func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Channel) IsAllowed(senderID string) bool {
	return c.policy.Allowed(senderID)
}
