package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/qhkm/zeptoclaw/internal/approval"
)

// RequestApproval implements approval.Prompter on the CLI channel: the
// question prints to the channel output and the next input line answers it,
// intercepted ahead of normal message dispatch.
func (c *Channel) RequestApproval(ctx context.Context, req approval.Request) (bool, error) {
	args := req.Arguments
	if len(args) > 120 {
		args = args[:120] + "..."
	}
	fmt.Fprintf(c.out, "Allow tool %q with arguments %s? [y/N] ", req.ToolName, args)

	answer := make(chan string, 1)
	c.mu.Lock()
	c.pending = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	select {
	case line := <-answer:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// intercept hands a line to a pending approval prompt, if one is waiting.
func (c *Channel) intercept(line string) bool {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return false
	}
	select {
	case pending <- line:
		return true
	default:
		return false
	}
}
