// Package console is the non-blocking single-character console input
// behind sys_cgetc: raw-mode terminal handling via golang.org/x/term and
// non-blocking key reads via github.com/eiannone/keyboard, the same pair
// an earlier status-register-polled keyboard input loop used
// (keyboard.GetSingleKey driving a memory-mapped status/data register
// pair), decoupled here into a background reader so a read never blocks.
package console

import (
	"os"

	"github.com/eiannone/keyboard"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Console owns the raw-mode terminal state restored on Close, plus the
// background reader that turns keyboard.GetSingleKey's blocking call into
// the non-blocking single-character read sys_cgetc needs.
type Console struct {
	log      *logrus.Logger
	oldState *term.State
	raw      bool
	keys     chan byte
	stop     chan struct{}
}

// Open puts stdin into raw mode if it is a terminal, so keystrokes arrive
// one at a time instead of line-buffered, opens the keyboard package's
// input hook, and starts the background reader goroutine.
func Open(log *logrus.Logger) (*Console, error) {
	c := &Console{log: log, keys: make(chan byte, 16), stop: make(chan struct{})}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		old, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		c.oldState = old
		c.raw = true
	}
	if err := keyboard.Open(); err != nil {
		if c.raw {
			_ = term.Restore(int(os.Stdin.Fd()), c.oldState)
		}
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// readLoop blocks on keyboard.GetSingleKey in a dedicated goroutine and
// forwards keystrokes to the buffered keys channel, so GetC never blocks
// the calling environment.
func (c *Console) readLoop() {
	for {
		ch, key, err := keyboard.GetSingleKey()
		select {
		case <-c.stop:
			return
		default:
		}
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).Debug("console: key read failed")
			}
			return
		}
		if key == keyboard.KeyCtrlC {
			continue
		}
		select {
		case c.keys <- byte(ch):
		default: // drop if nobody's reading fast enough
		}
	}
}

// Close restores the terminal to its original mode and stops the reader.
func (c *Console) Close() {
	close(c.stop)
	keyboard.Close()
	if c.raw {
		_ = term.Restore(int(os.Stdin.Fd()), c.oldState)
	}
}

// GetC is sys_cgetc: it returns the next waiting keystroke, or 0 if none
// has arrived yet.
func (c *Console) GetC() byte {
	select {
	case b := <-c.keys:
		return b
	default:
		return 0
	}
}
