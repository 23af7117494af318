package ioplex

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// Mode selects how a child's I/O descriptors are plexed into the log.
// ModePiped is the only mode every supervised child in this codebase
// uses: mcrun and mfsrun are both daemon-style binaries with no
// interactive terminal to attach.
type Mode int

const (
	// ModePiped copies separate stdout/stderr pipe readers into the log.
	ModePiped Mode = iota
)

// ChildIO carries the descriptors a supervised child exposes.
type ChildIO struct {
	Mode Mode

	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Plexer copies a child's output into a RotatingLog, optionally echoing
// it to the parent's own stdout/stderr, and streams the parent's stdin
// into the child. Every copier runs on its own goroutine and exits on
// EOF without propagating errors to the caller.
type Plexer struct {
	rlog          *RotatingLog
	forwardOutput bool
	logger        zerolog.Logger
}

// NewPlexer returns a Plexer writing into rlog. Output is also echoed
// to the parent's stdout/stderr when forwardOutput is set.
func NewPlexer(rlog *RotatingLog, forwardOutput bool, logger zerolog.Logger) *Plexer {
	return &Plexer{rlog: rlog, forwardOutput: forwardOutput, logger: logger}
}

// Start begins plexing c's descriptors in the background and returns
// immediately; it never blocks for the lifetime of the child.
func (p *Plexer) Start(c ChildIO) error {
	switch c.Mode {
	case ModePiped:
		return p.startPiped(c)
	default:
		return fmt.Errorf("%w: unknown child io mode %d", monoerrors.ErrInvalidConfig, c.Mode)
	}
}

func (p *Plexer) startPiped(c ChildIO) error {
	if c.Stdout != nil {
		go p.copyToLog("stdout", c.Stdout, os.Stdout)
	}
	if c.Stderr != nil {
		go p.copyToLog("stderr", c.Stderr, os.Stderr)
	}
	if c.Stdin != nil {
		go func() {
			if _, err := io.Copy(c.Stdin, os.Stdin); err != nil {
				p.logger.Warn().Err(err).Msg("copying parent stdin to child stdin failed")
			}
		}()
	}
	return nil
}

func (p *Plexer) copyToLog(stream string, r io.Reader, echo io.Writer) {
	buf := make([]byte, 1024)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := p.rlog.Write(buf[:n]); err != nil {
				p.logger.Error().Err(err).Str("stream", stream).Msg("failed to write to rotating log")
			}
			if p.forwardOutput {
				if _, err := echo.Write(buf[:n]); err != nil {
					p.logger.Warn().Err(err).Str("stream", stream).Msg("failed to forward output to parent")
				}
			}
		}
		if readErr != nil {
			return
		}
	}
}
