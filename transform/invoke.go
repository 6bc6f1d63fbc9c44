package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single converter run.
const DefaultTimeout = 10 * time.Minute

// ErrEmptyOutput is returned when the converter exits cleanly, but writes
// nothing.
var ErrEmptyOutput = errors.New("converter produced no output")

// EngineError records a failed converter run for a single input file.
type EngineError struct {
	Engine string
	Src    string
	Stderr string
	Err    error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Engine, e.Src, e.Err)
	if s := firstLine(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// Invoker runs an engine with fixed options and stores the output.
type Invoker struct {
	Engine  Engine
	Options Options
	Timeout time.Duration
}

// Name of the engine.
func (inv *Invoker) Name() string {
	return inv.Engine.Name()
}

// Ext is the extension of files written by this invoker.
func (inv *Invoker) Ext() string {
	return inv.Options.Format.Ext()
}

// Transform converts the MARCXML file src and writes RDF to dst. The output
// is written only if the converter succeeded and produced output, otherwise
// an *EngineError is returned and dst is left untouched.
func (inv *Invoker) Transform(ctx context.Context, src, dst string) error {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var (
		stdout, stderr bytes.Buffer
		cmd            = inv.Engine.Command(ctx, src, inv.Options)
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug(cmd)
	started := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timeout after %s: %w", timeout, ctx.Err())
	}
	if err == nil && len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		return &EngineError{
			Engine: inv.Engine.Name(),
			Src:    src,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	log.Debugf("%s: converted %s in %s", inv.Engine.Name(), src, time.Since(started))
	return writeFileAtomic(dst, stdout.Bytes())
}

// writeFileAtomic writes to a temporary file next to dst first, so dst is
// never partially written.
func writeFileAtomic(dst string, b []byte) error {
	wip := dst + ".wip"
	if err := os.WriteFile(wip, b, 0644); err != nil {
		return err
	}
	return os.Rename(wip, dst)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
