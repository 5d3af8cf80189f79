package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren after the process itself has exited or been killed.
const waitDelay = 2 * time.Second

// Runner abstracts command execution so packages can be unit-tested without
// a radio attached or the mesh CLI installed.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
	Stream(ctx context.Context, fn func(line string), name string, args ...string) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Output runs the command and returns its trimmed stdout. A non-zero exit
// returns an error carrying stderr.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Stream runs the command and calls fn for every stdout line until the
// process exits or ctx is cancelled. Stderr is merged into the line stream.
func (r *OSRunner) Stream(ctx context.Context, fn func(line string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return err
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		_ = pr.CloseWithError(err)
	}

	err := <-waitErr
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
