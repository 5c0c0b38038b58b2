// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/pageview/internal/logging"
)

// Process is a worker subprocess with its controller session.
type Process struct {
	*Session

	cmd   *exec.Cmd
	group *errgroup.Group
}

// Spawn starts the worker executable at path (normally cmd/pageworker) and
// returns a session speaking the framed stream protocol over its standard
// input and output. Lines the worker writes to standard error are logged at
// debug level. The session is uninitialized; call Init next.
func Spawn(ctx context.Context, path string, opts ...Option) (*Process, error) {
	o := sessionOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrNop(o.logger)

	cmd := exec.CommandContext(ctx, path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker: start %s: %w", path, err)
	}

	sess := NewSession(NewStreamController(stdout, stdin), opts...)
	p := &Process{Session: sess, cmd: cmd, group: new(errgroup.Group)}

	p.group.Go(func() error {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug("worker: stderr", "pid", cmd.Process.Pid, "line", sc.Text())
		}
		return nil
	})
	p.group.Go(func() error {
		<-sess.Done()
		return nil
	})

	log.Info("worker: process started", "path", path, "pid", cmd.Process.Pid, "session", sess.ID().String())
	return p, nil
}

// Close terminates the session, which closes the worker's input, and waits
// for the process to exit.
func (p *Process) Close() error {
	sessErr := p.Session.Close()
	groupErr := p.group.Wait()
	waitErr := p.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// Killed by context or exited non-zero after its input closed;
		// either way the session is already gone.
		waitErr = nil
	}
	return errors.Join(sessErr, groupErr, waitErr)
}
