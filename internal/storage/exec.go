// Package storage is our boundary with the Ceph cluster: pool and capability
// requests, RADOS object access and the pool availability facts.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Runner runs external commands. Stdout is returned; a non-zero exit is an
// error carrying stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type CommandError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: %v: %v", e.Cmd, e.Err, e.Stderr)
	}

	return fmt.Sprintf("%v: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	defer func(begin time.Time) {
		glog.V(2).Infof("exec: %v %v, took %v", name, strings.Join(args, " "), time.Since(begin))
	}(time.Now())

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Cmd:    name + " " + strings.Join(args, " "),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}
