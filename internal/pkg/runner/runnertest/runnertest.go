// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package runnertest provides a scripted command runner for tests.
package runnertest

import (
	"context"
	"fmt"
)

// Call records one command invocation.
type Call struct {
	Name string
	Args []string
}

// Runner is a runner.Runner which records invocations and delegates to a
// handler instead of spawning processes.
type Runner struct {
	handler func(name string, args ...string) (string, error)
	calls   []Call
}

// New creates a Runner with the given handler. A nil handler succeeds with
// empty output for every command.
func New(handler func(name string, args ...string) (string, error)) *Runner {
	if handler == nil {
		handler = func(string, ...string) (string, error) {
			return "", nil
		}
	}

	return &Runner{handler: handler}
}

// Run implements runner.Runner.
func (r *Runner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, Call{Name: name, Args: args})

	return r.handler(name, args...)
}

// Calls returns all recorded invocations.
func (r *Runner) Calls() []Call {
	return r.calls
}

// CallsFor returns the recorded invocations of the named command.
func (r *Runner) CallsFor(name string) []Call {
	var out []Call

	for _, c := range r.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}

	return out
}

// Fail returns a handler which fails the named command and succeeds for
// everything else.
func Fail(name string) func(string, ...string) (string, error) {
	return func(cmd string, _ ...string) (string, error) {
		if cmd == name {
			return "", fmt.Errorf("%s: exit status 1", cmd)
		}

		return "", nil
	}
}
