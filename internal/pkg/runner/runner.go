// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package runner abstracts synchronous invocation of external tools.
package runner

import (
	"context"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

// Runner executes an external command, blocks until it exits, and returns
// its combined output. A non-zero exit status is reported as an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return cmd.RunContext(ctx, name, args...)
}

// Default returns a Runner which spawns real processes.
func Default() Runner {
	return execRunner{}
}
