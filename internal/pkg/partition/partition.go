// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package partition writes partition tables and formats partitions.
package partition

import (
	"context"
	"fmt"

	"github.com/boxforge/installer/internal/pkg/layout"
	"github.com/boxforge/installer/internal/pkg/runner"
)

// WriteTable applies the planned layout to the disk with a single parted
// invocation, then waits for the kernel to re-enumerate partition device
// nodes.
//
// A failed parted run is fatal and must not be retried: a blind retry on a
// partially applied table could create further partitions on top of it.
func WriteTable(ctx context.Context, r runner.Runner, diskPath string, plan layout.Plan, printf func(string, ...any)) error {
	args := append([]string{"--script", diskPath}, plan.PartedCommands()...)

	printf("writing %s partition table to %s", plan.Table, diskPath)

	if _, err := r.Run(ctx, "parted", args...); err != nil {
		return fmt.Errorf("failed to write partition table to %s: %w", diskPath, err)
	}

	if _, err := r.Run(ctx, "udevadm", "settle"); err != nil {
		return fmt.Errorf("failed to settle device nodes: %w", err)
	}

	return nil
}
