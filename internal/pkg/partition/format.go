// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"context"
	"fmt"

	"github.com/boxforge/installer/internal/pkg/runner"
)

// FileSystemType is the filesystem type.
type FileSystemType = string

const (
	// FilesystemTypeVFAT is the filesystem type for VFAT.
	FilesystemTypeVFAT FileSystemType = "vfat"
	// FilesystemTypeBtrfs is the filesystem type for btrfs.
	FilesystemTypeBtrfs FileSystemType = "btrfs"
)

// FormatOptions contains format parameters.
type FormatOptions struct {
	Label          string
	FileSystemType FileSystemType
	Force          bool
}

// Format creates a filesystem on the partition device.
func Format(ctx context.Context, r runner.Runner, devname string, t *FormatOptions, printf func(string, ...any)) error {
	printf("formatting the partition %q as %q with label %q", devname, t.FileSystemType, t.Label)

	switch t.FileSystemType {
	case FilesystemTypeVFAT:
		return vfat(ctx, r, devname, t)
	case FilesystemTypeBtrfs:
		return btrfs(ctx, r, devname, t)
	default:
		return fmt.Errorf("unsupported filesystem type: %q", t.FileSystemType)
	}
}

func vfat(ctx context.Context, r runner.Runner, devname string, t *FormatOptions) error {
	args := []string{"-F", "32"}

	if t.Label != "" {
		args = append(args, "-n", t.Label)
	}

	args = append(args, devname)

	if _, err := r.Run(ctx, "mkfs.vfat", args...); err != nil {
		return fmt.Errorf("failed to format %s: %w", devname, err)
	}

	return nil
}

func btrfs(ctx context.Context, r runner.Runner, devname string, t *FormatOptions) error {
	args := []string{"-q"}

	if t.Label != "" {
		args = append(args, "-L", t.Label)
	}

	if t.Force {
		args = append(args, "-f")
	}

	args = append(args, devname)

	if _, err := r.Run(ctx, "mkfs.btrfs", args...); err != nil {
		return fmt.Errorf("failed to format %s: %w", devname, err)
	}

	return nil
}
