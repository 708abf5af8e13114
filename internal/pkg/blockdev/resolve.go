// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blockdev

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Resolver maps a disk plus 1-based partition index to a device special
// path by walking kernel sysfs topology.
//
// Walking the topology by major:minor avoids guessing the partition naming
// scheme, which differs between device classes (sda1 vs nvme0n1p1).
type Resolver struct {
	sysfsRoot string
	devRoot   string

	devNumber func(path string) (major, minor uint32, err error)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSysfsRoot overrides the sysfs mount location.
func WithSysfsRoot(root string) ResolverOption {
	return func(r *Resolver) {
		r.sysfsRoot = root
	}
}

// WithDevRoot overrides the /dev location.
func WithDevRoot(root string) ResolverOption {
	return func(r *Resolver) {
		r.devRoot = root
	}
}

// WithDevNumberFunc overrides the device number lookup.
func WithDevNumberFunc(f func(path string) (uint32, uint32, error)) ResolverOption {
	return func(r *Resolver) {
		r.devNumber = f
	}
}

// NewResolver builds a Resolver with the given options applied.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		sysfsRoot: "/sys",
		devRoot:   "/dev",
		devNumber: statDevNumber,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func statDevNumber(path string) (uint32, uint32, error) {
	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0, 0, fmt.Errorf("%s is not a block device", path)
	}

	rdev := uint64(st.Rdev)

	return unix.Major(rdev), unix.Minor(rdev), nil
}

// Partition resolves the partition with the given 1-based index on the
// disk to a canonical device special path.
//
// A missing partition is reported via found == false, not an error:
// callers treat it as a recoverable condition.
func (r *Resolver) Partition(diskPath string, index uint) (path string, found bool, err error) {
	major, minor, err := r.devNumber(diskPath)
	if err != nil {
		return "", false, err
	}

	pattern := filepath.Join(r.sysfsRoot, "dev/block", fmt.Sprintf("%d:%d", major, minor), "*", "partition")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false, fmt.Errorf("failed to glob %q: %w", pattern, err)
	}

	for _, match := range matches {
		contents, err := os.ReadFile(match)
		if err != nil {
			return "", false, fmt.Errorf("failed to read %q: %w", match, err)
		}

		number, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 32)
		if err != nil {
			return "", false, fmt.Errorf("failed to parse partition number in %q: %w", match, err)
		}

		if uint(number) != index {
			continue
		}

		devno, err := os.ReadFile(filepath.Join(filepath.Dir(match), "dev"))
		if err != nil {
			return "", false, fmt.Errorf("failed to read partition device number: %w", err)
		}

		link := filepath.Join(r.devRoot, "block", strings.TrimSpace(string(devno)))

		resolved, err := filepath.EvalSymlinks(link)
		if err != nil {
			return "", false, fmt.Errorf("failed to resolve %q: %w", link, err)
		}

		return resolved, true, nil
	}

	return "", false, nil
}
