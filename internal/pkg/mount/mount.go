// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mount provides scoped temporary mounts.
package mount

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Point represents a linux mount point.
type Point struct {
	source string
	fstype string
	flags  uintptr
	data   string
}

// NewPoint initializes and returns a Point struct.
func NewPoint(source, fstype string, flags uintptr, data string) *Point {
	return &Point{
		source: source,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}
}

// Source returns the mount point source field.
func (p *Point) Source() string {
	return p.source
}

// Fstype returns the mount point fstype field.
func (p *Point) Fstype() string {
	return p.fstype
}

// Syscalls performs the actual mount and unmount system calls.
type Syscalls interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

type unixSyscalls struct{}

func (unixSyscalls) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (unixSyscalls) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// Manager owns temporary mount points for the duration of one operation.
type Manager struct {
	syscalls Syscalls
	tempRoot string
	printf   func(string, ...any)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSyscalls overrides the mount syscall implementation.
func WithSyscalls(s Syscalls) ManagerOption {
	return func(m *Manager) {
		m.syscalls = s
	}
}

// WithTempRoot overrides the directory under which temporary mount
// directories are created.
func WithTempRoot(root string) ManagerOption {
	return func(m *Manager) {
		m.tempRoot = root
	}
}

// WithPrintf sets the status printer.
func WithPrintf(printf func(string, ...any)) ManagerOption {
	return func(m *Manager) {
		m.printf = printf
	}
}

// NewManager builds a Manager with the given options applied.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		syscalls: unixSyscalls{},
		printf:   func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithTempMount mounts the point on a uniquely named temporary directory,
// invokes op with the mount path, and tears the mount down again.
//
// The unmount and the directory removal run on every exit path. When both
// op and the teardown fail, the op error comes first in the combined
// error so that the root cause is not lost.
func (m *Manager) WithTempMount(point *Point, op func(mountPath string) error) error {
	target, err := os.MkdirTemp(m.tempRoot, "mount-")
	if err != nil {
		return fmt.Errorf("error creating mount point directory: %w", err)
	}

	if err = mountWithRetry(m.syscalls, point, target); err != nil {
		if removeErr := os.Remove(target); removeErr != nil {
			err = multierror.Append(err, removeErr)
		}

		return fmt.Errorf("error mounting %s: %w", point.source, err)
	}

	m.printf("mounted %s on %s", point.source, target)

	opErr := op(target)

	var cleanupErr *multierror.Error

	if err = unmountWithRetry(m.syscalls, target); err != nil {
		cleanupErr = multierror.Append(cleanupErr, fmt.Errorf("error unmounting %s: %w", target, err))
	}

	if err = os.Remove(target); err != nil {
		cleanupErr = multierror.Append(cleanupErr, fmt.Errorf("error removing %s: %w", target, err))
	}

	if opErr != nil {
		return multierror.Append(opErr, cleanupErr.ErrorOrNil()).ErrorOrNil()
	}

	return cleanupErr.ErrorOrNil()
}

const (
	retryCount    = 50
	retryInterval = 100 * time.Millisecond
)

// mountWithRetry attempts a retry on EBUSY every 100 milliseconds over the
// course of 5 seconds.
func mountWithRetry(s Syscalls, point *Point, target string) (err error) {
	for range retryCount {
		if err = s.Mount(point.source, target, point.fstype, point.flags, point.data); err != nil {
			if err == unix.EBUSY {
				time.Sleep(retryInterval)

				continue
			}

			return err
		}

		return nil
	}

	return fmt.Errorf("mount timeout: %w", err)
}

func unmountWithRetry(s Syscalls, target string) (err error) {
	for range retryCount {
		if err = s.Unmount(target, 0); err != nil {
			if err == unix.EBUSY {
				time.Sleep(retryInterval)

				continue
			}

			return err
		}

		return nil
	}

	return fmt.Errorf("unmount timeout: %w", err)
}
