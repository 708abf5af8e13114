// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blockdev provides block device inventory and partition lookup.
package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/boxforge/installer/internal/pkg/runner"
)

// Disk describes a whole block device which qualifies as an install target.
type Disk struct {
	// DevicePath is the canonical device special path, e.g. /dev/sda.
	DevicePath string
	// Name is the kernel device name, e.g. sda.
	Name string
	// Model is the hardware model string, if the device reports one.
	Model *string
	// Transport is the bus type (sata, nvme, usb, ...), if known. Virtio
	// disks do not report one.
	Transport *string
	// Size is the device size in bytes.
	Size uint64
	// LogicalSectorSize is the logical sector size in bytes.
	LogicalSectorSize uint32
}

// lsblkColumns is the fixed column set requested from lsblk.
const lsblkColumns = "NAME,MODEL,TYPE,RO,MOUNTPOINT,SIZE,TRAN,LOG-SEC,MAJ:MIN"

type lsblkDevice struct {
	Name       string        `json:"name"`
	Model      *string       `json:"model"`
	Type       string        `json:"type"`
	ReadOnly   bool          `json:"ro"`
	MountPoint *string       `json:"mountpoint"`
	Size       uint64        `json:"size"`
	Transport  *string       `json:"tran"`
	LogSec     *uint32       `json:"log-sec"`
	MajMin     string        `json:"maj:min"`
	Children   []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// List enumerates usable install target disks.
//
// A disk is usable when it is not read-only, is at least minSize bytes,
// reports its logical sector size, and carries no other live content: every
// descendant must be an unmounted partition.
func List(ctx context.Context, r runner.Runner, minSize uint64) (map[string]Disk, error) {
	out, err := r.Run(ctx, "lsblk", "-b", "-J", "-o", lsblkColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to run lsblk: %w", err)
	}

	var listing lsblkOutput

	if err = json.Unmarshal([]byte(out), &listing); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	disks := map[string]Disk{}

	for _, dev := range listing.BlockDevices {
		if !usable(dev, minSize) {
			continue
		}

		disks[filepath.Join("/dev", dev.Name)] = Disk{
			DevicePath:        filepath.Join("/dev", dev.Name),
			Name:              dev.Name,
			Model:             dev.Model,
			Transport:         dev.Transport,
			Size:              dev.Size,
			LogicalSectorSize: *dev.LogSec,
		}
	}

	return disks, nil
}

func usable(dev lsblkDevice, minSize uint64) bool {
	if dev.Type != "disk" || dev.ReadOnly {
		return false
	}

	if dev.Size < minSize || dev.LogSec == nil {
		return false
	}

	return descendantsFree(dev)
}

// descendantsFree reports whether every descendant of the device is an
// unmounted partition. A filesystem sitting directly on the whole disk, or
// any mounted partition, disqualifies the device.
func descendantsFree(dev lsblkDevice) bool {
	for _, child := range dev.Children {
		if child.MountPoint != nil || child.Type != "part" {
			return false
		}

		if !descendantsFree(child) {
			return false
		}
	}

	return true
}
