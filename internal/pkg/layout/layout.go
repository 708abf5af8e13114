// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package layout decides the partition layout for an appliance disk.
//
// The planner is a pure function of the disk geometry: it performs no I/O
// and is computed once per install attempt.
package layout

import (
	"errors"
	"fmt"
)

// TableKind is the partition table type to be created.
type TableKind string

const (
	// TableMSDOS is the legacy MBR partition table.
	TableMSDOS TableKind = "msdos"
	// TableGPT is the GUID partition table.
	TableGPT TableKind = "gpt"
)

const (
	// MiB is one mebibyte.
	MiB = 1024 * 1024
	// GiB is one gibibyte.
	GiB = 1024 * MiB

	// BIOSMaxDiskSize is the largest disk size which still allows a legacy
	// (MBR) partition table and a BIOS bootloader install.
	BIOSMaxDiskSize = 2 * 1024 * GiB

	// DataPartitionThreshold is the minimum disk size which gets a
	// secondary data partition.
	DataPartitionThreshold = 9_000_000_000

	// BootPartitionStart is the byte offset of the boot partition.
	BootPartitionStart = 1 * MiB

	// BootPartitionEnd is the byte offset at which the boot partition ends
	// when a data partition follows it.
	BootPartitionEnd = 8 * GiB
)

// Extent is a partition byte range [Start, End).
type Extent struct {
	Start uint64
	End   uint64
}

// Size returns the extent length in bytes.
func (e Extent) Size() uint64 {
	return e.End - e.Start
}

// Plan describes the partition layout for one disk.
//
// The boot partition is always partition index 1; the data partition, when
// present, is always index 2 and spans to the end of the disk.
type Plan struct {
	Table          TableKind
	BIOSCompatible bool

	Boot Extent
	Data *Extent
}

// HasDataPartition reports whether the plan includes a secondary data
// partition.
func (p Plan) HasDataPartition() bool {
	return p.Data != nil
}

// ErrZeroSize is returned when planning against a zero-sized disk.
var ErrZeroSize = errors.New("disk size is zero")

// New computes the partition layout for a disk of the given size and
// logical sector size.
func New(size uint64, logicalSectorSize uint32) (Plan, error) {
	if size == 0 {
		return Plan{}, ErrZeroSize
	}

	plan := Plan{
		BIOSCompatible: size <= BIOSMaxDiskSize && logicalSectorSize == 512,
	}

	if plan.BIOSCompatible {
		plan.Table = TableMSDOS
	} else {
		plan.Table = TableGPT
	}

	if size >= DataPartitionThreshold {
		plan.Boot = Extent{Start: BootPartitionStart, End: BootPartitionEnd}
		plan.Data = &Extent{Start: BootPartitionEnd, End: size}
	} else {
		plan.Boot = Extent{Start: BootPartitionStart, End: size}
	}

	return plan, nil
}

// NewMedia computes the layout for removable install media: a single FAT32
// partition spanning the whole disk.
func NewMedia(size uint64, logicalSectorSize uint32) (Plan, error) {
	if size == 0 {
		return Plan{}, ErrZeroSize
	}

	if size > BIOSMaxDiskSize {
		return Plan{}, fmt.Errorf("disk size %d exceeds the FAT32 limit", size)
	}

	plan := Plan{
		BIOSCompatible: logicalSectorSize == 512,
		Boot:           Extent{Start: BootPartitionStart, End: size},
	}

	if plan.BIOSCompatible {
		plan.Table = TableMSDOS
	} else {
		plan.Table = TableGPT
	}

	return plan, nil
}

// PartedCommands encodes the plan as a parted script command sequence.
//
// Partition boundaries are expressed in MiB/GiB units with "-1" meaning
// the end of the disk, which keeps parted responsible for alignment to the
// device's own sector size.
func (p Plan) PartedCommands() []string {
	commands := []string{
		"mklabel " + string(p.Table),
	}

	if p.Data != nil {
		commands = append(commands,
			"mkpart primary fat32 1MiB 8GiB",
			"mkpart primary btrfs 8GiB -1",
		)
	} else {
		commands = append(commands,
			"mkpart primary fat32 1MiB -1",
		)
	}

	commands = append(commands, "set 1 boot on")

	if p.BIOSCompatible {
		// on an MBR table the boot flag doubles as the ESP marker for
		// firmware which inspects it
		commands = append(commands, "set 1 esp on")
	}

	return commands
}
