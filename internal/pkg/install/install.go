// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package install provisions a storage device into a bootable appliance.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/siderolabs/go-blockdevice/v2/blkid"
	"github.com/siderolabs/go-retry/retry"
	"golang.org/x/sys/unix"

	"github.com/boxforge/installer/internal/pkg/blockdev"
	"github.com/boxforge/installer/internal/pkg/bootloader/grub"
	"github.com/boxforge/installer/internal/pkg/layout"
	"github.com/boxforge/installer/internal/pkg/mount"
	"github.com/boxforge/installer/internal/pkg/partition"
	"github.com/boxforge/installer/internal/pkg/runner"
)

// Mode selects the provisioning flavor.
type Mode int

const (
	// ModeInstall provisions a disk into a bootable appliance with an
	// optional data partition.
	ModeInstall Mode = iota
	// ModeMedia provisions removable install media: a single FAT32
	// partition spanning the whole disk, no data area.
	ModeMedia
	// ModeImage is ModeInstall against a loop device backing a raw image
	// file; disk inventory is skipped since loop devices never qualify.
	ModeImage
)

// MediaVolumeLabel is the FAT volume label given to install media.
const MediaVolumeLabel = "INSTALL"

const (
	bootPartitionIndex = 1
	dataPartitionIndex = 2

	// mountFlags and mountData restrict permissions of files on the FAT
	// boot volume.
	mountFlags = unix.MS_RELATIME
	mountData  = "fmask=177,dmask=077"
)

// Options represents the set of options available for an install.
type Options struct {
	Disk          string
	ImagePath     string
	MinDiskSize   uint64
	BootVariables []grub.Variable
	Mode          Mode

	// RawDiskSize is the disk size to assume in ModeImage, where the loop
	// device is not present in the inventory.
	RawDiskSize uint64

	OnProgress ProgressFunc
	OnMessage  MessageFunc
	Printf     func(string, ...any)
}

// Installer runs the provisioning pipeline. It serves as the entrypoint to
// all installation modes.
type Installer struct {
	options *Options

	runner   runner.Runner
	mounts   *mount.Manager
	resolver *blockdev.Resolver
	probe    func(devPath string) (string, error)

	rep *reporter
}

// Option overrides an external collaborator of the Installer.
type Option func(*Installer)

// WithRunner overrides the command runner.
func WithRunner(r runner.Runner) Option {
	return func(i *Installer) {
		i.runner = r
	}
}

// WithMountManager overrides the scoped mount manager.
func WithMountManager(m *mount.Manager) Option {
	return func(i *Installer) {
		i.mounts = m
	}
}

// WithResolver overrides the partition resolver.
func WithResolver(r *blockdev.Resolver) Option {
	return func(i *Installer) {
		i.resolver = r
	}
}

// WithVolumeIDProbe overrides the durable volume identifier probe.
func WithVolumeIDProbe(probe func(devPath string) (string, error)) Option {
	return func(i *Installer) {
		i.probe = probe
	}
}

// NewInstaller initializes and returns an Installer.
func NewInstaller(options *Options, opts ...Option) *Installer {
	if options.Printf == nil {
		options.Printf = func(string, ...any) {}
	}

	i := &Installer{
		options:  options,
		runner:   runner.Default(),
		resolver: blockdev.NewResolver(),
		probe:    probeVolumeID,
		rep:      newReporter(options.OnProgress, options.OnMessage),
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.mounts == nil {
		i.mounts = mount.NewManager(mount.WithPrintf(options.Printf))
	}

	return i
}

// probeVolumeID reads the filesystem UUID of a formatted partition.
func probeVolumeID(devPath string) (string, error) {
	info, err := blkid.ProbePath(devPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe %s: %w", devPath, err)
	}

	if info.UUID == nil {
		return "", fmt.Errorf("no filesystem UUID on %s", devPath)
	}

	return info.UUID.String(), nil
}

// Install runs the pipeline to completion or first failure.
//
// The flow is strictly sequential; no stage is retried and no partial
// rollback of disk state is attempted, the triggering error is surfaced
// verbatim to the caller.
//
//nolint:gocyclo
func (i *Installer) Install(ctx context.Context) error {
	if err := validateSystemImage(i.options.ImagePath); err != nil {
		return err
	}

	size, sectorSize, err := i.targetGeometry(ctx)
	if err != nil {
		return err
	}

	i.rep.progress(checkpointEnumerated)

	plan, err := i.plan(size, sectorSize)
	if err != nil {
		return err
	}

	if i.options.Mode != ModeMedia && !plan.HasDataPartition() {
		i.rep.message("Warning: data area won't be created due to too small disk")
	}

	i.rep.message("Creating partitions...")

	if err = partition.WriteTable(ctx, i.runner, i.options.Disk, plan, i.options.Printf); err != nil {
		return err
	}

	i.rep.message("Creating partitions done.")
	i.rep.progress(checkpointTableWritten)

	bootPart, err := i.resolveBootPartition()
	if err != nil {
		return err
	}

	i.rep.message("Formatting boot partition with FAT32")

	bootFormat := &partition.FormatOptions{FileSystemType: partition.FilesystemTypeVFAT}
	if i.options.Mode == ModeMedia {
		bootFormat.Label = MediaVolumeLabel
	}

	if err = partition.Format(ctx, i.runner, bootPart, bootFormat, i.options.Printf); err != nil {
		return err
	}

	i.rep.progress(checkpointBootFormatted)
	i.rep.message("Mounting boot partition...")

	point := mount.NewPoint(bootPart, "vfat", mountFlags, mountData)

	err = i.mounts.WithTempMount(point, func(mountPath string) error {
		return i.installBootContent(ctx, mountPath, plan)
	})
	if err != nil {
		return err
	}

	i.rep.progress(checkpointCopied)

	if plan.HasDataPartition() {
		if err = i.provisionDataPartition(ctx, bootPart); err != nil {
			return err
		}
	}

	i.rep.progress(checkpointDone)

	return nil
}

// targetGeometry determines the size and logical sector size of the target
// disk, verifying through the inventory that the disk is usable.
func (i *Installer) targetGeometry(ctx context.Context) (size uint64, sectorSize uint32, err error) {
	if i.options.Mode == ModeImage {
		// the loop device is exclusively ours, no inventory check
		return i.options.RawDiskSize, 512, nil
	}

	disks, err := blockdev.List(ctx, i.runner, i.options.MinDiskSize)
	if err != nil {
		return 0, 0, err
	}

	canonical, err := filepath.EvalSymlinks(i.options.Disk)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve %s: %w", i.options.Disk, err)
	}

	// the disk may be given through a /dev/disk/by-* symlink, match the
	// inventory by kernel device name
	for _, disk := range disks {
		if disk.Name == filepath.Base(canonical) {
			return disk.Size, disk.LogicalSectorSize, nil
		}
	}

	return 0, 0, fmt.Errorf("%s is not a usable disk", canonical)
}

func (i *Installer) plan(size uint64, sectorSize uint32) (layout.Plan, error) {
	if i.options.Mode == ModeMedia {
		return layout.NewMedia(size, sectorSize)
	}

	return layout.New(size, sectorSize)
}

// resolveBootPartition maps the boot partition index to a device path,
// retrying for a short period since partition device nodes may lag behind
// the table write.
func (i *Installer) resolveBootPartition() (string, error) {
	var bootPart string

	err := retry.Constant(10*time.Second, retry.WithUnits(100*time.Millisecond)).Retry(func() error {
		path, found, err := i.resolver.Partition(i.options.Disk, bootPartitionIndex)
		if err != nil {
			return err
		}

		if !found {
			return retry.ExpectedErrorf("boot partition not present yet")
		}

		bootPart = path

		return nil
	})
	if err != nil {
		i.rep.message("Error: Unable to determine boot partition")

		return "", fmt.Errorf("unable to determine boot partition on %s: %w", i.options.Disk, err)
	}

	return bootPart, nil
}

// installBootContent runs inside the scoped mount of the boot partition.
func (i *Installer) installBootContent(ctx context.Context, mountPath string, plan layout.Plan) error {
	i.rep.message("Done")
	i.rep.progress(checkpointBootMounted)

	grubInstaller := grub.NewInstaller(i.runner, i.options.Printf)

	i.rep.message("Installing UEFI bootloader")

	if err := grubInstaller.MakeUEFIImage(ctx, mountPath); err != nil {
		return err
	}

	if plan.BIOSCompatible {
		i.rep.message("Installing BIOS bootloader")

		if err := grubInstaller.InstallBIOS(ctx, mountPath, i.options.Disk); err != nil {
			return err
		}
	} else {
		i.rep.message("This system will be UEFI-only as this disk cannot be treated by BIOS")
	}

	i.rep.progress(checkpointBootInstalled)
	i.rep.message("Creating boot configuration file")

	if err := grub.NewConfig().Write(mountPath); err != nil {
		return err
	}

	if err := grub.WriteVars(mountPath, i.options.BootVariables); err != nil {
		return err
	}

	i.rep.progress(checkpointConfigWritten)
	i.rep.message("Copying system image")

	err := copySystemImage(
		i.options.ImagePath,
		filepath.Join(mountPath, grub.SystemImageName),
		i.rep.span(checkpointConfigWritten, checkpointCopied),
	)
	if err != nil {
		return err
	}

	i.rep.message("Unmounting boot partition...")

	return nil
}

// provisionDataPartition formats the data partition with a label derived
// from the boot partition's durable volume identifier.
//
// The appliance is bootable without a data area, so an unresolvable data
// partition or an unreadable boot volume identifier degrades to a warning
// instead of failing the install. A failed mkfs run stays fatal.
func (i *Installer) provisionDataPartition(ctx context.Context, bootPart string) error {
	i.rep.message("Constructing data area")

	dataPart, found, err := i.resolver.Partition(i.options.Disk, dataPartitionIndex)
	if err != nil || !found {
		i.rep.message("Warning: Unable to determine partition for data area. Data area won't be created")

		return nil
	}

	volumeID, err := i.probe(bootPart)
	if err != nil {
		i.rep.message("Warning: Unable to get UUID of boot partition. Data area won't be created")

		return nil
	}

	i.rep.message("Formatting partition for data area with btrfs...")

	err = partition.Format(ctx, i.runner, dataPart, &partition.FormatOptions{
		Label:          "data-" + volumeID,
		FileSystemType: partition.FilesystemTypeBtrfs,
		Force:          true,
	}, i.options.Printf)
	if err != nil {
		return err
	}

	i.rep.message("Done")

	return nil
}

func validateSystemImage(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat system image: %w", err)
	}

	if st.Size() == 0 {
		return errors.New("system image is empty")
	}

	return nil
}
