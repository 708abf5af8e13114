// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/boxforge/installer/internal/pkg/blockdev"
	"github.com/boxforge/installer/internal/pkg/bootloader/grub"
	"github.com/boxforge/installer/internal/pkg/install"
	"github.com/boxforge/installer/internal/pkg/mount"
	"github.com/boxforge/installer/internal/pkg/runner/runnertest"
)

// fakeSyscalls simulates mount/unmount against plain directories: on
// unmount, files written "onto the mount" are moved aside into a capture
// directory so the mount directory is empty again, as it would be after a
// real unmount.
type fakeSyscalls struct {
	captureDir string
	mounted    map[string]string
}

func (s *fakeSyscalls) Mount(source, target, _ string, _ uintptr, _ string) error {
	s.mounted[target] = source

	return nil
}

func (s *fakeSyscalls) Unmount(target string, _ int) error {
	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err = os.Rename(filepath.Join(target, entry.Name()), filepath.Join(s.captureDir, entry.Name())); err != nil {
			return err
		}
	}

	delete(s.mounted, target)

	return nil
}

type installSuite struct {
	suite.Suite

	root       string
	imagePath  string
	bootVolume string // capture dir holding the boot volume contents

	runner    *runnertest.Runner
	lsblkJSON string
	syscalls  *fakeSyscalls

	fractions []float64
	messages  []string
}

func TestInstallSuite(t *testing.T) {
	suite.Run(t, new(installSuite))
}

const (
	diskSize   = 10_000_000_000
	imageBytes = 4096
)

func (suite *installSuite) SetupTest() {
	suite.root = suite.T().TempDir()

	suite.imagePath = filepath.Join(suite.root, "system.img")
	suite.Require().NoError(os.WriteFile(suite.imagePath, bytes.Repeat([]byte{0x42}, imageBytes), 0o644))

	suite.bootVolume = filepath.Join(suite.root, "captured")
	suite.Require().NoError(os.MkdirAll(suite.bootVolume, 0o755))

	suite.syscalls = &fakeSyscalls{
		captureDir: suite.bootVolume,
		mounted:    map[string]string{},
	}

	suite.fractions = nil
	suite.messages = nil
}

// buildDisk lays out the fake disk: a device node stand-in, the lsblk
// inventory entry and the sysfs partition topology.
func (suite *installSuite) buildDisk(name string, size uint64, partitions int) string {
	devRoot := filepath.Join(suite.root, "dev")
	suite.Require().NoError(os.MkdirAll(filepath.Join(devRoot, "block"), 0o755))

	diskPath := filepath.Join(devRoot, name)
	suite.Require().NoError(os.WriteFile(diskPath, nil, 0o644))

	sysfsDir := filepath.Join(suite.root, "sys/dev/block/8:0")

	for idx := 1; idx <= partitions; idx++ {
		partName := fmt.Sprintf("%s%d", name, idx)
		devno := fmt.Sprintf("8:%d", idx)

		partDir := filepath.Join(sysfsDir, partName)
		suite.Require().NoError(os.MkdirAll(partDir, 0o755))
		suite.Require().NoError(os.WriteFile(filepath.Join(partDir, "partition"), []byte(fmt.Sprintf("%d\n", idx)), 0o644))
		suite.Require().NoError(os.WriteFile(filepath.Join(partDir, "dev"), []byte(devno+"\n"), 0o644))

		suite.Require().NoError(os.WriteFile(filepath.Join(devRoot, partName), nil, 0o644))
		suite.Require().NoError(os.Symlink(filepath.Join("..", partName), filepath.Join(devRoot, "block", devno)))
	}

	suite.lsblkJSON = fmt.Sprintf(`{"blockdevices": [
		{"name": %q, "model": "Test Disk", "type": "disk", "ro": false, "mountpoint": null,
		 "size": %d, "tran": "sata", "log-sec": 512, "maj:min": "8:0"}
	]}`, name, size)

	suite.runner = runnertest.New(func(cmd string, _ ...string) (string, error) {
		if cmd == "lsblk" {
			return suite.lsblkJSON, nil
		}

		return "", nil
	})

	return diskPath
}

func (suite *installSuite) newInstaller(options *install.Options, volumeID string, probeErr error) *install.Installer {
	options.OnProgress = func(fraction float64) {
		suite.fractions = append(suite.fractions, fraction)
	}
	options.OnMessage = func(text string) {
		suite.messages = append(suite.messages, text)
	}

	resolver := blockdev.NewResolver(
		blockdev.WithSysfsRoot(filepath.Join(suite.root, "sys")),
		blockdev.WithDevRoot(filepath.Join(suite.root, "dev")),
		blockdev.WithDevNumberFunc(func(string) (uint32, uint32, error) {
			return 8, 0, nil
		}),
	)

	return install.NewInstaller(options,
		install.WithRunner(suite.runner),
		install.WithResolver(resolver),
		install.WithMountManager(mount.NewManager(
			mount.WithSyscalls(suite.syscalls),
			mount.WithTempRoot(suite.root),
		)),
		install.WithVolumeIDProbe(func(string) (string, error) {
			return volumeID, probeErr
		}),
	)
}

func (suite *installSuite) assertProgressComplete() {
	suite.Require().NotEmpty(suite.fractions)

	suite.Assert().True(slices.IsSorted(suite.fractions), "progress must be non-decreasing: %v", suite.fractions)
	suite.Assert().EqualValues(1.0, suite.fractions[len(suite.fractions)-1])
}

func (suite *installSuite) TestInstallWithDataPartition() {
	disk := suite.buildDisk("sda", diskSize, 2)

	volumeID := uuid.New().String()

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 8_000_000_000,
		BootVariables: []grub.Variable{
			{Key: "default", Value: "text"},
		},
	}, volumeID, nil)

	suite.Require().NoError(installer.Install(suite.T().Context()))

	// partitioning
	parted := suite.runner.CallsFor("parted")
	suite.Require().Len(parted, 1)
	suite.Assert().Contains(parted[0].Args, "mklabel msdos")
	suite.Assert().Contains(parted[0].Args, "mkpart primary btrfs 8GiB -1")

	suite.Require().Len(suite.runner.CallsFor("udevadm"), 1)

	// boot partition formatted and populated
	vfat := suite.runner.CallsFor("mkfs.vfat")
	suite.Require().Len(vfat, 1)
	suite.Assert().Equal(filepath.Join(suite.root, "dev/sda1"), vfat[0].Args[len(vfat[0].Args)-1])

	suite.Require().Len(suite.runner.CallsFor("grub-mkimage"), 1)
	suite.Require().Len(suite.runner.CallsFor("grub-install"), 1)

	copied, err := os.ReadFile(filepath.Join(suite.bootVolume, "system.img"))
	suite.Require().NoError(err)
	suite.Assert().Len(copied, imageBytes)

	vars, err := os.ReadFile(filepath.Join(suite.bootVolume, "system.cfg"))
	suite.Require().NoError(err)
	suite.Assert().Equal("set default=text\n", string(vars))

	suite.Assert().FileExists(filepath.Join(suite.bootVolume, "boot/grub/grub.cfg"))

	// data partition formatted with the derived label
	btrfs := suite.runner.CallsFor("mkfs.btrfs")
	suite.Require().Len(btrfs, 1)
	suite.Assert().Contains(btrfs[0].Args, "data-"+volumeID)
	suite.Assert().Equal(filepath.Join(suite.root, "dev/sda2"), btrfs[0].Args[len(btrfs[0].Args)-1])

	// no leaked mounts
	suite.Assert().Empty(suite.syscalls.mounted)

	suite.assertProgressComplete()
}

func (suite *installSuite) TestInstallSmallDisk() {
	disk := suite.buildDisk("sda", 5_000_000_000, 1)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 4_000_000_000,
	}, "", nil)

	suite.Require().NoError(installer.Install(suite.T().Context()))

	suite.Assert().Contains(suite.messages, "Warning: data area won't be created due to too small disk")

	parted := suite.runner.CallsFor("parted")
	suite.Require().Len(parted, 1)
	suite.Assert().Contains(parted[0].Args, "mkpart primary fat32 1MiB -1")

	suite.Assert().Empty(suite.runner.CallsFor("mkfs.btrfs"))

	suite.assertProgressComplete()
}

func (suite *installSuite) TestInstallVolumeIDProbeFails() {
	disk := suite.buildDisk("sda", diskSize, 2)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 8_000_000_000,
	}, "", fmt.Errorf("probe failed"))

	// skipped data area must not fail the install
	suite.Require().NoError(installer.Install(suite.T().Context()))

	suite.Assert().Contains(suite.messages, "Warning: Unable to get UUID of boot partition. Data area won't be created")
	suite.Assert().Empty(suite.runner.CallsFor("mkfs.btrfs"))

	suite.assertProgressComplete()
}

func (suite *installSuite) TestInstallDataPartitionUnresolvable() {
	// topology exposes only the boot partition even though the plan has two
	disk := suite.buildDisk("sda", diskSize, 1)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 8_000_000_000,
	}, uuid.New().String(), nil)

	suite.Require().NoError(installer.Install(suite.T().Context()))

	suite.Assert().Contains(suite.messages, "Warning: Unable to determine partition for data area. Data area won't be created")
	suite.Assert().Empty(suite.runner.CallsFor("mkfs.btrfs"))

	suite.assertProgressComplete()
}

func (suite *installSuite) TestInstallMissingImage() {
	disk := suite.buildDisk("sda", diskSize, 2)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   filepath.Join(suite.root, "missing.img"),
		MinDiskSize: 8_000_000_000,
	}, "", nil)

	suite.Require().Error(installer.Install(suite.T().Context()))

	// validation failures must leave the disk untouched
	suite.Assert().Empty(suite.runner.Calls())
}

func (suite *installSuite) TestInstallEmptyImage() {
	disk := suite.buildDisk("sda", diskSize, 2)

	empty := filepath.Join(suite.root, "empty.img")
	suite.Require().NoError(os.WriteFile(empty, nil, 0o644))

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   empty,
		MinDiskSize: 8_000_000_000,
	}, "", nil)

	suite.Require().Error(installer.Install(suite.T().Context()))
	suite.Assert().Empty(suite.runner.Calls())
}

func (suite *installSuite) TestInstallNotUsableDisk() {
	disk := suite.buildDisk("sda", diskSize, 2)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 20_000_000_000, // larger than the disk
	}, "", nil)

	err := installer.Install(suite.T().Context())
	suite.Require().ErrorContains(err, "is not a usable disk")

	suite.Assert().Empty(suite.runner.CallsFor("parted"))
}

func (suite *installSuite) TestInstallBootloaderFailure() {
	disk := suite.buildDisk("sda", diskSize, 2)

	suite.runner = runnertest.New(func(cmd string, _ ...string) (string, error) {
		switch cmd {
		case "lsblk":
			return suite.lsblkJSON, nil
		case "grub-install":
			return "", fmt.Errorf("grub-install: exit status 1")
		default:
			return "", nil
		}
	})

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 8_000_000_000,
	}, "", nil)

	err := installer.Install(suite.T().Context())
	suite.Require().ErrorContains(err, "failed to install BIOS bootloader")

	// the scoped mount must be unwound on the failure path
	suite.Assert().Empty(suite.syscalls.mounted)
}

func (suite *installSuite) TestMediaMode() {
	disk := suite.buildDisk("sdb", 8_000_000_000, 1)

	installer := suite.newInstaller(&install.Options{
		Disk:        disk,
		ImagePath:   suite.imagePath,
		MinDiskSize: 3_000_000_000,
		Mode:        install.ModeMedia,
		BootVariables: []grub.Variable{
			{Key: "systemd_unit", Value: "installer.target"},
		},
	}, "", nil)

	suite.Require().NoError(installer.Install(suite.T().Context()))

	parted := suite.runner.CallsFor("parted")
	suite.Require().Len(parted, 1)
	suite.Assert().Contains(parted[0].Args, "mkpart primary fat32 1MiB -1")
	suite.Assert().NotContains(parted[0].Args, "mkpart primary btrfs 8GiB -1")

	vfat := suite.runner.CallsFor("mkfs.vfat")
	suite.Require().Len(vfat, 1)
	suite.Assert().Contains(vfat[0].Args, install.MediaVolumeLabel)

	vars, err := os.ReadFile(filepath.Join(suite.bootVolume, "system.cfg"))
	suite.Require().NoError(err)
	suite.Assert().Equal("set systemd_unit=installer.target\n", string(vars))

	suite.Assert().Empty(suite.runner.CallsFor("mkfs.btrfs"))

	suite.assertProgressComplete()
}
