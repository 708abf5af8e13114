// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package grub

const (
	// SystemImageName is the name of the system image file on the boot
	// partition.
	SystemImageName = "system.img"

	// ConfigPath is the path of the generated grub config, relative to the
	// boot partition root.
	ConfigPath = "boot/grub/grub.cfg"

	// VarsPath is the path of the boot variables fragment, relative to the
	// boot partition root. It is sourced by the chain-loaded system image
	// at its own boot time.
	VarsPath = "system.cfg"

	// EFIImagePath is the path of the UEFI boot image, relative to the
	// boot partition root. The firmware looks it up by this well-known
	// name on removable media.
	EFIImagePath = "efi/boot/bootx64.efi"

	// efiPrefix is the grub prefix embedded into the UEFI boot image.
	efiPrefix = "/boot/grub"
)

// imageModules is the module set compiled into the UEFI boot image.
var imageModules = []string{
	"xfs", "btrfs", "fat", "part_gpt", "part_msdos", "normal", "linux",
	"echo", "all_video", "test", "multiboot", "multiboot2", "search",
	"sleep", "iso9660", "gzio", "lvm", "chain", "configfile", "cpuid",
	"minicmd", "gfxterm_background", "png", "font", "terminal", "squash4",
	"serial", "loopback", "videoinfo", "videotest", "blocklist", "probe",
	"efi_gop", "efi_uga",
}

// installModules is the module set passed to the BIOS bootloader install.
const installModules = "xfs btrfs fat part_msdos normal linux linux16 echo " +
	"all_video test multiboot multiboot2 search sleep gzio lvm chain " +
	"configfile cpuid minicmd font terminal serial squash4 loopback " +
	"videoinfo videotest blocklist probe gfxterm_background png keystatus"
