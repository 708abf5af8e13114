// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package grub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boxforge/installer/internal/pkg/runner"
)

// Installer builds and installs bootloader images by invoking the grub
// tooling.
type Installer struct {
	runner runner.Runner
	printf func(string, ...any)
}

// NewInstaller builds an Installer on top of the given command runner.
func NewInstaller(r runner.Runner, printf func(string, ...any)) *Installer {
	if printf == nil {
		printf = func(string, ...any) {}
	}

	return &Installer{
		runner: r,
		printf: printf,
	}
}

// MakeUEFIImage builds the UEFI boot image at the well-known removable
// media path inside the mounted boot partition.
func (i *Installer) MakeUEFIImage(ctx context.Context, mountPath string) error {
	imagePath := filepath.Join(mountPath, EFIImagePath)

	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(imagePath), err)
	}

	args := []string{
		"-p", efiPrefix,
		"-o", imagePath,
		"-O", "x86_64-efi",
	}
	args = append(args, imageModules...)

	i.printf("building UEFI boot image at %s", imagePath)

	if _, err := i.runner.Run(ctx, "grub-mkimage", args...); err != nil {
		return fmt.Errorf("failed to build UEFI boot image: %w", err)
	}

	return nil
}

// InstallBIOS installs the legacy BIOS bootloader onto the whole disk,
// using the mounted boot partition as its boot directory.
func (i *Installer) InstallBIOS(ctx context.Context, mountPath, diskPath string) error {
	args := []string{
		"--target=i386-pc",
		"--recheck",
		"--boot-directory=" + filepath.Join(mountPath, "boot"),
		"--modules=" + installModules,
		diskPath,
	}

	i.printf("executing: grub-install %s", diskPath)

	if _, err := i.runner.Run(ctx, "grub-install", args...); err != nil {
		return fmt.Errorf("failed to install BIOS bootloader: %w", err)
	}

	return nil
}
