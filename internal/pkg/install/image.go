// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

import (
	"context"
	"fmt"
	"os"

	"github.com/freddierice/go-losetup/v2"
)

// BuildRawImage creates a sparse raw disk image of the given size, attaches
// it to a loop device and runs the standard install pipeline against it.
//
// The loop device is detached on every exit path.
func (i *Installer) BuildRawImage(ctx context.Context, outputPath string, size uint64) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}

	if err = f.Truncate(int64(size)); err != nil {
		f.Close() //nolint:errcheck

		return fmt.Errorf("failed to truncate %s: %w", outputPath, err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", outputPath, err)
	}

	dev, err := losetup.Attach(outputPath, 0, false)
	if err != nil {
		return fmt.Errorf("failed to attach %s to a loop device: %w", outputPath, err)
	}

	defer dev.Detach() //nolint:errcheck

	i.options.Mode = ModeImage
	i.options.Disk = dev.Path()
	i.options.RawDiskSize = size

	i.rep.message(fmt.Sprintf("Building raw image %s on %s", outputPath, dev.Path()))

	if err = i.Install(ctx); err != nil {
		return err
	}

	return dev.Detach()
}
