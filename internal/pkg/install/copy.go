// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// copyChunkSize is the unit of the system image copy. Each chunk is forced
// to stable storage before the next one is read, so that mid-copy power
// loss on removable media leaves at most one incomplete chunk.
const copyChunkSize = 1 * 1024 * 1024

// copySystemImage streams the system image into the boot volume, reporting
// fractional progress after every chunk.
func copySystemImage(sourcePath, destPath string, report func(fraction float64)) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open system image: %w", err)
	}

	defer src.Close() //nolint:errcheck

	st, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat system image: %w", err)
	}

	if st.Size() == 0 {
		return errors.New("system image is empty")
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}

	defer dst.Close() //nolint:errcheck

	buf := make([]byte, copyChunkSize)

	var copied int64

	for {
		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return fmt.Errorf("failed to read system image: %w", readErr)
		}

		if n > 0 {
			if _, err = dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write %s: %w", destPath, err)
			}

			if err = unix.Fdatasync(int(dst.Fd())); err != nil {
				return fmt.Errorf("failed to sync %s: %w", destPath, err)
			}

			copied += int64(n)

			report(float64(copied) / float64(st.Size()))
		}

		// a short read means the source is exhausted
		if n < copyChunkSize {
			break
		}
	}

	return dst.Close()
}
