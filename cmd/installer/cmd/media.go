// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxforge/installer/internal/pkg/bootloader/grub"
	"github.com/boxforge/installer/internal/pkg/install"
)

var mediaCmdFlags struct {
	disk  string
	image string
	quiet bool
}

// mediaMinDiskSize is the minimum size for removable install media.
const mediaMinDiskSize = 3_000_000_000

// mediaCmd represents the media command.
var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Create removable install media from a system image",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mediaCmdFlags.disk == "" {
			return fmt.Errorf("--disk is required")
		}

		if mediaCmdFlags.image == "" {
			return fmt.Errorf("--image is required")
		}

		options := &install.Options{
			Disk:        mediaCmdFlags.disk,
			ImagePath:   mediaCmdFlags.image,
			MinDiskSize: mediaMinDiskSize,
			Mode:        install.ModeMedia,
			BootVariables: []grub.Variable{
				{Key: "systemd_unit", Value: "installer.target"},
			},
		}

		installCmdFlags.quiet = mediaCmdFlags.quiet

		finish := bindReporting(options)
		defer finish()

		return install.NewInstaller(options).Install(cmd.Context())
	},
}

func init() {
	mediaCmd.Flags().StringVar(&mediaCmdFlags.disk, "disk", "", "the path to the removable disk")
	mediaCmd.Flags().StringVar(&mediaCmdFlags.image, "image", "", "the path to the system image")
	mediaCmd.Flags().BoolVar(&mediaCmdFlags.quiet, "quiet", false, "suppress the progress bar")

	rootCmd.AddCommand(mediaCmd)
}
