// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boxforge/installer/internal/pkg/install"
)

var imageCmdFlags struct {
	output   string
	size     string
	image    string
	bootVars []string
	quiet    bool
}

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build a raw disk image instead of installing to a physical disk",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		if imageCmdFlags.output == "" {
			return fmt.Errorf("--output is required")
		}

		if imageCmdFlags.image == "" {
			return fmt.Errorf("--image is required")
		}

		size, err := humanize.ParseBytes(imageCmdFlags.size)
		if err != nil {
			return fmt.Errorf("failed to parse size %q: %w", imageCmdFlags.size, err)
		}

		vars, err := parseBootVars(imageCmdFlags.bootVars)
		if err != nil {
			return err
		}

		options := &install.Options{
			ImagePath:     imageCmdFlags.image,
			BootVariables: vars,
		}

		installCmdFlags.quiet = imageCmdFlags.quiet

		finish := bindReporting(options)
		defer finish()

		return install.NewInstaller(options).BuildRawImage(cmd.Context(), imageCmdFlags.output, size)
	},
}

func init() {
	imageCmd.Flags().StringVar(&imageCmdFlags.output, "output", "", "the path of the raw image to create")
	imageCmd.Flags().StringVar(&imageCmdFlags.size, "size", "10GiB", "the size of the raw image")
	imageCmd.Flags().StringVar(&imageCmdFlags.image, "image", "", "the path to the system image")
	imageCmd.Flags().StringArrayVar(&imageCmdFlags.bootVars, "boot-var", nil, "boot variable for the installed system (key=value, repeatable)")
	imageCmd.Flags().BoolVar(&imageCmdFlags.quiet, "quiet", false, "suppress the progress bar")

	rootCmd.AddCommand(imageCmd)
}
