// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boxforge/installer/internal/pkg/bootloader/grub"
	"github.com/boxforge/installer/internal/pkg/install"
)

var installCmdFlags struct {
	disk       string
	image      string
	minSize    string
	profile    string
	bootVars   []string
	textMode   bool
	targetUnit string
	quiet      bool
}

// profile is an install profile loaded from a YAML file.
type profile struct {
	Disk     string `yaml:"disk"`
	Image    string `yaml:"image"`
	MinSize  string `yaml:"minSize"`
	BootVars []struct {
		Key   string `yaml:"key"`
		Value string `yaml:"value"`
	} `yaml:"bootVars"`
}

// installCmd represents the install command.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the system image onto a disk",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		options, err := buildInstallOptions()
		if err != nil {
			return err
		}

		finish := bindReporting(options)
		defer finish()

		return install.NewInstaller(options).Install(cmd.Context())
	},
}

func init() {
	installCmd.Flags().StringVar(&installCmdFlags.disk, "disk", "", "the path to the disk to install to")
	installCmd.Flags().StringVar(&installCmdFlags.image, "image", "", "the path to the system image to install")
	installCmd.Flags().StringVar(&installCmdFlags.minSize, "min-size", "8GiB", "the minimum disk size to accept")
	installCmd.Flags().StringVar(&installCmdFlags.profile, "profile", "", "the path to a YAML install profile")
	installCmd.Flags().StringArrayVar(&installCmdFlags.bootVars, "boot-var", nil, "boot variable for the installed system (key=value, repeatable)")
	installCmd.Flags().BoolVar(&installCmdFlags.textMode, "text-mode", false, "boot the installed system in text mode")
	installCmd.Flags().StringVar(&installCmdFlags.targetUnit, "target-unit", "", "systemd unit the installed system should boot into")
	installCmd.Flags().BoolVar(&installCmdFlags.quiet, "quiet", false, "suppress the progress bar")

	rootCmd.AddCommand(installCmd)
}

//nolint:gocyclo
func buildInstallOptions() (*install.Options, error) {
	options := &install.Options{
		Disk:      installCmdFlags.disk,
		ImagePath: installCmdFlags.image,
	}

	minSize := installCmdFlags.minSize

	if installCmdFlags.profile != "" {
		b, err := os.ReadFile(installCmdFlags.profile)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}

		var p profile

		decoder := yaml.NewDecoder(strings.NewReader(string(b)))
		decoder.KnownFields(true)

		if err = decoder.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}

		if options.Disk == "" {
			options.Disk = p.Disk
		}

		if options.ImagePath == "" {
			options.ImagePath = p.Image
		}

		if p.MinSize != "" {
			minSize = p.MinSize
		}

		for _, v := range p.BootVars {
			options.BootVariables = append(options.BootVariables, grub.Variable{Key: v.Key, Value: v.Value})
		}
	}

	if options.Disk == "" {
		return nil, fmt.Errorf("--disk is required")
	}

	if options.ImagePath == "" {
		return nil, fmt.Errorf("--image is required")
	}

	size, err := humanize.ParseBytes(minSize)
	if err != nil {
		return nil, fmt.Errorf("failed to parse minimum size %q: %w", minSize, err)
	}

	options.MinDiskSize = size

	if installCmdFlags.textMode {
		options.BootVariables = append(options.BootVariables, grub.Variable{Key: "default", Value: "text"})
	}

	if installCmdFlags.targetUnit != "" {
		options.BootVariables = append(options.BootVariables, grub.Variable{Key: "systemd_unit", Value: installCmdFlags.targetUnit})
	}

	vars, err := parseBootVars(installCmdFlags.bootVars)
	if err != nil {
		return nil, err
	}

	options.BootVariables = append(options.BootVariables, vars...)

	return options, nil
}

func parseBootVars(raw []string) ([]grub.Variable, error) {
	var vars []grub.Variable //nolint:prealloc

	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid boot variable %q, expected key=value", kv)
		}

		vars = append(vars, grub.Variable{Key: key, Value: value})
	}

	return vars, nil
}

// bindReporting wires the progress and message callbacks either to an
// interactive progress bar or to the log, and returns a finalizer.
func bindReporting(options *install.Options) (finish func()) {
	if installCmdFlags.quiet {
		options.OnMessage = func(text string) {
			log.Print(text)
		}
		options.Printf = log.Printf

		return func() {}
	}

	uiprogress.Start()

	bar := uiprogress.AddBar(100).AppendCompleted()

	state := "starting..."

	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return state
	})

	options.OnProgress = func(fraction float64) {
		bar.Set(int(fraction * 100)) //nolint:errcheck
	}
	options.OnMessage = func(text string) {
		state = text
	}
	options.Printf = func(string, ...any) {}

	return uiprogress.Stop
}
