// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"github.com/siderolabs/gen/maps"
	"github.com/siderolabs/go-pointer"
	"github.com/spf13/cobra"

	"github.com/boxforge/installer/internal/pkg/blockdev"
	"github.com/boxforge/installer/internal/pkg/runner"
)

var disksCmdFlags struct {
	minSize string
}

// disksCmd represents the disks command.
var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List disks usable as install targets",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		minSize, err := humanize.ParseBytes(disksCmdFlags.minSize)
		if err != nil {
			return fmt.Errorf("failed to parse minimum size %q: %w", disksCmdFlags.minSize, err)
		}

		disks, err := blockdev.List(cmd.Context(), runner.Default(), minSize)
		if err != nil {
			return err
		}

		if len(disks) == 0 {
			fmt.Fprintln(os.Stderr, "no usable disks found")
			os.Exit(1)
		}

		return printDisks(disks)
	},
}

func printDisks(disks map[string]blockdev.Disk) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, "NAME\tMODEL\tSIZE\tTRAN\tLOG-SEC")

	getWithPlaceholder := func(in string) string {
		if in == "" {
			return "-"
		}

		return in
	}

	paths := maps.Keys(disks)
	slices.Sort(paths)

	for _, path := range paths {
		disk := disks[path]

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			path,
			getWithPlaceholder(pointer.SafeDeref(disk.Model)),
			humanize.Bytes(disk.Size),
			getWithPlaceholder(pointer.SafeDeref(disk.Transport)),
			strconv.FormatUint(uint64(disk.LogicalSectorSize), 10),
		)
	}

	return w.Flush()
}

func init() {
	disksCmd.Flags().StringVar(&disksCmdFlags.minSize, "min-size", "8GiB", "the minimum disk size to list")

	rootCmd.AddCommand(disksCmd)
}
