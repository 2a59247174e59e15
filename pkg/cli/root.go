// Zaparoo Drives
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Drives.
//
// Zaparoo Drives is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Drives is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Drives.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "drivectl",
		Short: "Browse and copy files across local disks and portable devices",
		Long: `drivectl works with local drives and MTP portable devices through one
path syntax. Drives are addressed by name (data:\), by unique id
({a1b2c3d4e5f6}:\) or by ordinal ([d0]:\ for the first drive, [a0]:\ for
the first Android device, [i0]:\ and [p0]:\ for iOS and portable devices).
Forward slashes may be used instead of backslashes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to drives.toml")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newDrivesCmd(a),
		newLsCmd(a),
		newTreeCmd(a),
		newMkdirCmd(a),
		newRmCmd(a),
		newCpCmd(a),
		newBulkCpCmd(a),
		newWatchCmd(a),
	)
	return root
}
