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
	"fmt"
	"io"
	"strconv"

	"github.com/ZaparooProject/zaparoo-drives/pkg/drives"
	"github.com/gocarina/gocsv"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputCSV   = "csv"
)

type driveRow struct {
	Selector  string `yaml:"selector" csv:"selector"`
	Name      string `yaml:"name" csv:"name"`
	Kind      string `yaml:"kind" csv:"kind"`
	Class     string `yaml:"class" csv:"class"`
	UniqueID  string `yaml:"unique_id" csv:"unique_id"`
	Label     string `yaml:"label" csv:"label"`
	Connected bool   `yaml:"connected" csv:"connected"`
	Available bool   `yaml:"available" csv:"available"`
}

func driveRows(list []drives.Drive) []driveRow {
	rows := make([]driveRow, 0, len(list))
	for i, d := range list {
		rows = append(rows, driveRow{
			Selector:  "[d" + strconv.Itoa(i) + "]",
			Name:      d.RootName(),
			Kind:      d.Kind().String(),
			Class:     d.Class().String(),
			UniqueID:  d.UniqueID(),
			Label:     d.FriendlyName(),
			Connected: d.IsConnected(),
			Available: d.IsAvailable(),
		})
	}
	return rows
}

func newDrivesCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "drives",
		Short: "List local drives and portable devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeDrives(cmd.OutOrStdout(), output, driveRows(a.reg.Drives()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, yaml or csv")
	return cmd
}

func writeDrives(w io.Writer, output string, rows []driveRow) error {
	switch output {
	case outputTable:
		tbl := table.New("SELECTOR", "NAME", "KIND", "CLASS", "ID", "LABEL", "STATE").
			WithWriter(w).
			WithPadding(2)
		for _, r := range rows {
			tbl.AddRow(r.Selector, r.Name, r.Kind, r.Class, r.UniqueID, r.Label, driveState(r))
		}
		tbl.Print()
		return nil
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("failed to encode drives: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode drives: %w", err)
		}
		return nil
	case outputCSV:
		if err := gocsv.Marshal(rows, w); err != nil {
			return fmt.Errorf("failed to write drives: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func driveState(r driveRow) string {
	switch {
	case r.Available:
		return "available"
	case r.Connected:
		return "empty"
	default:
		return "disconnected"
	}
}
