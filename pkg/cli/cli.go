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

// Package cli implements the drivectl command tree over a drive registry.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/zaparoo-drives/pkg/config"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives"
	"github.com/ZaparooProject/zaparoo-drives/pkg/drives/monitor"
	"github.com/ZaparooProject/zaparoo-drives/pkg/helpers"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// closeTimeout bounds how long exiting waits for async transfers.
const closeTimeout = 30 * time.Minute

// Deps are the outside pieces a run is wired to.
type Deps struct {
	Fs    afero.Fs
	Clock clockwork.Clock
	// Options builds the registry options. It defaults to the options
	// derived from the config file.
	Options func(cfg *config.Instance) []drives.Option
	// Monitors builds the device monitors used by watch.
	Monitors func(cfg *config.Instance) []monitor.Monitor
	// LogDir is where drives.log goes. Empty skips the log file.
	LogDir     string
	LogWriters []io.Writer
}

func DefaultDeps() Deps {
	return Deps{
		Fs:     afero.NewOsFs(),
		Clock:  clockwork.NewRealClock(),
		LogDir: helpers.LogDir(),
	}
}

func (d Deps) options(cfg *config.Instance) []drives.Option {
	if d.Options != nil {
		return d.Options(cfg)
	}
	return cfg.RegistryOptions(d.Fs, d.Clock)
}

func (d Deps) monitors(cfg *config.Instance) []monitor.Monitor {
	if d.Monitors != nil {
		return d.Monitors(cfg)
	}
	return cfg.Monitors(d.Fs, d.Clock)
}

// Setup loads the config at cfgPath, or the default location when empty,
// and starts logging.
func Setup(cfgPath string, debug bool, deps Deps) (*config.Instance, error) {
	var (
		cfg *config.Instance
		err error
	)
	if cfgPath != "" {
		cfg, err = config.Open(cfgPath, config.BaseDefaults)
	} else {
		cfg, err = config.NewConfig(helpers.ConfigDir(), config.BaseDefaults)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	debug = debug || cfg.DebugLogging()
	if deps.LogDir != "" {
		if err := helpers.InitLogging(deps.LogDir, debug, deps.LogWriters); err != nil {
			return nil, fmt.Errorf("error initializing logging: %w", err)
		}
	} else if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}

// Run executes drivectl with args and releases the registry afterwards,
// waiting for async transfers still running.
func Run(ctx context.Context, args []string, deps Deps, stdout, stderr io.Writer) error {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	a := &app{deps: deps}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

// app is the state shared by the commands of one run.
type app struct {
	cfg     *config.Instance
	reg     *drives.Registry
	deps    Deps
	cfgPath string
	debug   bool
}

func (a *app) open(ctx context.Context) error {
	cfg, err := Setup(a.cfgPath, a.debug, a.deps)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.reg = drives.New(a.deps.options(cfg)...)
	if err := a.reg.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("drive list is incomplete")
	}
	return nil
}

func (a *app) close() error {
	if a.reg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := a.reg.Close(ctx)

	if a.cfg.RememberIdentities(a.reg.Identities()) {
		if saveErr := a.cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to save device identities")
		} else {
			log.Debug().Str("path", a.cfg.Path()).Msg("saved device identities")
		}
	}
	a.reg = nil
	return err
}
