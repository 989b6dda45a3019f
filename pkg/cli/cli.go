// Zaparoo Canvas
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Canvas.
//
// Zaparoo Canvas is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Canvas is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Canvas.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ZaparooProject/zaparoo-canvas/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/client"
	apimodels "github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	canvasapi "github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/config"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/discovery"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrDeviceUnavailable = errors.New("device did not answer")

type DiscoverFunc func(ctx context.Context, opts discovery.Options) ([]discovery.Candidate, error)

type Flags struct {
	Config   *string
	Version  *bool
	Discover *bool
	Wake     *bool
	Info     *bool
	Status   *bool
	Watch    *bool
	discover DiscoverFunc
}

// NewFlags defines the common flags on fs.
func NewFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Config: fs.String(
			"config",
			"",
			"path to config file",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Discover: fs.Bool(
			"discover",
			false,
			"find canvas devices on the network and save the first one if none is configured",
		),
		Wake: fs.Bool(
			"wake",
			false,
			"wake the device over bluetooth and wait until it answers",
		),
		Info: fs.Bool(
			"info",
			false,
			"print the device info without waking it",
		),
		Status: fs.Bool(
			"status",
			false,
			"print the running service's snapshot",
		),
		Watch: fs.Bool(
			"watch",
			false,
			"print every snapshot the running service announces",
		),
		discover: discovery.Discover,
	}
}

func SetupFlags() *Flags {
	return NewFlags(flag.CommandLine)
}

// Pre parses flags and handles the ones that need no setup.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("Zaparoo Canvas v%s\n", config.AppVersion)
		os.Exit(0)
	}
}

// Setup initializes logging, the config and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(configPath string, defaults config.Values, writers []io.Writer) (*config.Instance, error) {
	if err := helpers.InitLogging(helpers.LogDir(), writers); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	var (
		cfg *config.Instance
		err error
	)
	if configPath != "" {
		cfg, err = config.NewConfigAt(configPath, defaults)
	} else {
		cfg, err = config.NewConfig(helpers.ConfigDir(), defaults)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := telemetry.Init(cfg.TelemetryDSN(), cfg.InstanceID(), config.AppVersion); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	if err != nil {
		return fmt.Errorf("error writing output: %w", err)
	}
	return nil
}

// Post handles the one-shot flags. It reports whether one was handled, in
// which case the caller should exit instead of starting the service.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, out io.Writer) (bool, error) {
	switch {
	case *f.Discover:
		return true, f.runDiscover(ctx, cfg, out)
	case *f.Wake:
		return true, runDevice(ctx, cfg, out, true)
	case *f.Info:
		return true, runDevice(ctx, cfg, out, false)
	case *f.Status:
		resp, err := client.Device(ctx, cfg)
		if err != nil {
			return true, fmt.Errorf("error getting status: %w", err)
		}
		return true, printJSON(out, resp)
	case *f.Watch:
		err := client.Watch(ctx, cfg, func(resp apimodels.DeviceResponse) {
			if err := printJSON(out, resp); err != nil {
				log.Warn().Err(err).Msg("error printing snapshot")
			}
		})
		if err != nil {
			return true, fmt.Errorf("error watching service: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (f *Flags) runDiscover(ctx context.Context, cfg *config.Instance, out io.Writer) error {
	found, err := f.discover(ctx, discovery.Options{})
	if err != nil {
		return fmt.Errorf("error discovering devices: %w", err)
	}
	if err := printJSON(out, found); err != nil {
		return err
	}
	if len(found) == 0 || cfg.DeviceHost() != "" {
		return nil
	}

	dev := found[0]
	cfg.SetDeviceHost(dev.Host)
	if cfg.BLEAddress() == "" {
		cfg.SetBLEAddress(dev.BtMAC)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	log.Info().Msgf("saved device %s (%s) to config", dev.Host, dev.SN)
	return nil
}

// runDevice fetches the device info directly, optionally waking it first.
func runDevice(ctx context.Context, cfg *config.Instance, out io.Writer, wake bool) error {
	dev, err := service.NewClient(cfg, nil)
	if err != nil {
		return fmt.Errorf("error creating device client: %w", err)
	}
	info := dev.GetDeviceInfo(ctx, canvasapi.WithWake(wake))
	if info == nil {
		return ErrDeviceUnavailable
	}
	return printJSON(out, info)
}
