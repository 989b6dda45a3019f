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

// Package discovery finds Canvas devices on the local network.
//
// Devices advertise a generic _http._tcp service, so every mDNS candidate is
// verified by fetching /deviceInfo and checking its signature.
package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/throttle"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers/syncutil"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceType is the DNS-SD service type devices advertise.
const ServiceType = "_http._tcp"

const (
	DefaultBrowseTimeout = 5 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	minBrowseTimeout     = 500 * time.Millisecond
	maxInstances         = 40
	maxConcurrentProbes  = 5
)

const (
	expectedMsCode = "ARPO"
	expectedType   = "warptrek"
)

// Candidate is a verified device.
type Candidate struct {
	Host   string `json:"host"`
	Name   string `json:"name,omitempty"`
	SN     string `json:"sn"`
	BtMAC  string `json:"bt_mac"`
	MsCode string `json:"ms_code,omitempty"`
	Type   string `json:"type,omitempty"`
}

// BrowseFunc returns the IPv4 addresses of services of the given type.
type BrowseFunc func(ctx context.Context, service string, timeout time.Duration) ([]string, error)

// InfoFunc fetches /deviceInfo from host without waking it.
type InfoFunc func(ctx context.Context, host string) *models.DeviceInfo

// Options tunes a discovery run. Zero values use the defaults.
type Options struct {
	Browse BrowseFunc
	Info   InfoFunc
	// TargetBtMAC keeps only the device with this bluetooth address.
	TargetBtMAC   string
	BrowseTimeout time.Duration
}

// NormalizeBtMAC formats a bluetooth address (e.g. f49042163f47) as
// F4:90:42:16:3F:47.
func NormalizeBtMAC(s string) (string, bool) {
	var hex strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			hex.WriteRune(r)
		}
	}
	h := hex.String()
	if len(h) != 12 {
		return "", false
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":"), true
}

// SignatureMatches reports whether a /deviceInfo answer came from a Canvas.
func SignatureMatches(info *models.DeviceInfo) bool {
	if info == nil {
		return false
	}
	if strings.TrimSpace(info.SN) == "" || strings.TrimSpace(info.BtMAC) == "" {
		return false
	}
	return strings.TrimSpace(info.MsCode) == expectedMsCode ||
		strings.TrimSpace(info.Type) == expectedType
}

// BrowseMDNS browses service for timeout and returns the unique IPv4
// addresses seen, capped to a fixed number of instances.
func BrowseMDNS(ctx context.Context, service string, timeout time.Duration) ([]string, error) {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, max(timeout, minBrowseTimeout))
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", service, err)
	}

	seen := make(map[string]struct{})
	ips := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return sortedKeys(ips), nil
		case entry, ok := <-entries:
			if !ok {
				return sortedKeys(ips), nil
			}
			if _, dup := seen[entry.Instance]; dup || len(seen) >= maxInstances {
				continue
			}
			seen[entry.Instance] = struct{}{}
			for _, ip := range entry.AddrIPv4 {
				if ip4 := ip.To4(); ip4 != nil {
					ips[ip4.String()] = struct{}{}
				}
			}
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// FetchInfo asks host for /deviceInfo with a short timeout and no wake.
// Most candidates are not Canvas devices, so failures are not logged.
func FetchInfo(ctx context.Context, host string) *models.DeviceInfo {
	client := api.NewClient(host, api.WithTracker(throttle.New(zerolog.Nop())))
	return client.GetDeviceInfo(ctx, api.WithWake(false), api.WithTimeout(DefaultProbeTimeout))
}

// Discover browses the network and returns the verified devices sorted by
// host.
func Discover(ctx context.Context, opts Options) ([]Candidate, error) {
	if opts.Browse == nil {
		opts.Browse = BrowseMDNS
	}
	if opts.Info == nil {
		opts.Info = FetchInfo
	}
	if opts.BrowseTimeout <= 0 {
		opts.BrowseTimeout = DefaultBrowseTimeout
	}

	var target string
	if opts.TargetBtMAC != "" {
		mac, ok := NormalizeBtMAC(opts.TargetBtMAC)
		if !ok {
			return nil, fmt.Errorf("invalid target bluetooth address: %q", opts.TargetBtMAC)
		}
		target = mac
	}

	hosts, err := opts.Browse(ctx, ServiceType, opts.BrowseTimeout)
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("mDNS browse returned %d candidate address(es)", len(hosts))

	var (
		mu    syncutil.Mutex
		found []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for _, host := range hosts {
		g.Go(func() error {
			c, ok := verify(gctx, opts.Info, host, target)
			if ok {
				mu.Lock()
				found = append(found, c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(found, func(a, b Candidate) int {
		return compareHosts(a.Host, b.Host)
	})
	log.Info().Msgf("discovered %d canvas device(s)", len(found))
	return found, nil
}

func verify(ctx context.Context, fetch InfoFunc, host, target string) (Candidate, bool) {
	info := fetch(ctx, host)
	if !SignatureMatches(info) {
		return Candidate{}, false
	}
	mac, ok := NormalizeBtMAC(info.BtMAC)
	if !ok {
		return Candidate{}, false
	}
	if target != "" && mac != target {
		log.Debug().Msgf("discarding %s: bt_mac %s does not match %s", host, mac, target)
		return Candidate{}, false
	}
	return Candidate{
		Host:   host,
		Name:   info.Name,
		SN:     strings.TrimSpace(info.SN),
		BtMAC:  mac,
		MsCode: info.MsCode,
		Type:   info.Type,
	}, true
}

func compareHosts(a, b string) int {
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	if ipA != nil && ipB != nil {
		return slices.Compare(ipA.To16(), ipB.To16())
	}
	return strings.Compare(a, b)
}
