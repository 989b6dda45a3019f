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

package blewake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice1 answers the org.bluez.Device1 calls Connect makes. Methods it
// does not override panic through the nil embedded interface.
type fakeDevice1 struct {
	dbus.BusObject
	props      map[string]any
	connectErr error
	calls      []string
	ctxErrs    []error
	mu         sync.Mutex
}

func (f *fakeDevice1) GetProperty(p string) (dbus.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.props[p]
	if !ok {
		return dbus.Variant{}, errors.New("no such property")
	}
	return dbus.MakeVariant(v), nil
}

func (f *fakeDevice1) CallWithContext(
	ctx context.Context,
	method string,
	_ dbus.Flags,
	_ ...any,
) *dbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if method == bluezDevice1+".Connect" {
		return &dbus.Call{Err: f.connectErr}
	}
	return &dbus.Call{}
}

func (f *fakeDevice1) recorded() ([]string, []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]error(nil), f.ctxErrs...)
}

func fakeBlueZ(obj dbus.BusObject) *BlueZ {
	return &BlueZ{
		adapter: DefaultAdapter,
		clock:   clockwork.NewFakeClock(),
		object:  func(dbus.ObjectPath) dbus.BusObject { return obj },
	}
}

func testObjects() managedObjects {
	return managedObjects{
		"/org/bluez/hci0": {
			"org.bluez.Adapter1": {"Powered": dbus.MakeVariant(true)},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": {
			bluezDevice1: {
				"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
				"RSSI":    dbus.MakeVariant(int16(-60)),
			},
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66": {
			bluezDevice1: {
				"Address":   dbus.MakeVariant("11:22:33:44:55:66"),
				"Connected": dbus.MakeVariant(false),
			},
		},
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_00": {
			bluezDevice1: {
				"Address":   dbus.MakeVariant("AA:BB:CC:DD:EE:00"),
				"Connected": dbus.MakeVariant(true),
			},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0011": {
			bluezGattChar: {"UUID": dbus.MakeVariant("0000F001-0000-1000-8000-00805F9B34FB")},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0013": {
			bluezGattChar: {"UUID": dbus.MakeVariant(CharacteristicFF01)},
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service0010/char0011": {
			bluezGattChar: {"UUID": dbus.MakeVariant(CharacteristicF001)},
		},
	}
}

func TestFindDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		adapter  string
		address  string
		wantPath dbus.ObjectPath
		want     bool
	}{
		{
			name:     "advertising device",
			adapter:  "hci0",
			address:  "aa:bb:cc:dd:ee:ff",
			wantPath: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
			want:     true,
		},
		{
			name:     "known but not visible",
			adapter:  "hci0",
			address:  "11:22:33:44:55:66",
			wantPath: "/org/bluez/hci0/dev_11_22_33_44_55_66",
			want:     false,
		},
		{
			name:    "other adapter",
			adapter: "hci0",
			address: "AA:BB:CC:DD:EE:00",
			want:    false,
		},
		{
			name:     "connected on its adapter",
			adapter:  "hci1",
			address:  "AA:BB:CC:DD:EE:00",
			wantPath: "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_00",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, ok := findDevice(testObjects(), tt.adapter, tt.address)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestCharacteristicPaths(t *testing.T) {
	t.Parallel()

	chars := characteristicPaths(testObjects(), "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	assert.Equal(t, map[string]dbus.ObjectPath{
		CharacteristicF001: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0011",
		CharacteristicFF01: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0013",
	}, chars)
}

func TestConnectDisconnectsWhenServicesNeverResolve(t *testing.T) {
	t.Parallel()

	obj := &fakeDevice1{props: map[string]any{
		bluezDevice1 + ".Connected":        false,
		bluezDevice1 + ".ServicesResolved": false,
	}}
	dev := &bluezDevice{bus: fakeBlueZ(obj), path: "/org/bluez/hci0/dev_AA", address: "AA:BB:CC:DD:EE:FF"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	link, err := dev.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, link)

	calls, ctxErrs := obj.recorded()
	assert.Equal(t, []string{bluezDevice1 + ".Connect", bluezDevice1 + ".Disconnect"}, calls)
	require.Len(t, ctxErrs, 2)
	assert.NoError(t, ctxErrs[1], "disconnect must not run on the expired context")
}

func TestConnectDisconnectsWhenConnectFails(t *testing.T) {
	t.Parallel()

	obj := &fakeDevice1{
		props:      map[string]any{bluezDevice1 + ".Connected": false},
		connectErr: errors.New("org.bluez.Error.Failed"),
	}
	dev := &bluezDevice{bus: fakeBlueZ(obj), path: "/org/bluez/hci0/dev_AA", address: "AA:BB:CC:DD:EE:FF"}

	_, err := dev.Connect(context.Background())
	require.Error(t, err)

	calls, _ := obj.recorded()
	assert.Equal(t, []string{bluezDevice1 + ".Connect", bluezDevice1 + ".Disconnect"}, calls)
}

func TestConnectLeavesForeignConnectionAlone(t *testing.T) {
	t.Parallel()

	obj := &fakeDevice1{props: map[string]any{
		bluezDevice1 + ".Connected":        true,
		bluezDevice1 + ".ServicesResolved": false,
	}}
	dev := &bluezDevice{bus: fakeBlueZ(obj), path: "/org/bluez/hci0/dev_AA", address: "AA:BB:CC:DD:EE:FF"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dev.Connect(ctx)
	require.Error(t, err)

	calls, _ := obj.recorded()
	assert.Empty(t, calls)
}
