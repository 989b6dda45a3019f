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
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	bluezBus          = "org.bluez"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	DefaultAdapter = "hci0"

	servicesPollInterval = 200 * time.Millisecond
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ resolves and drives peripherals through the BlueZ D-Bus API. It
// relies on BlueZ's own discovery cache and never starts a scan itself.
type BlueZ struct {
	clock   clockwork.Clock
	object  func(path dbus.ObjectPath) dbus.BusObject
	adapter string
}

// NewBlueZ connects to the system bus. An empty adapter means hci0.
func NewBlueZ(adapter string, clock clockwork.Clock) (*BlueZ, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &BlueZ{
		adapter: adapter,
		clock:   clock,
		object: func(path dbus.ObjectPath) dbus.BusObject {
			return conn.Object(bluezBus, path)
		},
	}, nil
}

func (b *BlueZ) objects() (managedObjects, error) {
	var objects managedObjects
	call := b.object("/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to parse managed objects: %w", err)
	}
	return objects, nil
}

// Lookup finds the device under the adapter. A device counts as visible
// when it is connected or has a current RSSI reading.
func (b *BlueZ) Lookup(address string) (Peripheral, bool) {
	objects, err := b.objects()
	if err != nil {
		log.Debug().Err(err).Msg("bluez: lookup failed")
		return nil, false
	}
	path, ok := findDevice(objects, b.adapter, address)
	if !ok {
		return nil, false
	}
	return &bluezDevice{bus: b, path: path, address: address}, true
}

type bluezDevice struct {
	bus     *BlueZ
	path    dbus.ObjectPath
	address string
}

// Connect returns a link once GATT services are resolved. A connection
// this call started is torn down again on every failure.
func (d *bluezDevice) Connect(ctx context.Context) (Link, error) {
	obj := d.bus.object(d.path)

	connected, err := getProperty[bool](obj, bluezDevice1, "Connected")
	if err == nil && connected {
		return d.resolve(ctx, obj)
	}

	call := obj.CallWithContext(ctx, bluezDevice1+".Connect", 0)
	if call.Err != nil {
		d.abandon(ctx, obj)
		return nil, fmt.Errorf("bluez connect to %s failed: %w", d.address, call.Err)
	}

	link, err := d.resolve(ctx, obj)
	if err != nil {
		d.abandon(ctx, obj)
		return nil, err
	}
	return link, nil
}

func (d *bluezDevice) resolve(ctx context.Context, obj dbus.BusObject) (Link, error) {
	if err := d.waitServicesResolved(ctx, obj); err != nil {
		return nil, err
	}
	objects, err := d.bus.objects()
	if err != nil {
		return nil, err
	}
	return &bluezLink{device: d, chars: characteristicPaths(objects, d.path)}, nil
}

// abandon disconnects after a failed connect, even if ctx is already done.
func (d *bluezDevice) abandon(ctx context.Context, obj dbus.BusObject) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDisconnectTimeout)
	defer cancel()
	if call := obj.CallWithContext(ctx, bluezDevice1+".Disconnect", 0); call.Err != nil {
		log.Debug().Err(call.Err).Msgf("bluez: disconnect after failed connect to %s", d.address)
	}
}

func (d *bluezDevice) waitServicesResolved(ctx context.Context, obj dbus.BusObject) error {
	ticker := d.bus.clock.NewTicker(servicesPollInterval)
	defer ticker.Stop()

	for {
		resolved, err := getProperty[bool](obj, bluezDevice1, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for services on %s: %w", d.address, ctx.Err())
		case <-ticker.Chan():
		}
	}
}

type bluezLink struct {
	device *bluezDevice
	chars  map[string]dbus.ObjectPath
}

func (l *bluezLink) WriteCharacteristic(
	ctx context.Context,
	uuid string,
	payload []byte,
	withResponse bool,
) error {
	path, ok := l.chars[strings.ToLower(uuid)]
	if !ok {
		return fmt.Errorf("characteristic %s not found on %s", uuid, l.device.address)
	}

	writeType := "command"
	if withResponse {
		writeType = "request"
	}
	obj := l.device.bus.object(path)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, payload, map[string]dbus.Variant{
		"type": dbus.MakeVariant(writeType),
	})
	if call.Err != nil {
		return fmt.Errorf("write to %s failed: %w", uuid, call.Err)
	}
	return nil
}

func (l *bluezLink) Disconnect(ctx context.Context) error {
	obj := l.device.bus.object(l.device.path)
	call := obj.CallWithContext(ctx, bluezDevice1+".Disconnect", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez disconnect from %s failed: %w", l.device.address, call.Err)
	}
	return nil
}

func findDevice(objects managedObjects, adapter, address string) (dbus.ObjectPath, bool) {
	prefix := "/org/bluez/" + adapter + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		addr, _ := variantValue[string](props, "Address")
		if !strings.EqualFold(addr, address) {
			continue
		}
		connected, _ := variantValue[bool](props, "Connected")
		_, hasRSSI := props["RSSI"]
		return path, connected || hasRSSI
	}
	return "", false
}

func characteristicPaths(objects managedObjects, device dbus.ObjectPath) map[string]dbus.ObjectPath {
	prefix := string(device) + "/"
	chars := make(map[string]dbus.ObjectPath)
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, ok := variantValue[string](props, "UUID")
		if !ok {
			continue
		}
		uuid = strings.ToLower(uuid)
		if _, seen := chars[uuid]; !seen {
			chars[uuid] = path
		}
	}
	return chars
}

func variantValue[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}

func getProperty[T any](obj dbus.BusObject, iface, property string) (T, error) {
	var zero T
	variant, err := obj.GetProperty(iface + "." + property)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s.%s: %w", iface, property, err)
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
