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

package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notif(i int) models.Notification {
	return models.Notification{
		Method: models.NotificationDeviceUpdated,
		Params: []byte(fmt.Sprintf(`{"battery":%d}`, i)),
	}
}

func receive(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return models.Notification{}
	}
}

func startBroker(t *testing.T, source <-chan models.Notification) (*Broker, func()) {
	t.Helper()
	b := NewBroker(source)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	return b, func() {
		cancel()
		<-done
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(make(chan models.Notification))
	ch, id := b.Subscribe(10)
	_, id2 := b.Subscribe(10)
	assert.Equal(t, 0, id)
	assert.Equal(t, 1, id2)
	assert.Len(t, b.subscribers, 2)

	b.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	b.Unsubscribe(id)
	assert.Len(t, b.subscribers, 1)
}

func TestBroadcastToAllSubscribers(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification, 1)
	b, stop := startBroker(t, source)
	defer stop()

	subs := []<-chan models.Notification{}
	for range 3 {
		ch, _ := b.Subscribe(10)
		subs = append(subs, ch)
	}

	source <- notif(1)
	for _, ch := range subs {
		assert.JSONEq(t, `{"battery":1}`, string(receive(t, ch).Params))
	}
}

func TestLatestReplayedToLateSubscriber(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b, stop := startBroker(t, source)
	defer stop()

	early, _ := b.Subscribe(10)
	source <- notif(1)
	source <- notif(2)
	receive(t, early)
	receive(t, early)

	late, _ := b.Subscribe(10)
	assert.JSONEq(t, `{"battery":2}`, string(receive(t, late).Params))
}

func TestSlowConsumerDoesNotBlock(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b, stop := startBroker(t, source)
	defer stop()

	slow, _ := b.Subscribe(1)
	fast, _ := b.Subscribe(10)

	for i := range 5 {
		source <- notif(i)
	}
	for range 5 {
		receive(t, fast)
	}
	assert.Len(t, slow, 1)
}

func TestRunClosesSubscribers(t *testing.T) {
	t.Parallel()

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		b, stop := startBroker(t, make(chan models.Notification))
		ch, _ := b.Subscribe(1)
		stop()
		_, ok := <-ch
		assert.False(t, ok)

		after, _ := b.Subscribe(1)
		_, ok = <-after
		assert.False(t, ok)
	})

	t.Run("source closed", func(t *testing.T) {
		t.Parallel()
		source := make(chan models.Notification)
		b := NewBroker(source)
		ch, _ := b.Subscribe(1)
		close(source)
		b.Run(context.Background())
		_, ok := <-ch
		assert.False(t, ok)
	})
}

func TestConcurrentSubscribe(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification, 100)
	b, stop := startBroker(t, source)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, id := b.Subscribe(5)
			source <- notif(i)
			if i%2 == 0 {
				b.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()
	stop()
	assert.Empty(t, b.subscribers)
}
