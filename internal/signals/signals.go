// Copyright 2026 The JeMa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signals provides in-process publish/subscribe hooks. Listeners run
// synchronously on the sender's goroutine, in connection order.
package signals

import (
	"context"
	"log/slog"
	"sync"

	"github.com/saltstack/jema/internal/observability/logger"
)

// Signal is a named hook carrying payloads of type T
type Signal[T any] struct {
	name string

	mu        sync.RWMutex
	listeners []*Listener[T]
	nextID    uint64
}

// Listener is a connected callback; Close disconnects it
type Listener[T any] struct {
	id     uint64
	fn     func(context.Context, T)
	signal *Signal[T]
}

// New creates a signal
func New[T any](name string) *Signal[T] {
	return &Signal[T]{name: name}
}

func (s *Signal[T]) Name() string { return s.name }

// Connect registers fn and returns its listener
func (s *Signal[T]) Connect(fn func(context.Context, T)) *Listener[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	l := &Listener[T]{id: s.nextID, fn: fn, signal: s}
	s.listeners = append(s.listeners, l)
	return l
}

// Close disconnects the listener. Closing twice is a no-op.
func (l *Listener[T]) Close() {
	s := l.signal
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, other := range s.listeners {
		if other.id == l.id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Send invokes every listener with payload. A panicking listener is logged
// and does not stop the rest.
func (s *Signal[T]) Send(ctx context.Context, payload T) {
	s.mu.RLock()
	listeners := append([]*Listener[T](nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		s.invoke(ctx, l, payload)
	}
}

func (s *Signal[T]) invoke(ctx context.Context, l *Listener[T], payload T) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "signal listener panicked",
				logger.Component("signals"),
				logger.String("signal", s.name),
				slog.Any("panic", rec),
			)
		}
	}()
	l.fn(ctx, payload)
}

// Len returns the number of connected listeners
func (s *Signal[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
