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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance. A disabled meter records nothing.
func New(cfg Config, serviceName string) *Meter {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}
	}
	return &Meter{meter: otel.Meter(serviceName)}
}

// Instruments are the domain counters recorded by the identity and sign-in
// paths.
type Instruments struct {
	resolutions metric.Int64Counter
	grants      metric.Int64Counter
	exchanges   metric.Int64Counter
}

// NewInstruments registers the domain instruments on m. A nil meter yields
// noop instruments, which keeps tests free of any provider setup.
func NewInstruments(m *Meter) (*Instruments, error) {
	if m == nil {
		m = New(Config{}, "jema")
	}

	resolutions, err := m.createCounter("jema.identity.resolutions", "Identity resolutions by outcome")
	if err != nil {
		return nil, err
	}
	grants, err := m.createCounter("jema.identity.privileges_granted", "Ad-hoc privileges persisted to accounts")
	if err != nil {
		return nil, err
	}
	exchanges, err := m.createCounter("jema.oauth.exchanges", "GitHub OAuth exchanges by outcome")
	if err != nil {
		return nil, err
	}

	return &Instruments{
		resolutions: resolutions,
		grants:      grants,
		exchanges:   exchanges,
	}, nil
}

// Resolution records one identity resolution. Outcome is one of
// "anonymous", "authenticated", "miss" or "degraded".
func (i *Instruments) Resolution(ctx context.Context, outcome string) {
	if i == nil {
		return
	}
	i.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Granted records n privileges persisted in one reconciliation.
func (i *Instruments) Granted(ctx context.Context, n int) {
	if i == nil || n == 0 {
		return
	}
	i.grants.Add(ctx, int64(n))
}

// Exchange records the final outcome of a sign-in callback.
func (i *Instruments) Exchange(ctx context.Context, outcome string) {
	if i == nil {
		return
	}
	i.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Meter) createCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}
