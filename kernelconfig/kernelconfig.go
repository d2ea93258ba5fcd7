// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package kernelconfig loads the kernel's configuration surface:
// tx buffer sizing, receive buffer pool sizing, the delay buffer's
// delay window, the per-connection in-flight cap, timer pool size,
// and the stats period.
//
// Loading uses github.com/knadh/koanf: struct defaults loaded first,
// then an env-var provider layered on top, then Unmarshal back into
// the struct. The kernel is a library consumed by other programs and
// carries no config file format of its own, so environment variables
// are the override source an embedding caller always has.
package kernelconfig

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"

	"github.com/cdi-go/kernel/kernelerr"
)

// EnvPrefix is the environment-variable prefix kernelconfig reads
// from: CDI_KERNEL_TX_BUFFER_SIZE_BYTES, CDI_KERNEL_DELAY_MS, and so
// on. A variable's name is the prefix followed by the Config field's
// koanf tag upper-cased; Load strips the prefix and lower-cases the
// rest, keeping the underscores, to get the koanf key back.
const EnvPrefix = "CDI_KERNEL_"

// Config holds every tunable the kernel exposes.
type Config struct {
	// TxBufferSizeBytes is required non-zero for a send-capable
	// endpoint.
	TxBufferSizeBytes int `koanf:"tx_buffer_size_bytes"`

	// RxPoolInitial/RxPoolGrow/RxPoolMaxGrow size the endpoint's
	// receive buffer pool.
	RxPoolInitial int `koanf:"rx_pool_initial"`
	RxPoolGrow    int `koanf:"rx_pool_grow"`
	RxPoolMaxGrow int `koanf:"rx_pool_max_grow"`

	// DelayMS is the receive delay buffer's configured delay window,
	// in milliseconds.
	DelayMS int `koanf:"delay_ms"`

	// MaxInFlightPayloads bounds in-flight payloads per connection.
	MaxInFlightPayloads int `koanf:"max_in_flight_payloads"`

	// TimerPoolSize sizes the timer's entry pool.
	TimerPoolSize int `koanf:"timer_pool_size"`

	// StatsPeriodMS is the stats-gathering period. The stats subsystem
	// lives outside this module, but the period is part of the
	// configuration surface this core exposes to it.
	StatsPeriodMS int `koanf:"stats_period_ms"`
}

// Defaults returns the struct defaults Load starts from before
// layering environment overrides on top.
func Defaults() Config {
	return Config{
		RxPoolInitial:       32,
		RxPoolGrow:          16,
		RxPoolMaxGrow:       8,
		DelayMS:             50,
		MaxInFlightPayloads: 64,
		TimerPoolSize:       32,
		StatsPeriodMS:       1000,
	}
}

// Delay returns DelayMS as a time.Duration, the unit every other
// package in this kernel (timer, delaybuffer) actually takes.
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// StatsPeriod returns StatsPeriodMS as a time.Duration.
func (c Config) StatsPeriod() time.Duration {
	return time.Duration(c.StatsPeriodMS) * time.Millisecond
}

// Validate checks the config before it is handed to endpoint.Open: a
// send-capable endpoint needs a non-zero tx buffer size, every
// pool/queue sizing field must be non-negative, and DelayMS must be
// positive.
func (c Config) Validate(requireTxBuffer bool) error {
	if requireTxBuffer && c.TxBufferSizeBytes <= 0 {
		return kernelerr.Wrap("kernelconfig", kernelerr.ErrInvalidParameter)
	}
	if c.RxPoolInitial < 0 || c.RxPoolGrow < 0 || c.RxPoolMaxGrow < 0 ||
		c.DelayMS <= 0 || c.MaxInFlightPayloads < 0 || c.TimerPoolSize < 0 {
		return kernelerr.Wrap("kernelconfig", kernelerr.ErrInvalidParameter)
	}
	return nil
}

// Load builds a Config starting from Defaults(), then layers
// environment variables prefixed with EnvPrefix on top (e.g.
// CDI_KERNEL_DELAY_MS=25).
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, kernelerr.Wrap("kernelconfig: defaults", err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, kernelerr.Wrap("kernelconfig: env", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, kernelerr.Wrap("kernelconfig: unmarshal", err)
	}
	return c, nil
}
