package config

import "go.uber.org/atomic"

// global is the process-wide config owner: readers always see a whole
// Config, never a partially constructed one, since Set swaps the pointer
// in one atomic store. Set does not call Validate itself; a Config
// returned by Load has already passed it.
var global atomic.Pointer[Config]

// Set publishes cfg as the process-wide config. Intended to be called once
// at startup after Load, and again only for tests that need a different
// config in effect.
func Set(cfg Config) {
	global.Store(&cfg)
}

// Get returns the current process-wide config. Panics if Set was never
// called, since every entrypoint is expected to call config.Set(config.Load())
// (or a test equivalent) before any code that depends on it runs.
func Get() Config {
	p := global.Load()
	if p == nil {
		panic("config: Get called before Set")
	}
	return *p
}
