//go:build govips && cgo

package screenshot

import (
	"log"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initializes the libvips runtime. Every image in this service is
// decoded exactly once and thrown away, so the operation cache is disabled
// outright, and per-image threading stays at one because the worker already
// fans out across jobs.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(func(domain string, _ vips.LogLevel, msg string) {
			log.Printf("vips %s: %s", domain, msg)
		}, vips.LogLevelWarning)

		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheFiles:    0,
			MaxCacheMem:      0,
			MaxCacheSize:     0,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

// Shutdown releases libvips resources. Safe to call without a prior Startup.
func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}
