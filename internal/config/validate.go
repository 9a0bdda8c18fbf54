package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flockd-io/flockd/internal/wire"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: simulation size %dx%d", ErrInvalid, s.Width, s.Height)
	}
	if s.Width > wire.MaxExtent || s.Height > wire.MaxExtent {
		return fmt.Errorf("%w: simulation size %dx%d exceeds %d", ErrInvalid, s.Width, s.Height, wire.MaxExtent)
	}
	if s.VisionRadius <= 0 {
		return fmt.Errorf("%w: visionRadius %d", ErrInvalid, s.VisionRadius)
	}
	if s.OverloadThreshold <= 0 {
		return fmt.Errorf("%w: overloadThreshold %d", ErrInvalid, s.OverloadThreshold)
	}
	if c.Coordinator.EntityCount < 0 {
		return fmt.Errorf("%w: entityCount %d", ErrInvalid, c.Coordinator.EntityCount)
	}
	if c.Coordinator.AutoDiscoveryMs < 0 {
		return fmt.Errorf("%w: autoDiscoveryMs %d", ErrInvalid, c.Coordinator.AutoDiscoveryMs)
	}
	if id := wire.ID(c.Host.RouterID); id < wire.FirstRouterID {
		return fmt.Errorf("%w: routerId %d overlaps the reserved and worker ids, use %d or above", ErrInvalid, id, wire.FirstRouterID)
	}
	if c.Host.Workers < 0 || c.Host.Workers > wire.MaxWorkers {
		return fmt.Errorf("%w: workers %d, want 0..%d", ErrInvalid, c.Host.Workers, wire.MaxWorkers)
	}
	switch strings.ToLower(c.Capture.Compression) {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("%w: compression %q", ErrInvalid, c.Capture.Compression)
	}
	if c.Capture.SegmentTicks < 0 {
		return fmt.Errorf("%w: segmentTicks %d", ErrInvalid, c.Capture.SegmentTicks)
	}
	switch c.Registry.Backend {
	case BackendMemory, BackendObjectStore:
	case BackendOxia:
		if c.Registry.OxiaEndpoint == "" {
			return fmt.Errorf("%w: oxia backend needs oxiaEndpoint", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: registry backend %q", ErrInvalid, c.Registry.Backend)
	}
	return nil
}
