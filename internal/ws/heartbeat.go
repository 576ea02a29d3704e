package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and closes those that have gone
// stale (no frame received within Interval + Timeout). It returns
// immediately; the goroutine exits when the console's done channel is closed.
func StartHeartbeat(console *Console, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-console.done:
				return
			case <-ticker.C:
				checkConnections(console, config, time.Now())
			}
		}
	}()
}

// checkConnections evicts connections idle for longer than Interval + Timeout
// and pings the rest. Browsers answer the ping frame with a pong, which the
// read loop counts as activity.
func checkConnections(console *Console, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range console.Connections().All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Printf("[console] heartbeat timeout conn=%s last_activity=%s ago",
				c.ID, idle.Round(time.Second))
			console.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("[console] heartbeat ping failed conn=%s: %v", c.ID, err)
			console.RemoveConnection(c)
		}
	}
}
