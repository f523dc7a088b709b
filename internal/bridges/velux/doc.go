// Package velux bridges KLF200 actuators to MQTT for Home Assistant.
//
// Each actuator the gateway reports becomes a Cover: a per-device adapter
// that publishes position and state, accepts OPEN/CLOSE/STOP/position
// commands, and announces itself through Home Assistant MQTT discovery.
// Windows additionally expose a keep-open switch that limits how far the
// gateway may close them.
//
// The Bridge orchestrates the whole lifecycle: it supervises the broker
// and gateway connections with backoff, registers devices, refreshes
// state periodically, monitors gateway liveness, and drives the graceful
// shutdown sequence. Gateway commands run through a Dispatcher that caps
// concurrent operations and bounds each with a timeout, so a slow gateway
// never stalls MQTT message intake.
//
// Architecture:
//
//	MQTT broker ⇄ Cover ⇄ Dispatcher ⇄ KLF200 gateway
//	                 ↑
//	              Registry ← Bridge (lifecycle, health, restart)
//
// Thread Safety:
//   - Registry and link state are mutex-protected and safe for concurrent use.
//   - Cover.HandleTelemetry is called from the gateway's single telemetry
//     goroutine and Cover.Republish from the refresh task; both apply and
//     publish under one lock. Cover.HandleCommand runs on MQTT delivery
//     goroutines.
package velux
