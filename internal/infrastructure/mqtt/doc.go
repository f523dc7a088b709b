// Package mqtt provides the MQTT bus client for vlxmqttha.
//
// This package wraps eclipse/paho.mqtt.golang with:
//
//   - Single-attempt connection establishment (the connection supervisor in
//     internal/bridges/velux owns the retry/backoff policy)
//   - Automatic reconnection with subscription restoration after an
//     established connection drops
//   - Panic-safe message handlers
//   - Publish/Subscribe helpers with validation and timeouts
//
// Topic construction lives with the cover bridge (internal/bridges/velux),
// which owns the Home Assistant discovery topic layout; this package is
// deliberately topic-agnostic.
package mqtt
