// Package klf200 provides a client for the Velux KLF200 gateway.
//
// The KLF200 exposes its API on TCP port 51200 behind TLS (the unit ships
// with a self-signed certificate). Frames are SLIP-encoded with a one-byte
// protocol ID, a length byte, a 16-bit command, the payload, and an XOR
// checksum.
//
// The client implements the subset of the API the bridge needs:
//
//   - Password authentication (GW_PASSWORD_ENTER_REQ)
//   - Node enumeration (GW_GET_ALL_NODES_INFORMATION_REQ)
//   - Position commands (GW_COMMAND_SEND_REQ)
//   - Position limitations (GW_SET_LIMITATION_REQ, GW_GET_LIMITATION_STATUS_REQ)
//   - State change notifications (GW_NODE_STATE_POSITION_CHANGED_NTF)
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Telemetry callbacks are delivered from a single goroutine, so events
//     for the same node are observed in receipt order.
package klf200
