package klf200

import "encoding/binary"

// Gateway API command codes.
const (
	cmdErrorNTF uint16 = 0x0000

	cmdPasswordEnterREQ uint16 = 0x3000
	cmdPasswordEnterCFM uint16 = 0x3001

	cmdGetAllNodesInformationREQ         uint16 = 0x0202
	cmdGetAllNodesInformationCFM         uint16 = 0x0203
	cmdGetAllNodesInformationNTF         uint16 = 0x0204
	cmdGetAllNodesInformationFinishedNTF uint16 = 0x0205

	cmdNodeStatePositionChangedNTF uint16 = 0x0211

	cmdHouseStatusMonitorEnableREQ uint16 = 0x0240
	cmdHouseStatusMonitorEnableCFM uint16 = 0x0241

	cmdCommandSendREQ      uint16 = 0x0300
	cmdCommandSendCFM      uint16 = 0x0301
	cmdCommandRunStatusNTF uint16 = 0x0302
	cmdSessionFinishedNTF  uint16 = 0x0304

	cmdSetLimitationREQ       uint16 = 0x0310
	cmdSetLimitationCFM       uint16 = 0x0311
	cmdGetLimitationStatusREQ uint16 = 0x0312
	cmdGetLimitationStatusCFM uint16 = 0x0313
	cmdLimitationStatusNTF    uint16 = 0x0314
)

// Raw position encoding. Percentages map onto 0x0000..0xC800 in steps of
// 512 (0 = fully open at the actuator level, 100 = fully closed). Values
// above the range carry special meanings.
const (
	positionMax     uint16 = 0xC800
	positionStep    uint16 = 512
	positionCurrent uint16 = 0xD200 // keep current position / stop
	positionIgnore  uint16 = 0xD400 // parameter not used
	positionUnknown uint16 = 0xF7FF
)

// PositionUnknown is reported when the gateway does not know an actuator's
// position, for example right after power-up.
const PositionUnknown = -1

// rawToPercent converts a wire position to a percentage. Anything outside
// the valid range, including the special markers, maps to PositionUnknown.
func rawToPercent(raw uint16) int {
	if raw > positionMax {
		return PositionUnknown
	}
	return int(raw / positionStep)
}

// percentToRaw converts a percentage (0..100) to its wire encoding. The
// caller validates the range.
func percentToRaw(percent int) uint16 {
	return uint16(percent) * positionStep
}

// NodeKind classifies an actuator by the gateway's node type field.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindBlind
	KindShutter
	KindAwning
	KindWindow
	KindGarage
	KindGate
	KindBlade
)

// String returns the kind name used in logs.
func (k NodeKind) String() string {
	switch k {
	case KindBlind:
		return "blind"
	case KindShutter:
		return "shutter"
	case KindAwning:
		return "awning"
	case KindWindow:
		return "window"
	case KindGarage:
		return "garage"
	case KindGate:
		return "gate"
	case KindBlade:
		return "blade"
	default:
		return "unknown"
	}
}

// nodeKindFromTypeSubType maps the 16-bit NodeTypeSubType field to a kind.
// The node type occupies the upper 10 bits; the subtype does not change
// the classification for our purposes.
func nodeKindFromTypeSubType(v uint16) NodeKind {
	switch v >> 6 {
	case 1, 10, 13: // interior venetian, vertical interior, exterior venetian
		return KindBlind
	case 2:
		return KindShutter
	case 3:
		return KindAwning
	case 4:
		return KindWindow
	case 5:
		return KindGarage
	case 7:
		return KindGate
	case 14:
		return KindBlade
	default:
		return KindUnknown
	}
}

// NodeTelemetry is a position report for a single actuator, delivered to
// the telemetry callback.
type NodeTelemetry struct {
	NodeID        byte
	Name          string
	Position      int // percent, or PositionUnknown
	Target        int // percent, or PositionUnknown
	LimitationMax int // percent, or PositionUnknown when never queried
}

// nodeInfo is the parsed body of GW_GET_ALL_NODES_INFORMATION_NTF.
type nodeInfo struct {
	ID       byte
	Name     string
	Kind     NodeKind
	Position uint16
	Target   uint16
}

// parseNodeInfo decodes a node information notification. The fixed layout
// places the 64-byte name at offset 4, the type/subtype at 69, and the
// current and target positions at 85 and 87.
func parseNodeInfo(data []byte) (nodeInfo, bool) {
	if len(data) < 89 {
		return nodeInfo{}, false
	}
	return nodeInfo{
		ID:       data[0],
		Name:     decodeNodeName(data[4:68]),
		Kind:     nodeKindFromTypeSubType(binary.BigEndian.Uint16(data[69:71])),
		Position: binary.BigEndian.Uint16(data[85:87]),
		Target:   binary.BigEndian.Uint16(data[87:89]),
	}, true
}

// positionChange is the parsed body of GW_NODE_STATE_POSITION_CHANGED_NTF.
type positionChange struct {
	ID       byte
	Position uint16
	Target   uint16
}

func parsePositionChange(data []byte) (positionChange, bool) {
	if len(data) < 6 {
		return positionChange{}, false
	}
	return positionChange{
		ID:       data[0],
		Position: binary.BigEndian.Uint16(data[2:4]),
		Target:   binary.BigEndian.Uint16(data[4:6]),
	}, true
}

// limitationStatus is the parsed body of GW_LIMITATION_STATUS_NTF.
type limitationStatus struct {
	ID  byte
	Min uint16
	Max uint16
}

func parseLimitationStatus(data []byte) (limitationStatus, bool) {
	if len(data) < 8 {
		return limitationStatus{}, false
	}
	return limitationStatus{
		ID:  data[2],
		Min: binary.BigEndian.Uint16(data[4:6]),
		Max: binary.BigEndian.Uint16(data[6:8]),
	}, true
}

// decodeNodeName trims the zero padding from a fixed-width name field. The
// gateway stores names as UTF-8.
func decodeNodeName(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
