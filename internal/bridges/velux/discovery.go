package velux

import "encoding/json"

// coverDiscovery is the Home Assistant MQTT discovery payload for a cover.
type coverDiscovery struct {
	Name             string `json:"name"`
	UniqueID         string `json:"unique_id"`
	DeviceClass      string `json:"device_class,omitempty"`
	PositionTopic    string `json:"position_topic"`
	SetPositionTopic string `json:"set_position_topic"`
	CommandTopic     string `json:"command_topic"`
	StateTopic       string `json:"state_topic"`
	AvailabilityT    string `json:"availability_topic"`
	PayloadAvailable string `json:"payload_available"`
	PayloadNotAvail  string `json:"payload_not_available"`
	PositionOpen     int    `json:"position_open"`
	PositionClosed   int    `json:"position_closed"`
}

// switchDiscovery is the discovery payload for the keep-open switch.
type switchDiscovery struct {
	Name             string `json:"name"`
	UniqueID         string `json:"unique_id"`
	Icon             string `json:"icon"`
	CommandTopic     string `json:"command_topic"`
	StateTopic       string `json:"state_topic"`
	AvailabilityT    string `json:"availability_topic"`
	PayloadAvailable string `json:"payload_available"`
	PayloadNotAvail  string `json:"payload_not_available"`
}

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	payloadOn      = "ON"
	payloadOff     = "OFF"

	keepOpenIcon = "mdi:lock-outline"
)

// coverDiscoveryPayload renders the retained discovery config for a cover.
// The open/closed endpoint percentages are swapped for inverted devices so
// the hub's position slider matches physical reality.
func coverDiscoveryPayload(name, id, deviceClass string, topics TopicSet, inverted bool) ([]byte, error) {
	d := coverDiscovery{
		Name:             name,
		UniqueID:         id,
		DeviceClass:      deviceClass,
		PositionTopic:    topics.Position,
		SetPositionTopic: topics.Command,
		CommandTopic:     topics.Command,
		StateTopic:       topics.State,
		AvailabilityT:    topics.Availability,
		PayloadAvailable: payloadOnline,
		PayloadNotAvail:  payloadOffline,
		PositionOpen:     0,
		PositionClosed:   100,
	}
	if inverted {
		d.PositionOpen, d.PositionClosed = d.PositionClosed, d.PositionOpen
	}
	return json.Marshal(d)
}

// switchDiscoveryPayload renders the retained discovery config for a
// window's keep-open switch.
func switchDiscoveryPayload(name, id string, topics TopicSet) ([]byte, error) {
	d := switchDiscovery{
		Name:             name + " keep open",
		UniqueID:         id + "-keepopen",
		Icon:             keepOpenIcon,
		CommandTopic:     topics.SwitchCommand,
		StateTopic:       topics.SwitchState,
		AvailabilityT:    topics.Availability,
		PayloadAvailable: payloadOnline,
		PayloadNotAvail:  payloadOffline,
	}
	return json.Marshal(d)
}
