package velux

// TopicSet holds every MQTT topic a single device uses. Topics follow the
// Home Assistant discovery convention: the component path doubles as the
// device's state namespace.
type TopicSet struct {
	// Cover topics.
	Config       string // discovery payload, retained
	Position     string // decimal 0..100, retained
	State        string // open/closed/opening/closing, retained
	Command      string // OPEN/CLOSE/STOP/decimal, subscribed
	Availability string // online/offline, retained

	// Keep-open switch topics, only used for windows.
	SwitchConfig  string
	SwitchState   string // ON/OFF, retained
	SwitchCommand string // ON/OFF, subscribed
}

// NewTopicSet builds the topic layout for a device ID under a discovery
// prefix.
func NewTopicSet(discoveryPrefix, id string) TopicSet {
	cover := discoveryPrefix + "/cover/" + id
	sw := discoveryPrefix + "/switch/" + id + "-keepopen"
	return TopicSet{
		Config:        cover + "/config",
		Position:      cover + "/position",
		State:         cover + "/state",
		Command:       cover + "/set",
		Availability:  cover + "/available",
		SwitchConfig:  sw + "/config",
		SwitchState:   sw + "/state",
		SwitchCommand: sw + "/set",
	}
}
