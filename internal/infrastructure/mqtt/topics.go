package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Matrix Core MQTT hierarchy.
//
// All topics use the flat scheme: matrixcore/{category}/{suffix...}
const (
	// TopicPrefix is the base for all Matrix Core topics.
	TopicPrefix = "matrixcore"

	// TopicPrefixState is the base for device state topics.
	TopicPrefixState = "matrixcore/state"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "matrixcore/system"

	// TopicPrefixAck is the base for command acknowledgement topics.
	TopicPrefixAck = "matrixcore/ack"
)

// Topics provides builders for Matrix Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.StateField("routing.3")
//	// Returns: "matrixcore/state/routing/3"
type Topics struct{}

// StateField returns the retained state topic for a single field.
// Dots in the field key become topic levels, so subscribers can use
// MQTT wildcards against the field hierarchy.
//
// Example: matrixcore/state/output/2/hdcp
func (Topics) StateField(field string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, strings.ReplaceAll(field, ".", "/"))
}

// StateSnapshot returns the retained topic carrying the full state document.
//
// Example: matrixcore/state/snapshot
func (Topics) StateSnapshot() string {
	return fmt.Sprintf("%s/snapshot", TopicPrefixState)
}

// Command returns the topic on which Matrix Core accepts command requests.
//
// Example: matrixcore/command
func (Topics) Command() string {
	return fmt.Sprintf("%s/command", TopicPrefix)
}

// Ack returns the topic for the acknowledgement of a specific command.
//
// Example: matrixcore/ack/cmd-abc123
func (Topics) Ack(commandID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAck, commandID)
}

// SystemStatus returns the system status topic. This topic carries the
// online/offline availability payload and is used for the broker LWT.
//
// Example: matrixcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemDevice returns the topic for device identity announcements
// (model, firmware, network details read at connect time).
//
// Example: matrixcore/system/device
func (Topics) SystemDevice() string {
	return fmt.Sprintf("%s/device", TopicPrefixSystem)
}

// AllStateFields returns a pattern matching every retained field topic.
//
// Pattern: matrixcore/state/#
func (Topics) AllStateFields() string {
	return fmt.Sprintf("%s/#", TopicPrefixState)
}

// AllAcks returns a pattern matching all command acknowledgements.
//
// Pattern: matrixcore/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/+", TopicPrefixAck)
}

// AllTopics returns a pattern matching all Matrix Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: matrixcore/#
func (Topics) AllTopics() string {
	return "matrixcore/#"
}
