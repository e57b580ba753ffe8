package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is the root of every topic the controller uses.
const DefaultTopicPrefix = "yeelight"

// Topics builds the controller's MQTT topics under a common prefix.
//
// Lamp topics use the flat scheme {prefix}/{category}/{lamp_id}:
//
//	topics := mqtt.NewTopics("yeelight")
//	topics.LampState(0x15243f)
//	// Returns: "yeelight/state/1385535"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix. An empty prefix uses
// DefaultTopicPrefix; surrounding slashes are removed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// LampState returns the retained state topic of one lamp.
//
// Example: yeelight/state/1385535
func (t Topics) LampState(id int64) string {
	return fmt.Sprintf("%s/state/%d", t.prefix(), id)
}

// LampCommand returns the topic commands for one lamp arrive on.
//
// Example: yeelight/command/1385535
func (t Topics) LampCommand(id int64) string {
	return fmt.Sprintf("%s/command/%d", t.prefix(), id)
}

// LampAck returns the topic command results are published on.
//
// Example: yeelight/ack/1385535
func (t Topics) LampAck(id int64) string {
	return fmt.Sprintf("%s/ack/%d", t.prefix(), id)
}

// LampRemoved returns the topic a removal notice is published on.
//
// Example: yeelight/removed/1385535
func (t Topics) LampRemoved(id int64) string {
	return fmt.Sprintf("%s/removed/%d", t.prefix(), id)
}

// SystemStatus returns the controller availability topic (carries the LWT).
//
// Example: yeelight/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// AllLampCommands matches the command topic of every lamp.
//
// Pattern: yeelight/command/+
func (t Topics) AllLampCommands() string {
	return fmt.Sprintf("%s/command/+", t.prefix())
}

// AllLampStates matches the state topic of every lamp.
//
// Pattern: yeelight/state/+
func (t Topics) AllLampStates() string {
	return fmt.Sprintf("%s/state/+", t.prefix())
}

// AllTopics matches everything under the prefix.
//
// Pattern: yeelight/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}

// LampIDFromTopic extracts the lamp id from a {prefix}/{category}/{id} topic.
// ok is false when the topic has another shape or the id is not a number.
func (t Topics) LampIDFromTopic(topic string) (int64, bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
