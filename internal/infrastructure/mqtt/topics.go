package mqtt

import "strings"

// TopicPrefixDeviceUpdate is the prefix of the per-device state topics.
const TopicPrefixDeviceUpdate = "prod/thing/update/"

// Topics provides builders for the cloud broker's topics.
//
//	topic := mqtt.Topics{}.DeviceUpdate("abc123")
//	// Returns: "prod/thing/update/abc123"
type Topics struct{}

// DeviceUpdate returns the topic a device pushes its full state to.
func (Topics) DeviceUpdate(thingName string) string {
	return TopicPrefixDeviceUpdate + thingName
}

// DeviceFromTopic extracts the device id from a DeviceUpdate topic.
func (Topics) DeviceFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefixDeviceUpdate)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
