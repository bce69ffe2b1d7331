package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const TopicPrefix = "graylogic"

// Topics builds the topics shared by the bridge and its subscribers.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("lcn", "abc-m000007-output1")
//	// graylogic/state/lcn/abc-m000007-output1
type Topics struct{}

// BridgeCommand returns the topic a bridge receives entity commands on.
func (Topics) BridgeCommand(protocol, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, id)
}

// BridgeAck returns the topic a bridge acknowledges commands on.
func (Topics) BridgeAck(protocol, id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, id)
}

// BridgeState returns the topic a bridge publishes entity state on.
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, id)
}

// BridgeHealth returns the health topic of one bridge connection.
//
// Example: graylogic/health/lcn/01J8...
func (Topics) BridgeHealth(protocol, connectionID string) string {
	return fmt.Sprintf("%s/health/%s/%s", TopicPrefix, protocol, connectionID)
}

// SystemStatus returns the topic carrying the online/offline status of a
// client, also used as its Last Will topic.
//
// Example: graylogic/system/status/graylogic-lcn
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}

// AllBridgeCommands matches every command topic of one protocol.
//
// Pattern: graylogic/command/lcn/+
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AllBridgeStates matches every state topic of one protocol.
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, protocol)
}
