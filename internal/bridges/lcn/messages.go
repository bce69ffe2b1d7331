package lcn

import (
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between Gray Logic Core and the LCN
// integration. Entities are addressed by their unique ID.

// CommandMessage is sent from Core to execute an entity command.
// Topic: graylogic/command/lcn/{unique_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier (informational).
	DeviceID string `json:"device_id,omitempty"`

	// Command is "on", "off" or "dim".
	Command string `json:"command"`

	// Parameters holds command values:
	//   {"level": 50} for dim (and optionally on)
	//   {"transition": 1.5} ramp time in seconds
	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

// Acknowledgement states.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/lcn/{unique_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeRejected          = "REJECTED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
)

// StateMessage is published when an entity changes state.
// Topic: graylogic/state/lcn/{unique_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	EntityID  string         `json:"entity_id"`
	DeviceID  string         `json:"device_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus is the status of one PCHK connection.
type HealthStatus string

// Health states.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// HealthMessage reports the state of one PCHK connection.
// Topic: graylogic/health/lcn/{entry_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	EntryID   string       `json:"entry_id"`
	Host      string       `json:"host"`
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Entities  int          `json:"entities"`
	Reason    string       `json:"reason,omitempty"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, entityID, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  entityID,
		Status:    AckAccepted,
		Protocol:  Domain,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, entityID, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, entityID, address)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = mqtt.TopicPrefix

	// topicParts is the number of levels of an entity topic.
	topicParts = 4
)

var topics mqtt.Topics

// CommandTopic returns the command topic of an entity.
// Example: graylogic/command/lcn/abc-m000007-output1
func CommandTopic(uniqueID string) string {
	return topics.BridgeCommand(Domain, uniqueID)
}

// AckTopic returns the acknowledgement topic of an entity.
func AckTopic(uniqueID string) string {
	return topics.BridgeAck(Domain, uniqueID)
}

// StateTopic returns the state topic of an entity.
func StateTopic(uniqueID string) string {
	return topics.BridgeState(Domain, uniqueID)
}

// HealthTopic returns the health topic of a config entry.
func HealthTopic(entryID string) string {
	return topics.BridgeHealth(Domain, entryID)
}

// EntityFromTopic extracts the unique ID from an entity topic.
func EntityFromTopic(topic string) (string, bool) {
	parts := strings.SplitN(topic, "/", topicParts)
	if len(parts) != topicParts || parts[0] != TopicPrefix || parts[2] != Domain || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
