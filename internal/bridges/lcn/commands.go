package lcn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lcn/internal/infrastructure/mqtt"
)

// Supported commands.
const (
	CommandOn  = "on"
	CommandOff = "off"
	CommandDim = "dim"
)

// commandHandler returns the MQTT handler for entity command topics of
// an entry.
func (i *Integration) commandHandler(rt *entryRuntime) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		uid, ok := EntityFromTopic(topic)
		if !ok {
			return fmt.Errorf("%w: topic %s", ErrEntityNotFound, topic)
		}

		var cmd CommandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("parsing command for %s: %w", uid, err)
		}

		i.logger.Info("received command", "command_id", cmd.ID, "entity", uid, "command", cmd.Command)

		ctx, cancel := context.WithTimeout(rt.ctx, commandTimeout)
		defer cancel()

		err := i.ExecuteCommand(ctx, uid, cmd)
		i.publishAck(cmd, uid, err)
		return err
	}
}

// ExecuteCommand runs an on/off/dim command against an entity.
func (i *Integration) ExecuteCommand(ctx context.Context, uniqueID string, cmd CommandMessage) error {
	e, err := i.Entity(uniqueID)
	if err != nil {
		return err
	}
	opts, err := commandOptions(cmd.Parameters)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case CommandOn:
		return e.TurnOn(ctx, opts)
	case CommandOff:
		return e.TurnOff(ctx, opts)
	case CommandDim:
		if !e.Dimmable() {
			return fmt.Errorf("%w: %s is not dimmable", ErrInvalidParameters, uniqueID)
		}
		if opts.Level == nil {
			return fmt.Errorf("%w: missing 'level' parameter", ErrInvalidParameters)
		}
		return e.TurnOn(ctx, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// commandOptions reads "level" (percent) and "transition" (seconds).
func commandOptions(params map[string]any) (CommandOptions, error) {
	var opts CommandOptions

	if raw, ok := params["level"]; ok {
		level, ok := toFloat(raw)
		if !ok {
			return opts, fmt.Errorf("%w: 'level' must be a number", ErrInvalidParameters)
		}
		if level < 0 || level > 100 {
			return opts, fmt.Errorf("%w: 'level' must be 0-100, got %.2f", ErrInvalidParameters, level)
		}
		opts.Level = &level
	}

	if raw, ok := params["transition"]; ok {
		seconds, ok := toFloat(raw)
		if !ok || seconds < 0 {
			return opts, fmt.Errorf("%w: 'transition' must be a positive number", ErrInvalidParameters)
		}
		transition := time.Duration(seconds * float64(time.Second))
		opts.Transition = &transition
	}
	return opts, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// publishState publishes the entity's state (QoS 1, retained).
func (i *Integration) publishState(e *Entity) {
	if i.mqtt == nil {
		return
	}

	msg := StateMessage{
		EntityID:  e.uniqueID,
		DeviceID:  e.deviceID,
		Timestamp: time.Now().UTC(),
		State:     e.StateMap(),
		Protocol:  Domain,
		Address:   e.Address().String(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		i.logger.Error("failed to marshal state", "entity", e.uniqueID, "error", err)
		return
	}
	if err := i.mqtt.Publish(StateTopic(e.uniqueID), payload, 1, true); err != nil {
		i.logger.Warn("failed to publish state", "entity", e.uniqueID, "error", err)
	}
}

// publishAck acknowledges a command; err nil means accepted.
func (i *Integration) publishAck(cmd CommandMessage, uid string, err error) {
	if i.mqtt == nil {
		return
	}

	address := ""
	if e, lookupErr := i.Entity(uid); lookupErr == nil {
		address = e.Address().String()
	}

	ack := NewAckMessage(cmd, uid, address)
	if err != nil {
		ack = NewAckError(cmd, uid, address, errorCode(err), err.Error())
	}

	payload, marshalErr := json.Marshal(ack)
	if marshalErr != nil {
		i.logger.Error("failed to marshal ack", "entity", uid, "error", marshalErr)
		return
	}
	if pubErr := i.mqtt.Publish(AckTopic(uid), payload, 1, false); pubErr != nil {
		i.logger.Warn("failed to publish ack", "entity", uid, "error", pubErr)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrCommandRejected):
		return ErrCodeRejected
	}
	return ErrCodeDeviceUnreachable
}
