package pchk

import (
	"fmt"
	"math"
	"strings"
)

// PCHK control messages.
const (
	pckAuthUsername   = "Username:"
	pckAuthPassword   = "Password:"
	pckAuthOK         = "OK"
	pckAuthFailed     = "Authentification failed."
	pckLicenseOK      = "(dec-mode)"
	pckLicenseError   = "$err:(license?)"
	pckBusConnected   = "$io:#LCN:connected"
	pckBusDisconnect  = "$io:#LCN:disconnected"
	pckSetDecMode     = "!CHD"
	pckPingPrefix     = "^ping"
	pckSegmentScan    = "SK"
	pckRequestSerial  = "SN"
	pckRequestRelays  = "SMR"
	pckNameBlockCount = 2
)

// SetOperationMode returns the command selecting the dim mode.
func SetOperationMode(mode DimMode) string {
	steps := "0"
	if mode == DimSteps200 {
		steps = "1"
	}
	return "!OM" + steps + "P"
}

// Ping returns a keepalive command; PCHK echoes it back.
func Ping(counter int) string {
	return fmt.Sprintf("%s%d", pckPingPrefix, counter)
}

// SegmentCouplerScan returns the full broadcast asking all segment couplers
// for their segment ID.
func SegmentCouplerScan() string {
	return GroupAddress(broadcastID, broadcastID).PCKPrefix(false) + pckSegmentScan
}

// RequestSerial returns the serial number request.
func RequestSerial() string {
	return pckRequestSerial
}

// RequestName returns the request for one 16-character name block (0 or 1).
func RequestName(block int) string {
	return fmt.Sprintf("NMN%d", block+1)
}

// RequestOutputStatus returns the status request for an output (0-based).
func RequestOutputStatus(output int) string {
	return fmt.Sprintf("SMA%d", output+1)
}

// RequestRelaysStatus returns the relays status request.
func RequestRelaysStatus() string {
	return pckRequestRelays
}

// DimOutput returns the command dimming an output (0-based) to percent
// with the given ramp value (see TimeToRampValue).
//
// Whole percentages use the 50-step form; half steps need the native
// 200-step form.
func DimOutput(output int, percent float64, ramp int) string {
	halfSteps := int(math.Round(percent * 2))
	if halfSteps%2 == 0 {
		return fmt.Sprintf("A%dDI%03d%03d", output+1, halfSteps/2, ramp)
	}
	return fmt.Sprintf("O%dDI%03d%03d", output+1, halfSteps, ramp)
}

// RelayState is the requested change for one relay.
type RelayState byte

// Relay state modifiers.
const (
	RelayNoChange RelayState = '-'
	RelayOn       RelayState = '1'
	RelayOff      RelayState = '0'
	RelayToggle   RelayState = 'U'
)

// ControlRelays returns the command switching the eight relays.
func ControlRelays(states [8]RelayState) string {
	var b strings.Builder
	b.WriteString("R8")
	for _, s := range states {
		if s == 0 {
			s = RelayNoChange
		}
		b.WriteByte(byte(s))
	}
	return b.String()
}

// ControlRelay returns the command switching a single relay (0-based),
// leaving the others untouched.
func ControlRelay(relay int, on bool) string {
	var states [8]RelayState
	for i := range states {
		states[i] = RelayNoChange
	}
	if relay >= 0 && relay < len(states) {
		states[relay] = RelayOff
		if on {
			states[relay] = RelayOn
		}
	}
	return ControlRelays(states)
}

// maxRampValue is the slowest ramp LCN accepts.
const maxRampValue = 250

// TimeToRampValue converts a transition time in milliseconds to the LCN
// ramp value. Short times map onto a fixed table, longer ones onto
// two-second steps.
func TimeToRampValue(ms int) int {
	switch {
	case ms < 250:
		return 0
	case ms < 500:
		return 1
	case ms < 660:
		return 2
	case ms < 1000:
		return 3
	case ms < 1400:
		return 4
	case ms < 2000:
		return 5
	case ms < 3000:
		return 6
	case ms < 4000:
		return 7
	case ms < 5000:
		return 8
	case ms < 6000:
		return 9
	}
	return min((ms/1000-6)/2+10, maxRampValue)
}
