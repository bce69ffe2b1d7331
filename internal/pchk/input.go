package pchk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Input is a parsed line received from PCHK.
type Input interface {
	fmt.Stringer
	input()
}

// ModInput is an input originating from a module.
type ModInput interface {
	Input
	Source() Address
}

// modBase carries the module address of a ModInput.
type modBase struct {
	Addr Address
}

// Source returns the address of the sending module.
func (m modBase) Source() Address { return m.Addr }

func (modBase) input() {}

// AuthUsername is the login prompt for the user name.
type AuthUsername struct{}

// AuthPassword is the login prompt for the password.
type AuthPassword struct{}

// AuthOK is sent by PCHK after a successful login.
type AuthOK struct{}

// AuthFailed is sent by PCHK when the credentials are wrong.
type AuthFailed struct{}

// LicenseOK confirms the connection is licensed (dec mode accepted).
type LicenseOK struct{}

// LicenseError reports that PCHK has no free license.
type LicenseError struct{}

// BusConnState reports whether PCHK is connected to the LCN bus.
type BusConnState struct {
	Connected bool
}

// Pong is the echo of a keepalive ping.
type Pong struct {
	Counter int
}

// Unknown is any line the parser does not understand.
type Unknown struct {
	Line string
}

func (AuthUsername) input() {}
func (AuthPassword) input() {}
func (AuthOK) input()       {}
func (AuthFailed) input()   {}
func (LicenseOK) input()    {}
func (LicenseError) input() {}
func (BusConnState) input() {}
func (Pong) input()         {}
func (Unknown) input()      {}

func (AuthUsername) String() string { return "username prompt" }
func (AuthPassword) String() string { return "password prompt" }
func (AuthOK) String() string       { return "auth ok" }
func (AuthFailed) String() string   { return "auth failed" }
func (LicenseOK) String() string    { return "license ok" }
func (LicenseError) String() string { return "license error" }
func (b BusConnState) String() string {
	return fmt.Sprintf("bus connected=%t", b.Connected)
}
func (p Pong) String() string    { return fmt.Sprintf("pong %d", p.Counter) }
func (u Unknown) String() string { return "unknown " + strconv.Quote(u.Line) }

// ModAck is a module acknowledgement. Code is -1 for a positive
// acknowledgement and the error code otherwise.
type ModAck struct {
	modBase
	Code int
}

// Positive reports whether the command was accepted.
func (m ModAck) Positive() bool { return m.Code == ackPositive }

func (m ModAck) String() string { return fmt.Sprintf("%s ack %d", m.Addr, m.Code) }

// ModSK is a segment coupler's answer to the scan.
type ModSK struct {
	modBase
	SegmentID int
}

func (m ModSK) String() string { return fmt.Sprintf("%s segment %d", m.Addr, m.SegmentID) }

// Serials describes a module's hardware and firmware.
type Serials struct {
	HardwareSerial int64
	Manufacturer   int
	SoftwareSerial int
	HardwareType   int
}

// SerialNumber returns the hardware serial as PCHK prints it.
func (s Serials) SerialNumber() string { return fmt.Sprintf("%010X", s.HardwareSerial) }

// FirmwareVersion returns the software serial as PCHK prints it.
func (s Serials) FirmwareVersion() string { return fmt.Sprintf("%06X", s.SoftwareSerial) }

// ModSN carries a module's serial numbers.
type ModSN struct {
	modBase
	Serials Serials
}

func (m ModSN) String() string {
	return fmt.Sprintf("%s serial %s fw %s hw %d", m.Addr, m.Serials.SerialNumber(),
		m.Serials.FirmwareVersion(), m.Serials.HardwareType)
}

// ModName carries one block of a module's name.
type ModName struct {
	modBase
	Block int // 0-based
	Text  string
}

func (m ModName) String() string { return fmt.Sprintf("%s name[%d] %q", m.Addr, m.Block, m.Text) }

// ModOutputPercent reports an output value in percent.
type ModOutputPercent struct {
	modBase
	Output  int // 0-based
	Percent float64
}

func (m ModOutputPercent) String() string {
	return fmt.Sprintf("%s output %d %.1f%%", m.Addr, m.Output, m.Percent)
}

// ModRelays reports the state of the eight relays.
type ModRelays struct {
	modBase
	States [8]bool
}

func (m ModRelays) String() string { return fmt.Sprintf("%s relays %v", m.Addr, m.States) }

const ackPositive = -1

var (
	reAck     = regexp.MustCompile(`^-M(\d{3})(\d{3})(!|\d+)$`)
	reSK      = regexp.MustCompile(`^=M(\d{3})(\d{3})\.SK(\d+)$`)
	reSN      = regexp.MustCompile(`^=M(\d{3})(\d{3})\.SN([0-9A-F]{10})([0-9A-F]{2})FW([0-9A-F]{6})HW(\d+)$`)
	reName    = regexp.MustCompile(`^=M(\d{3})(\d{3})\.N([1-2])(.{0,16})$`)
	reOutput  = regexp.MustCompile(`^:M(\d{3})(\d{3})A(\d)(\d+)$`)
	reOutput2 = regexp.MustCompile(`^:M(\d{3})(\d{3})O(\d)(\d+)$`)
	reRelays  = regexp.MustCompile(`^:M(\d{3})(\d{3})Rx(\d+)$`)
	rePong    = regexp.MustCompile(`^\^ping(\d+)$`)
)

// ParseInput parses one line received from PCHK. Lines that match no known
// message are returned as Unknown.
func ParseInput(line string) Input {
	line = strings.TrimRight(line, "\r\n")

	switch line {
	case pckAuthUsername:
		return AuthUsername{}
	case pckAuthPassword:
		return AuthPassword{}
	case pckAuthOK:
		return AuthOK{}
	case pckAuthFailed:
		return AuthFailed{}
	case pckLicenseOK:
		return LicenseOK{}
	case pckLicenseError:
		return LicenseError{}
	case pckBusConnected:
		return BusConnState{Connected: true}
	case pckBusDisconnect:
		return BusConnState{Connected: false}
	}

	if m := rePong.FindStringSubmatch(line); m != nil {
		return Pong{Counter: atoi(m[1])}
	}
	if m := reAck.FindStringSubmatch(line); m != nil {
		code := ackPositive
		if m[3] != "!" {
			code = atoi(m[3])
		}
		return ModAck{modBase: modAt(m), Code: code}
	}
	if m := reSK.FindStringSubmatch(line); m != nil {
		return ModSK{modBase: modAt(m), SegmentID: atoi(m[3])}
	}
	if m := reSN.FindStringSubmatch(line); m != nil {
		hw, _ := strconv.ParseInt(m[3], 16, 64)   //nolint:errcheck // Regex guarantees hex
		manu, _ := strconv.ParseInt(m[4], 16, 32) //nolint:errcheck // Regex guarantees hex
		sw, _ := strconv.ParseInt(m[5], 16, 32)   //nolint:errcheck // Regex guarantees hex
		return ModSN{modBase: modAt(m), Serials: Serials{
			HardwareSerial: hw,
			Manufacturer:   int(manu),
			SoftwareSerial: int(sw),
			HardwareType:   atoi(m[6]),
		}}
	}
	if m := reName.FindStringSubmatch(line); m != nil {
		return ModName{modBase: modAt(m), Block: atoi(m[3]) - 1, Text: m[4]}
	}
	if m := reOutput.FindStringSubmatch(line); m != nil {
		return ModOutputPercent{modBase: modAt(m), Output: atoi(m[3]) - 1, Percent: float64(atoi(m[4]))}
	}
	if m := reOutput2.FindStringSubmatch(line); m != nil {
		// Native 200-step value.
		return ModOutputPercent{modBase: modAt(m), Output: atoi(m[3]) - 1, Percent: float64(atoi(m[4])) / 2}
	}
	if m := reRelays.FindStringSubmatch(line); m != nil {
		value := atoi(m[3])
		var states [8]bool
		for i := range states {
			states[i] = value&(1<<i) != 0
		}
		return ModRelays{modBase: modAt(m), States: states}
	}

	return Unknown{Line: line}
}

func modAt(m []string) modBase {
	return modBase{Addr: ModuleAddress(atoi(m[1]), atoi(m[2]))}
}

// atoi converts a regex-validated digit string.
func atoi(s string) int {
	n, _ := strconv.Atoi(s) //nolint:errcheck // Callers pass regex-validated digits
	return n
}
