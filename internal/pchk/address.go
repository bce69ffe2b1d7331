package pchk

import (
	"fmt"
	"strconv"
	"strings"
)

// Address limits.
const (
	maxSegmentID = 127
	maxModuleID  = 254
	maxGroupID   = 255

	// Addresses 3/3 and 4/4 are broadcast targets used by the segment
	// coupler scan and cannot be configured.
	broadcastID = 3
)

// Address identifies an LCN module or group.
//
// Segment 0 means the local segment (the one PCHK is attached to).
type Address struct {
	Segment int
	ID      int
	IsGroup bool
}

// ModuleAddress returns the address of a module.
func ModuleAddress(segment, id int) Address {
	return Address{Segment: segment, ID: id}
}

// GroupAddress returns the address of a group.
func GroupAddress(segment, id int) Address {
	return Address{Segment: segment, ID: id, IsGroup: true}
}

// String returns the canonical form, e.g. "S000M007" or "S000G005".
func (a Address) String() string {
	return fmt.Sprintf("S%03d%c%03d", a.Segment, a.kind(), a.ID)
}

func (a Address) kind() byte {
	if a.IsGroup {
		return 'G'
	}
	return 'M'
}

// Validate checks the address is in range.
func (a Address) Validate() error {
	if a.Segment < 0 || a.Segment > maxSegmentID {
		return fmt.Errorf("%w: segment %d out of range", ErrInvalidAddress, a.Segment)
	}
	limit := maxModuleID
	if a.IsGroup {
		limit = maxGroupID
	}
	if a.ID < 0 || a.ID > limit {
		return fmt.Errorf("%w: id %d out of range", ErrInvalidAddress, a.ID)
	}
	return nil
}

// PCKPrefix returns the command header for this address,
// ">M000007." or ">M000007!" when an acknowledgement is wanted.
// Groups never acknowledge.
func (a Address) PCKPrefix(wantsAck bool) string {
	ack := '.'
	if wantsAck && !a.IsGroup {
		ack = '!'
	}
	return fmt.Sprintf(">%c%03d%03d%c", a.kind(), a.Segment, a.ID, ack)
}

// Physical converts a logical address to the form PCHK expects: the local
// segment is addressed as segment 0.
func (a Address) Physical(localSegment int) Address {
	if a.Segment == localSegment {
		a.Segment = 0
	}
	return a
}

// Logical converts an address received from the bus so that segment 0 is
// replaced by the local segment ID.
func (a Address) Logical(localSegment int) Address {
	if a.Segment == 0 {
		a.Segment = localSegment
	}
	return a
}

// ParseAddress parses "s0.m7", "s0.g5", "m7", "g5" and "S000M007".
// Without a segment, the local segment 0 is assumed.
func ParseAddress(s string) (Address, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	var segPart, idPart string
	switch {
	case strings.Contains(raw, "."):
		segPart, idPart, _ = strings.Cut(raw, ".")
	case strings.HasPrefix(raw, "s") && len(raw) == 8:
		segPart, idPart = raw[:4], raw[4:]
	default:
		idPart = raw
	}

	var addr Address
	if segPart != "" {
		if !strings.HasPrefix(segPart, "s") {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		seg, err := strconv.Atoi(segPart[1:])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		addr.Segment = seg
	}

	if len(idPart) < 2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	switch idPart[0] {
	case 'm':
	case 'g':
		addr.IsGroup = true
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	id, err := strconv.Atoi(idPart[1:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr.ID = id

	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}
