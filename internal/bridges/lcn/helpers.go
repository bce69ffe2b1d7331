package lcn

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-lcn/internal/pchk"
)

// GenerateUniqueID returns the identifier of an address (and optionally
// one of its resources) within a config entry, e.g. "abc-m000007" or
// "abc-m000007-output1".
func GenerateUniqueID(entryID string, addr pchk.Address, resource string) string {
	kind := 'm'
	if addr.IsGroup {
		kind = 'g'
	}
	uid := fmt.Sprintf("%s-%c%03d%03d", entryID, kind, addr.Segment, addr.ID)
	if resource != "" {
		uid += "-" + strings.ToLower(resource)
	}
	return uid
}

// ConfigAddress is an address stored in entry data as the JSON triplet
// [segment, id, is_group].
type ConfigAddress pchk.Address

// Address returns the bus address.
func (a ConfigAddress) Address() pchk.Address { return pchk.Address(a) }

// MarshalJSON encodes the address as a triplet.
func (a ConfigAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Segment, a.ID, a.IsGroup})
}

// UnmarshalJSON decodes a triplet.
func (a *ConfigAddress) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) != 3 {
		return fmt.Errorf("%w: want [segment, id, is_group], got %s", ErrInvalidAddress, data)
	}

	var addr pchk.Address
	if err := json.Unmarshal(raw[0], &addr.Segment); err != nil {
		return fmt.Errorf("%w: segment %s", ErrInvalidAddress, raw[0])
	}
	if err := json.Unmarshal(raw[1], &addr.ID); err != nil {
		return fmt.Errorf("%w: id %s", ErrInvalidAddress, raw[1])
	}
	if err := json.Unmarshal(raw[2], &addr.IsGroup); err != nil {
		return fmt.Errorf("%w: is_group %s", ErrInvalidAddress, raw[2])
	}
	if err := addr.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	*a = ConfigAddress(addr)
	return nil
}

var reBareAddress = regexp.MustCompile(`^(s\d+\.)?[mg]\d+$`)

// ParseTargetAddress parses an address of the site config, "[conn.]sX.mY"
// or "[conn.]sX.gY". Without a connection prefix, conn is empty.
func ParseTargetAddress(s string) (conn string, addr pchk.Address, err error) {
	raw := strings.ToLower(strings.TrimSpace(s))

	rest := raw
	if !reBareAddress.MatchString(raw) {
		var ok bool
		conn, rest, ok = strings.Cut(raw, ".")
		if !ok || conn == "" {
			return "", pchk.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
	}

	addr, err = pchk.ParseAddress(rest)
	if err != nil {
		return "", pchk.Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	if err := addr.Validate(); err != nil {
		return "", pchk.Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	return conn, addr, nil
}

// ResourceKind distinguishes outputs from relays.
type ResourceKind string

// Resource kinds.
const (
	KindOutput ResourceKind = "OUTPUT"
	KindRelay  ResourceKind = "RELAY"
)

// Number of outputs and relays of an LCN module.
const (
	numOutputs = 4
	numRelays  = 8
)

// Resource is one output (OUTPUT1..4) or relay (RELAY1..8) of a module.
// Index is 0-based.
type Resource struct {
	Kind  ResourceKind
	Index int
}

// ParseResource parses "OUTPUT1" .. "OUTPUT4" and "RELAY1" .. "RELAY8",
// case-insensitively.
func ParseResource(s string) (Resource, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))

	for _, kind := range []ResourceKind{KindOutput, KindRelay} {
		num, ok := strings.CutPrefix(upper, string(kind))
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		limit := numOutputs
		if kind == KindRelay {
			limit = numRelays
		}
		if err != nil || n < 1 || n > limit {
			break
		}
		return Resource{Kind: kind, Index: n - 1}, nil
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrUnknownResource, s)
}

// String returns the canonical name, e.g. "OUTPUT1".
func (r Resource) String() string {
	return fmt.Sprintf("%s%d", r.Kind, r.Index+1)
}

// StatusItem returns the item polled to track the resource.
func (r Resource) StatusItem() pchk.StatusItem {
	if r.Kind == KindRelay {
		return pchk.StatusRelays
	}
	return pchk.OutputStatusItem(r.Index)
}
