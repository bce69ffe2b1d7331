package pchk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line string
		want Input
	}{
		{"Username:", AuthUsername{}},
		{"Password:", AuthPassword{}},
		{"OK", AuthOK{}},
		{"Authentification failed.", AuthFailed{}},
		{"(dec-mode)", LicenseOK{}},
		{"$err:(license?)", LicenseError{}},
		{"$io:#LCN:connected", BusConnState{Connected: true}},
		{"$io:#LCN:disconnected", BusConnState{Connected: false}},
		{"^ping12", Pong{Counter: 12}},
		{"-M000007!", ModAck{modBase: modBase{ModuleAddress(0, 7)}, Code: -1}},
		{"-M000007005", ModAck{modBase: modBase{ModuleAddress(0, 7)}, Code: 5}},
		{"=M000005.SK7", ModSK{modBase: modBase{ModuleAddress(0, 5)}, SegmentID: 7}},
		{":M000007A1050", ModOutputPercent{modBase: modBase{ModuleAddress(0, 7)}, Output: 0, Percent: 50}},
		{":M000007O2101", ModOutputPercent{modBase: modBase{ModuleAddress(0, 7)}, Output: 1, Percent: 50.5}},
		{":M000007Rx5", ModRelays{modBase: modBase{ModuleAddress(0, 7)}, States: [8]bool{true, false, true}}},
		{"=M000007.N1TestModule      ", ModName{modBase: modBase{ModuleAddress(0, 7)}, Block: 0, Text: "TestModule      "}},
		{"=M000007.SN1AB20A123401FW190B11HW015", ModSN{modBase: modBase{ModuleAddress(0, 7)}, Serials: Serials{
			HardwareSerial: 0x1AB20A1234,
			Manufacturer:   1,
			SoftwareSerial: 0x190B11,
			HardwareType:   15,
		}}},
		{"LCN-PCK/IP 1.0", Unknown{Line: "LCN-PCK/IP 1.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInput(tt.line))
		})
	}
}

func TestParseInput_TrimsLineEnding(t *testing.T) {
	assert.Equal(t, AuthOK{}, ParseInput("OK\r\n"))
}

func TestSerials_Format(t *testing.T) {
	s := Serials{HardwareSerial: 0x1AB20A1234, SoftwareSerial: 0x190B11}
	assert.Equal(t, "1AB20A1234", s.SerialNumber())
	assert.Equal(t, "190B11", s.FirmwareVersion())
}

func TestModAck_Positive(t *testing.T) {
	in := ParseInput("-M000007!")
	ack, ok := in.(ModAck)
	if assert.True(t, ok) {
		assert.True(t, ack.Positive())
		assert.Equal(t, ModuleAddress(0, 7), ack.Source())
	}
}
