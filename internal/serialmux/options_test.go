package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	// Zero-value options should get defaults applied
	opts := PortOptions{}
	got, err := opts.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != 230400 {
		t.Errorf("BaudRate = %d, want 230400", got.BaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestPortOptions_Normalize_ExplicitValues(t *testing.T) {
	opts := PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"}
	got, err := opts.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", got.BaudRate)
	}
	if got.DataBits != 7 {
		t.Errorf("DataBits = %d, want 7", got.DataBits)
	}
	if got.StopBits != 2 {
		t.Errorf("StopBits = %d, want 2", got.StopBits)
	}
	if got.Parity != "E" {
		t.Errorf("Parity = %q, want %q", got.Parity, "E")
	}
}

func TestPortOptions_Normalize_ParityWords(t *testing.T) {
	for input, want := range map[string]string{
		"none": "N", "EVEN": "E", "odd": "O", " n ": "N",
	} {
		got, err := PortOptions{Parity: input}.Normalize()
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", input, err)
		}
		if got.Parity != want {
			t.Errorf("Parity(%q) = %q, want %q", input, got.Parity, want)
		}
	}
}

func TestPortOptions_Normalize_Invalid(t *testing.T) {
	cases := []PortOptions{
		{DataBits: 4},
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "M"},
	}
	for _, opts := range cases {
		if _, err := opts.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) should fail", opts)
		}
	}
}

func TestPortOptions_Equal(t *testing.T) {
	a := PortOptions{}
	b := PortOptions{BaudRate: 230400, DataBits: 8, StopBits: 1, Parity: "none"}
	if !a.Equal(b) {
		t.Error("defaulted options should compare equal to their explicit form")
	}

	c := PortOptions{BaudRate: 115200}
	if a.Equal(c) {
		t.Error("different baud rates should not compare equal")
	}

	bad := PortOptions{Parity: "M"}
	if a.Equal(bad) {
		t.Error("invalid options never compare equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 230400 {
		t.Errorf("BaudRate = %d, want 230400", mode.BaudRate)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", mode.Parity)
	}
	if mode.StopBits != serial.StopBits(1) {
		t.Errorf("StopBits = %v, want 1", mode.StopBits)
	}

	mode, err = PortOptions{Parity: "odd", StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}
}
