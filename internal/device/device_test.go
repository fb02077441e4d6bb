package device

import (
	"io"
	"log/slog"
	"testing"

	"github.com/skobkin/llmsim-web/internal/sim"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	dev, err := resolve(Config{}, nil, discardLogger())
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if dev != sim.DefaultDevice {
		t.Fatalf("unexpected device %+v", dev)
	}
}

func TestResolveExplicitNameWins(t *testing.T) {
	t.Parallel()

	called := false
	lookup := func(string, string) string {
		called = true
		return "from database"
	}
	dev, err := resolve(Config{Name: " Lab GPU ", VRAMTotalGB: 40, PeakTFLOPS: 312}, lookup, discardLogger())
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if called {
		t.Fatalf("lookup should not run when a name is configured")
	}
	if dev.Name != "Lab GPU" || dev.VRAMTotalGB != 40 || dev.PeakTFLOPS != 312 {
		t.Fatalf("unexpected device %+v", dev)
	}
}

func TestResolveUsesLookup(t *testing.T) {
	t.Parallel()

	var gotVendor, gotDevice string
	lookup := func(vendorID, deviceID string) string {
		gotVendor, gotDevice = vendorID, deviceID
		return "GA100 [A100 SXM4 40GB]"
	}
	dev, err := resolve(Config{PCIID: "0x10DE:20b0"}, lookup, discardLogger())
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if gotVendor != "10de" || gotDevice != "20b0" {
		t.Fatalf("lookup called with %q:%q", gotVendor, gotDevice)
	}
	if dev.Name != "GA100 [A100 SXM4 40GB]" || dev.PCIID != "10de:20b0" {
		t.Fatalf("unexpected device %+v", dev)
	}
}

func TestResolveUnknownPCIID(t *testing.T) {
	t.Parallel()

	lookup := func(string, string) string { return "" }
	dev, err := resolve(Config{PCIID: "1002:abc"}, lookup, discardLogger())
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if dev.PCIID != "1002:0abc" {
		t.Fatalf("unexpected pci id %q", dev.PCIID)
	}
	if dev.Name != "PCI device 1002:0abc" {
		t.Fatalf("unexpected name %q", dev.Name)
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{PCIID: "10de"},
		{PCIID: ":2330"},
		{VRAMTotalGB: -1},
		{PeakTFLOPS: -5},
	}
	for _, cfg := range cases {
		if _, err := resolve(cfg, nil, discardLogger()); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestNormalizePCIID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":       "",
		"0x":     "",
		"0X10DE": "10de",
		" 2330 ": "2330",
		"1":      "0001",
	}
	for input, want := range cases {
		if got := normalizePCIID(input); got != want {
			t.Fatalf("normalizePCIID(%q) = %q, want %q", input, got, want)
		}
	}
}
