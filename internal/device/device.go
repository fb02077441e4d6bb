// Package device resolves the identity of the simulated accelerator.
package device

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"

	"github.com/skobkin/llmsim-web/internal/sim"
)

// DefaultPCIID is the H100 SXM5 vendor:device pair.
const DefaultPCIID = "10de:2330"

// Config selects the simulated device. Zero values fall back to the defaults.
type Config struct {
	Name        string
	PCIID       string
	VRAMTotalGB float64
	PeakTFLOPS  float64
}

// Lookup resolves a vendor/device pair to a marketing name. It returns "" when
// the pair is unknown.
type Lookup func(vendorID, deviceID string) string

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

// Resolve builds the simulated device. An explicit name wins; otherwise the PCI
// ID is looked up in the local pci.ids database.
func Resolve(cfg Config, logger *slog.Logger) (sim.Device, error) {
	return resolve(cfg, PCIDatabaseLookup, logger)
}

func resolve(cfg Config, lookup Lookup, logger *slog.Logger) (sim.Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "device")

	if cfg.VRAMTotalGB < 0 {
		return sim.Device{}, fmt.Errorf("vram total must be >= 0")
	}
	if cfg.PeakTFLOPS < 0 {
		return sim.Device{}, fmt.Errorf("peak tflops must be >= 0")
	}

	dev := sim.DefaultDevice
	if cfg.VRAMTotalGB > 0 {
		dev.VRAMTotalGB = cfg.VRAMTotalGB
	}
	if cfg.PeakTFLOPS > 0 {
		dev.PeakTFLOPS = cfg.PeakTFLOPS
	}

	pciID := strings.TrimSpace(cfg.PCIID)
	if pciID == "" {
		pciID = DefaultPCIID
	}
	vendorID, deviceID := splitPCIIdentifier(pciID)
	vendorID = normalizePCIID(vendorID)
	deviceID = normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return sim.Device{}, fmt.Errorf("invalid pci id %q, want vendor:device", cfg.PCIID)
	}
	dev.PCIID = vendorID + ":" + deviceID

	if name := strings.TrimSpace(cfg.Name); name != "" {
		dev.Name = name
		return dev, nil
	}

	if lookup != nil {
		if name := lookup(vendorID, deviceID); name != "" {
			dev.Name = name
			return dev, nil
		}
	}

	logger.Debug("pci id not resolved, using default name", "pci_id", dev.PCIID)
	if dev.PCIID != DefaultPCIID {
		dev.Name = "PCI device " + dev.PCIID
	}
	return dev, nil
}

// PCIDatabaseLookup consults the system pci.ids database. The database is
// loaded once per process.
func PCIDatabaseLookup(vendorID, deviceID string) string {
	db := loadPCIDatabase()
	if db == nil {
		return ""
	}
	product, ok := db.Products[normalizePCIID(vendorID)+normalizePCIID(deviceID)]
	if !ok || product == nil {
		return ""
	}
	return product.Name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	parts := strings.SplitN(pciID, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
