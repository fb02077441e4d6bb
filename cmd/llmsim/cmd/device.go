package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/llmsim-web/cmd/llmsim/format"
	"github.com/skobkin/llmsim-web/internal/device"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the simulated device",
	Long: `Resolve the simulated accelerator from APP_DEVICE_* settings.

The name comes from APP_DEVICE_NAME or, when unset, from the local pci.ids
database entry for APP_DEVICE_PCI_ID.`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	RootCmd.AddCommand(deviceCmd)
}

func runDevice(cmd *cobra.Command, args []string) error {
	f, err := getFormat()
	if err != nil {
		return err
	}

	dev, err := device.Resolve(device.Config{
		Name:        appCfg.Device.Name,
		PCIID:       appCfg.Device.PCIID,
		VRAMTotalGB: appCfg.Device.VRAMTotalGB,
		PeakTFLOPS:  appCfg.Device.PeakTFLOPS,
	}, logger)
	if err != nil {
		return err
	}

	headers := []string{"name", "pci_id", "vram_total_gb", "peak_tflops"}
	rows := [][]string{{
		dev.Name,
		dev.PCIID,
		format.F64(dev.VRAMTotalGB, 0),
		format.F64(dev.PeakTFLOPS, 0),
	}}
	if err := format.Render(cmd.OutOrStdout(), f, headers, rows, dev); err != nil {
		return fmt.Errorf("render device: %w", err)
	}
	return nil
}
