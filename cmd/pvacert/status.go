package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"pvacms/pvnet"
)

var (
	statusIssuerID string
	statusSerial   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "fetch a certificate's current status PV",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusIssuerID, "issuer-id", "", "8-hex-char issuer identifier (required)")
	f.StringVar(&statusSerial, "serial", "", "certificate serial, decimal or 0x-prefixed hex (required)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusIssuerID == "" || statusSerial == "" {
		return optionErrorf("--issuer-id and --serial are required")
	}
	serial, err := parseSerialFlag(statusSerial)
	if err != nil {
		return optionErrorf("--serial: %v", err)
	}

	client := pvnet.NewClient(cmsURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	v, err := client.GetStatus(ctx, statusIssuerID, serial)
	if err != nil {
		if ctx.Err() != nil {
			return timeoutErrorf("CMS did not respond within the status deadline: %v", err)
		}
		return otherErrorf("status fetch failed: %v", err)
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return otherErrorf("encode status: %v", err)
	}
	cmd.Println(string(out))
	return nil
}
