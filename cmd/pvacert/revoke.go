package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pvacms/model"
	"pvacms/pvnet"
)

var (
	revokeIssuerID string
	revokeSerial   string
	revokeState    string
)

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "transition a certificate's status (APPROVED, DENIED, REVOKED)",
	RunE:  runRevoke,
}

func init() {
	f := revokeCmd.Flags()
	f.StringVar(&revokeIssuerID, "issuer-id", "", "8-hex-char issuer identifier (required)")
	f.StringVar(&revokeSerial, "serial", "", "certificate serial, decimal or 0x-prefixed hex (required)")
	f.StringVar(&revokeState, "state", "REVOKED", "desired state: APPROVED, DENIED, or REVOKED")
}

func runRevoke(cmd *cobra.Command, args []string) error {
	if revokeIssuerID == "" || revokeSerial == "" {
		return optionErrorf("--issuer-id and --serial are required")
	}
	state := strings.ToUpper(revokeState)
	switch state {
	case "APPROVED", "DENIED", "REVOKED":
	default:
		return optionErrorf("--state must be one of APPROVED, DENIED, REVOKED, got %q", revokeState)
	}
	serial, err := parseSerialFlag(revokeSerial)
	if err != nil {
		return optionErrorf("--serial: %v", err)
	}

	client := pvnet.NewClient(cmsURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if err := client.Revoke(ctx, revokeIssuerID, serial, state); err != nil {
		if ctx.Err() != nil {
			return timeoutErrorf("CMS did not respond within the request deadline: %v", err)
		}
		return otherErrorf("revoke failed: %v", err)
	}

	cmd.Printf("%s transitioned to %s\n", model.MakeStatusPVName(revokeIssuerID, serial), state)
	return nil
}

// parseSerialFlag accepts either a decimal serial or a 0x-prefixed hex
// one, the two forms an operator is likely to have on hand (from a
// status PV's name versus a database query result).
func parseSerialFlag(raw string) (uint64, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return strconv.ParseUint(raw[2:], 16, 64)
	}
	return strconv.ParseUint(raw, 10, 64)
}
