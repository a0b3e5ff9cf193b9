// Package pvnet is the wire transport for the CMS's PV surface. The
// reference protocol is EPICS PV-Access; lacking a Go PVA stack in the
// available library set, it is realized here as an HTTP+WebSocket
// transport instead — gin for RPC/GET, gorilla/websocket for MONITOR
// push, with a per-PV broadcast hub modeled on a typical realtime
// pub/sub handler.
package pvnet

import (
	"fmt"
	"strconv"
	"strings"

	"pvacms/model"
)

// ParseStatusPVName splits a bit-exact "CERT:STATUS:<issuer_id>:<serial16hex>"
// name into its parts.
func ParseStatusPVName(name string) (issuerID string, serial uint64, ok bool) {
	const prefix = model.StatusPVRoot + ":"
	if !strings.HasPrefix(name, prefix) {
		return "", 0, false
	}
	rest := name[len(prefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	issuerID = parts[0]
	if len(issuerID) != 8 {
		return "", 0, false
	}
	serial, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil || len(parts[1]) != 16 {
		return "", 0, false
	}
	return issuerID, serial, true
}

// WildcardPVName is the CMS-side subscription name covering every status
// PV regardless of issuer.
const WildcardPVName = model.StatusPVRoot + ":????????:*"

// MatchesWildcard reports whether name is a status PV matched by the
// bit-exact CERT:STATUS:????????:* pattern: 8 hex issuer-id chars followed
// by any serial suffix.
func MatchesWildcard(name string) bool {
	const prefix = model.StatusPVRoot + ":"
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	if len(rest) < 9 || rest[8] != ':' {
		return false
	}
	for _, r := range rest[:8] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// RevokePVName formats the "CERT:REVOKE:<issuer_id>:<serial>" PUT target.
// Unlike the status PV, the serial here is decimal, matching the
// reference's plain %llu formatting for this one name.
func RevokePVName(issuerID string, serial uint64) string {
	return fmt.Sprintf("CERT:REVOKE:%s:%d", issuerID, serial)
}

// ParseRevokePVName is the inverse of RevokePVName.
func ParseRevokePVName(name string) (issuerID string, serial uint64, ok bool) {
	const prefix = "CERT:REVOKE:"
	if !strings.HasPrefix(name, prefix) {
		return "", 0, false
	}
	parts := strings.SplitN(name[len(prefix):], ":", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	serial, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], serial, true
}
