// Package config is the viper-backed configuration tree for the CMS
// process: issuer identity, key backend selection, database, sweep
// period, peer-status transport, admin ACL path, and the TLS listener.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the CMS process's full configuration tree.
type Config struct {
	Issuer     IssuerConfig
	KeyBackend KeyBackendConfig
	Database   DatabaseConfig
	Sweep      SweepConfig
	ACL        ACLConfig
	Server     ServerConfig
	Approval   ApprovalConfig
	PeerStatus PeerStatusConfig
}

// IssuerConfig names the CA identity the CMS signs with.
type IssuerConfig struct {
	CommonName   string
	Organization string
	OrgUnit      string
	Country      string
	KeyLabel     string        // label under which the issuer key lives in the configured backend
	Validity     time.Duration // CA certificate lifetime, used only at bootstrap
}

// KeyBackendConfig selects and configures the keymanagement.Backend.
type KeyBackendConfig struct {
	Kind string // "softkey" or "pkcs11"

	// softkey
	SoftKeyDir string

	// pkcs11
	PKCS11Module string
	PKCS11Slot   string
	PKCS11Pin    string
}

// DatabaseConfig is the certs-table connection, opened against the "pgx"
// driver registered by github.com/jackc/pgx/v5/stdlib.
type DatabaseConfig struct {
	DSN string
}

// SweepConfig configures certstore.Sweeper. Period <= 0 selects
// certstore.DefaultSweepPeriod.
type SweepConfig struct {
	Period time.Duration
}

// ACLConfig points at the admin allow-list file cms.LoadACL watches.
type ACLConfig struct {
	Path string
}

// ServerConfig is the pvnet.Server's TLS listener configuration.
type ServerConfig struct {
	ListenAddr    string
	CertFile      string
	KeyFile       string
	ClientCAFile  string
	SSLKeyLogFile string // honored only when non-empty; config key server.ssl_key_log_file
}

// PeerStatusConfig configures the Peer Status Manager's own view of the
// certificate store: the plain-HTTP listener it serves status/monitor
// RPCs on for pvnet.Client to dial (the mutual-TLS listener carries
// the PVA protocol itself, not the manager's own status lookups), and
// whether a self-signed chain is tolerated during handshake verification.
type PeerStatusConfig struct {
	ListenAddr            string
	ClientURL             string
	AllowSelfSignedAnchor bool
}

// ApprovalConfig mirrors the reference's per-role
// cert_{client,server,gateway}_require_approval flags.
type ApprovalConfig struct {
	RequireApprovalClient  bool
	RequireApprovalServer  bool
	RequireApprovalGateway bool
}

// Load reads the CMS configuration from path using viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("sweep.period_seconds", 30)
	v.SetDefault("approval.require_approval_client", true)
	v.SetDefault("approval.require_approval_server", true)
	v.SetDefault("approval.require_approval_gateway", true)
	v.SetDefault("keybackend.kind", "softkey")
	v.SetDefault("peerstatus.listen_addr", "127.0.0.1:8443")
	v.SetDefault("peerstatus.client_url", "http://127.0.0.1:8443")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{
		Issuer: IssuerConfig{
			CommonName:   v.GetString("issuer.common_name"),
			Organization: v.GetString("issuer.organization"),
			OrgUnit:      v.GetString("issuer.org_unit"),
			Country:      v.GetString("issuer.country"),
			KeyLabel:     v.GetString("issuer.key_label"),
			Validity:     v.GetDuration("issuer.validity"),
		},
		KeyBackend: KeyBackendConfig{
			Kind:         v.GetString("keybackend.kind"),
			SoftKeyDir:   v.GetString("keybackend.softkey.dir"),
			PKCS11Module: v.GetString("keybackend.pkcs11.module"),
			PKCS11Slot:   v.GetString("keybackend.pkcs11.slot"),
			PKCS11Pin:    v.GetString("keybackend.pkcs11.pin"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Sweep: SweepConfig{
			Period: time.Duration(v.GetInt("sweep.period_seconds")) * time.Second,
		},
		ACL: ACLConfig{
			Path: v.GetString("acl.path"),
		},
		Server: ServerConfig{
			ListenAddr:    v.GetString("server.listen_addr"),
			CertFile:      v.GetString("server.cert_file"),
			KeyFile:       v.GetString("server.key_file"),
			ClientCAFile:  v.GetString("server.client_ca_file"),
			SSLKeyLogFile: v.GetString("server.ssl_key_log_file"),
		},
		Approval: ApprovalConfig{
			RequireApprovalClient:  v.GetBool("approval.require_approval_client"),
			RequireApprovalServer:  v.GetBool("approval.require_approval_server"),
			RequireApprovalGateway: v.GetBool("approval.require_approval_gateway"),
		},
		PeerStatus: PeerStatusConfig{
			ListenAddr:            v.GetString("peerstatus.listen_addr"),
			ClientURL:             v.GetString("peerstatus.client_url"),
			AllowSelfSignedAnchor: v.GetBool("peerstatus.allow_self_signed_anchor"),
		},
	}
	if cfg.Sweep.Period > 30*time.Second {
		return nil, fmt.Errorf("config: sweep.period_seconds must not exceed 30s, got %s", cfg.Sweep.Period)
	}
	return cfg, nil
}
