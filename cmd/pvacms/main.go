// Command pvacms runs the Certificate Management Service: it bootstraps
// or loads the issuer CA, opens the certificate store, starts the
// background sweep, and serves the CREATE/STATUS/REVOKE PV surface over
// a gin engine and a pgx-backed database connection, with a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"pvacms/certfactory"
	"pvacms/certstatus"
	"pvacms/certstore"
	"pvacms/cms"
	"pvacms/config"
	"pvacms/keymanagement"
	"pvacms/keymanagement/pkcs11"
	"pvacms/keymanagement/softkey"
	"pvacms/metrics"
	"pvacms/peerstatus"
	"pvacms/pvnet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to CMS configuration file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("pvacms: load config", zap.Error(err))
	}

	if keylog := cfg.Server.SSLKeyLogFile; keylog != "" {
		log.Warn("pvacms: SSLKEYLOGFILE is set, TLS secrets will be logged in cleartext", zap.String("path", keylog))
	}

	backend, err := openKeyBackend(cfg.KeyBackend)
	if err != nil {
		log.Fatal("pvacms: open key backend", zap.Error(err))
	}
	defer backend.Close()

	issuer, err := bootstrapIssuer(backend, cfg.Issuer, log)
	if err != nil {
		log.Fatal("pvacms: bootstrap issuer", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatal("pvacms: open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		log.Fatal("pvacms: ping database", zap.Error(err))
	}

	store, err := certstore.New(context.Background(), db)
	if err != nil {
		log.Fatal("pvacms: init certificate store", zap.Error(err))
	}

	acl, err := cms.LoadACL(cfg.ACL.Path, log)
	if err != nil {
		log.Fatal("pvacms: load admin ACL", zap.Error(err))
	}

	verifier := cms.DefaultVerifier{Policy: cms.ApprovalPolicy{
		RequireApprovalClient:  cfg.Approval.RequireApprovalClient,
		RequireApprovalServer:  cfg.Approval.RequireApprovalServer,
		RequireApprovalGateway: cfg.Approval.RequireApprovalGateway,
	}}

	server := pvnet.NewServer(nil, log) // Handlers wired in just below, after Service needs server as its Publisher.
	service := cms.NewService(issuer, store, verifier, acl, server, log)
	server.SetHandlers(service)

	sweeper := certstore.NewSweeper(store, cfg.Sweep.Period, service.OnLifecycleChange, log)
	sweeper.Start()
	defer sweeper.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// The peer status manager fetches and monitors its peers' status PVs
	// in the clear, the same trusted-internal-RPC surface server.go
	// documents for GET/MONITOR; it never dials back over the mutual-TLS
	// listener it is itself gating.
	peerStatusServer := &http.Server{
		Addr:    cfg.PeerStatus.ListenAddr,
		Handler: server.Handler(),
	}
	go func() {
		log.Info("pvacms: peer status RPC listening", zap.String("addr", cfg.PeerStatus.ListenAddr))
		if err := peerStatusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("pvacms: serve peer status RPC", zap.Error(err))
		}
	}()

	peerMgr := peerstatus.NewManager(issuer.Chain, cfg.PeerStatus.AllowSelfSignedAnchor, pvnet.NewClient(cfg.PeerStatus.ClientURL), log)
	registry := newPeerCacheRegistry()

	httpServer := &http.Server{
		Addr:      cfg.Server.ListenAddr,
		Handler:   mux,
		TLSConfig: buildTLSConfig(cfg, peerMgr, registry),
		ConnState: registry.onConnState,
	}

	go func() {
		log.Info("pvacms: listening", zap.String("addr", cfg.Server.ListenAddr))
		var err error
		if cfg.Server.CertFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("pvacms: serve", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), pvnet.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("pvacms: graceful shutdown", zap.Error(err))
	}
	if err := peerStatusServer.Shutdown(ctx); err != nil {
		log.Warn("pvacms: peer status RPC graceful shutdown", zap.Error(err))
	}
}

// peerCacheRegistry keys one peerstatus.Cache per live TLS connection: it
// is populated in buildTLSConfig's GetConfigForClient hook and drained by
// onConnState so a connection's subscriptions are cancelled when it closes.
type peerCacheRegistry struct {
	mu   sync.Mutex
	byID map[net.Conn]*peerstatus.Cache
}

func newPeerCacheRegistry() *peerCacheRegistry {
	return &peerCacheRegistry{byID: make(map[net.Conn]*peerstatus.Cache)}
}

func (r *peerCacheRegistry) put(conn net.Conn, cache *peerstatus.Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[conn] = cache
}

func (r *peerCacheRegistry) onConnState(conn net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	r.mu.Lock()
	cache, ok := r.byID[conn]
	delete(r.byID, conn)
	r.mu.Unlock()
	if ok {
		cache.Close()
	}
}

var (
	errUnverifiedPeerChain = errors.New("pvacms: peer chain did not verify")
	errPeerStatusRejected  = errors.New("pvacms: peer status verification rejected the handshake")
)

func openKeyBackend(cfg config.KeyBackendConfig) (keymanagement.Backend, error) {
	switch cfg.Kind {
	case "pkcs11":
		return pkcs11.New(cfg.PKCS11Module, cfg.PKCS11Slot, cfg.PKCS11Pin)
	default:
		return softkey.New(cfg.SoftKeyDir), nil
	}
}

// bootstrapIssuer loads the issuer signer from backend under
// issuerCfg.KeyLabel, generating a fresh key on first run. The
// self-signed CA certificate is minted anew from that key on every start;
// its issuer-id stays the same because it derives from the key.
func bootstrapIssuer(backend keymanagement.Backend, issuerCfg config.IssuerConfig, log *zap.Logger) (cms.Issuer, error) {
	signer, err := backend.Signer(issuerCfg.KeyLabel)
	if err != nil {
		log.Info("pvacms: no issuer key found, generating one", zap.String("label", issuerCfg.KeyLabel))
		signer, err = backend.Generate(issuerCfg.KeyLabel)
		if err != nil {
			return cms.Issuer{}, err
		}
	}

	validity := issuerCfg.Validity
	if validity <= 0 {
		validity = 10 * 365 * 24 * time.Hour
	}
	cert, _, err := certfactory.BuildSelfSignedCA(issuerCfg.CommonName, issuerCfg.Organization, issuerCfg.OrgUnit, issuerCfg.Country, signer, validity)
	if err != nil {
		return cms.Issuer{}, err
	}

	issuerID, err := certstatus.IssuerIDFrom(cert)
	if err != nil {
		return cms.Issuer{}, err
	}

	return cms.Issuer{ID: issuerID, Cert: cert, Key: signer, Chain: []*x509.Certificate{cert}}, nil
}

// buildTLSConfig realizes ALPN and TLS-minimum-version requirements and
// wires the Peer Status Manager into the handshake: GetConfigForClient
// hands every incoming connection its own peerstatus.Cache and a
// VerifyPeerCertificate closure over it, so invariant 5 ("a completed
// handshake with tls_verify=true implies the peer's cached status was
// fresh and good at that moment") is enforced by the running server, not
// only by tests. Client certificates are requested but not required at
// the transport layer (a presented one is chain-verified against
// ClientCAs): anonymous and basic-credential CCRs are legal, so
// enforcement of "must present x509" happens in cms.DefaultVerifier, not
// here.
func buildTLSConfig(cfg *config.Config, mgr *peerstatus.Manager, registry *peerCacheRegistry) *tls.Config {
	base := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{"pva/1"},
		ClientAuth: tls.VerifyClientCertIfGiven,
	}
	if cfg.Server.SSLKeyLogFile != "" {
		if f, err := os.OpenFile(cfg.Server.SSLKeyLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600); err == nil {
			base.KeyLogWriter = f
		}
	}
	if cfg.Server.ClientCAFile != "" {
		if pemBytes, err := os.ReadFile(cfg.Server.ClientCAFile); err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(pemBytes)
			base.ClientCAs = pool
		}
	}

	base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		cache := peerstatus.NewCache()
		if hello.Conn != nil {
			registry.put(hello.Conn, cache)
		}

		connCfg := base.Clone()
		connCfg.GetConfigForClient = nil
		connCfg.VerifyPeerCertificate = func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				// no client cert presented: legal for anonymous/basic
				// CCRs, per the transport-layer note above.
				return nil
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			var preverifyErr error
			if len(verifiedChains) == 0 {
				preverifyErr = errUnverifiedPeerChain
			}
			if !mgr.TLSVerify(context.Background(), preverifyErr, cache, leaf, cfg.PeerStatus.AllowSelfSignedAnchor) {
				return errPeerStatusRejected
			}
			return nil
		}
		return connCfg, nil
	}
	return base
}
