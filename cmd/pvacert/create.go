package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pvacms/pvnet"
)

var (
	createName      string
	createUsage     string
	createCountry   string
	createOrg       string
	createOrgUnit   string
	createValidDays int
	createKeyOut    string
	createCertOut   string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "submit a certificate creation request to the CMS",
	RunE:  runCreate,
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createName, "name", "", "subject common name (required)")
	f.StringVar(&createUsage, "usage", "client", "one of client, server, gateway, ca")
	f.StringVar(&createCountry, "country", "", "subject country")
	f.StringVar(&createOrg, "org", "", "subject organization")
	f.StringVar(&createOrgUnit, "org-unit", "", "subject organizational unit")
	f.IntVar(&createValidDays, "valid-days", 365, "requested validity period in days")
	f.StringVar(&createKeyOut, "key-out", "", "path to write the generated private key PEM (required)")
	f.StringVar(&createCertOut, "cert-out", "", "path to write the issued certificate PEM bundle (required)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	if createName == "" {
		return optionErrorf("--name is required")
	}
	if createKeyOut == "" || createCertOut == "" {
		return optionErrorf("--key-out and --cert-out are required")
	}
	switch strings.ToLower(createUsage) {
	case "client", "server", "gateway", "ca":
	default:
		return optionErrorf("--usage must be one of client, server, gateway, ca, got %q", createUsage)
	}
	if createValidDays <= 0 {
		return incompatibleOptionErrorf("--valid-days must be positive, got %d", createValidDays)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return otherErrorf("generate key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return otherErrorf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	notBefore := time.Now().UTC()
	notAfter := notBefore.AddDate(0, 0, createValidDays)

	client := pvnet.NewClient(cmsURL)
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	bundle, err := client.Create(ctx, pvnet.CreateRequestDTO{
		Name:             createName,
		Country:          createCountry,
		Organization:     createOrg,
		OrganizationUnit: createOrgUnit,
		NotBefore:        notBefore.Format(time.RFC3339),
		NotAfter:         notAfter.Format(time.RFC3339),
		Usage:            strings.ToLower(createUsage),
		PubKeyPEM:        string(pubPEM),
	})
	if err != nil {
		if ctx.Err() != nil {
			return timeoutErrorf("CMS did not respond within the request deadline: %v", err)
		}
		return otherErrorf("create failed: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return otherErrorf("marshal private key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(createKeyOut, keyPEM, 0o600); err != nil {
		return certFileErrorf("write private key: %v", err)
	}
	if err := os.WriteFile(createCertOut, []byte(bundle), 0o644); err != nil {
		return certFileErrorf("write certificate bundle: %v", err)
	}

	cmd.Printf("issued certificate for %q, key written to %s, certificate written to %s\n", createName, createKeyOut, createCertOut)
	return nil
}
