// Package certs issues the self-signed certificate used by `serve --tls`.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	validity    = 365 * 24 * time.Hour
	renewBefore = 30 * 24 * time.Hour
)

// Pair locates a certificate and its key on disk.
type Pair struct {
	CertFile string
	KeyFile  string
}

// Ensure returns a certificate in dir that is valid for localhost and every
// name in hosts, issuing a new one when none exists, the existing one expires
// within 30 days or it does not cover a requested host.
func Ensure(dir string, hosts ...string) (Pair, error) {
	p := Pair{
		CertFile: filepath.Join(dir, "buyornot-local.crt"),
		KeyFile:  filepath.Join(dir, "buyornot-local.key"),
	}
	names := append([]string{"localhost", "127.0.0.1", "::1"}, hosts...)

	// Missing or unreadable pairs are replaced.
	if cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile); err == nil && usable(cert, names, time.Now()) == nil {
		return p, nil
	}

	if err := issue(p, names); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func usable(cert tls.Certificate, names []string, now time.Time) error {
	if len(cert.Certificate) == 0 {
		return errors.New("no certificates found")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.Add(renewBefore).After(leaf.NotAfter) {
		return errors.New("certificate expires soon")
	}
	for _, name := range names {
		if err := leaf.VerifyHostname(name); err != nil {
			return fmt.Errorf("certificate does not cover %s: %w", name, err)
		}
	}
	return nil
}

func issue(p Pair, names []string) error {
	if err := os.MkdirAll(filepath.Dir(p.CertFile), 0o700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"buyornot local server"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, name)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(p.CertFile, "CERTIFICATE", der); err != nil {
		return err
	}
	return writePEM(p.KeyFile, "EC PRIVATE KEY", keyDER)
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
