package tool

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/moyoez/localvault/types"
)

const certValidity = 365 * 24 * time.Hour

// GetOrCreateTLSConfig loads the certificate stored in cfg or generates a self-signed one.
// When a new certificate is generated, cfg.CertPEM and cfg.KeyPEM are updated and changed is true
// so the caller can persist the config.
func GetOrCreateTLSConfig(cfg *types.AppConfig) (tlsCfg *tls.Config, changed bool, err error) {
	if cfg.CertPEM != "" && cfg.KeyPEM != "" {
		if err := checkCertPEM(cfg.CertPEM); err == nil {
			cert, err := tls.X509KeyPair([]byte(cfg.CertPEM), []byte(cfg.KeyPEM))
			if err == nil {
				DefaultLogger.Infof("[TLS] Loaded existing certificate from config")
				return &tls.Config{Certificates: []tls.Certificate{cert}}, false, nil
			}
			DefaultLogger.Warnf("[TLS] Stored key pair is unusable: %v, regenerating...", err)
		} else {
			DefaultLogger.Warnf("[TLS] Certificate in config is invalid or expired: %v, regenerating...", err)
		}
	}

	certDER, keyDER, err := generateTLSCert()
	if err != nil {
		return nil, false, err
	}
	cfg.CertPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	cfg.KeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))

	cert, err := tls.X509KeyPair([]byte(cfg.CertPEM), []byte(cfg.KeyPEM))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	DefaultLogger.Infof("[TLS] Certificate generated and stored in config")
	return &tls.Config{Certificates: []tls.Certificate{cert}}, true, nil
}

// checkCertPEM returns an error when the PEM does not hold a currently valid certificate.
func checkCertPEM(certPEM string) error {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if time.Now().After(cert.NotAfter) {
		return fmt.Errorf("certificate has expired")
	}
	return nil
}

func generateTLSCert() (certDER []byte, keyDER []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	cert := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "localvault",
			Organization: []string{"localvault"},
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(certValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, &cert, &cert, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ECDSA private key: %w", err)
	}
	return certBytes, privateKeyBytes, nil
}
