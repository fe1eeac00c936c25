package main

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/fides/pkg/bootstrap"
	"github.com/cuemby/fides/pkg/container"
)

var signCmd = &cobra.Command{
	Use:   "sign <manifest.yaml>",
	Short: "Sign an authored manifest's encoded payload with an RSA private key",
	Long: `Sign encodes the manifest the same way "apply" would, then signs the
resulting payload with a PKCS#1 v1.5/SHA-256 signature under the given
private key, matching the signature scheme the cert delegate validates.
The signed container is written to --out. "fidesctl apply" takes a YAML
manifest and submits an unsigned container, so it does not submit this file.`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().String("key", "", "PEM-encoded RSA private key (required)")
	signCmd.Flags().String("out", "", "output path for the signed container (required)")
	_ = signCmd.MarkFlagRequired("key")
	_ = signCmd.MarkFlagRequired("out")
}

func runSign(cmd *cobra.Command, args []string) error {
	keyPath, _ := cmd.Flags().GetString("key")
	outPath, _ := cmd.Flags().GetString("out")

	priv, err := loadRSAPrivateKey(keyPath)
	if err != nil {
		return err
	}

	manifest, err := bootstrap.LoadFile(args[0])
	if err != nil {
		return err
	}
	deletions, err := parseDeletions(manifest.Deletions)
	if err != nil {
		return err
	}

	payload := container.EncodeDocumentPayload(container.DecodedDocument{
		Values:    byteValues(manifest.Values),
		Deletions: deletions,
		Version:   manifest.Version,
	})

	digest := sha256.Sum256(payload)
	signature, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("signing payload: %w", err)
	}

	raw := container.EncodeContainer(container.Container{Payload: payload, Signature: signature})
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing signed container: %w", err)
	}

	fmt.Printf("wrote signed container to %s (%d bytes)\n", outPath, len(raw))
	return nil
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %s is not an RSA private key", path)
	}
	return rsaKey, nil
}
