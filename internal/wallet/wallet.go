// internal/wallet/wallet.go
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
)

var ErrNoPrivateKey = errors.New("no private key in keystore")

// Identity locates the MSP material of the account the API server submits
// ledger transactions as.
type Identity struct {
	Label    string
	MSPID    string
	CertPath string
	KeyDir   string
}

// Load reads the signing certificate and the private key from disk.
func (id Identity) Load() (*gateway.X509Identity, error) {
	cert, err := os.ReadFile(filepath.Clean(id.CertPath))
	if err != nil {
		return nil, fmt.Errorf("read certificate for %s: %w", id.Label, err)
	}
	keyPath, err := keystoreFile(id.KeyDir)
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key for %s: %w", id.Label, err)
	}
	return gateway.NewX509Identity(id.MSPID, string(cert), string(key)), nil
}

// Ensure puts id into w when the wallet has no entry under its label yet.
// It reports whether anything was written.
func Ensure(w *gateway.Wallet, id Identity) (bool, error) {
	if w.Exists(id.Label) {
		return false, nil
	}
	x509, err := id.Load()
	if err != nil {
		return false, err
	}
	if err := w.Put(id.Label, x509); err != nil {
		return false, fmt.Errorf("store %s in wallet: %w", id.Label, err)
	}
	return true, nil
}

// keystoreFile returns the first regular file under dir; Fabric CA keystores
// hold a single *_sk file.
func keystoreFile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.Type().IsRegular():
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan keystore %s: %w", dir, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPrivateKey, dir)
	}
	return found, nil
}
