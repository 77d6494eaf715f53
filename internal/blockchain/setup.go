// server/internal/blockchain/setup.go
package blockchain

import (
	"fmt"
	"os"
	"path/filepath"

	fabconfig "github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
	"go.uber.org/zap"

	"pharma-scm-api-server/config"
	"pharma-scm-api-server/internal/wallet"
)

// Ledger is an open gateway session bound to the batch chaincode.
type Ledger struct {
	Contract *gateway.Contract
	closers  []func()
}

// Connect opens the wallet, makes sure the service identity is in it and
// connects to the configured channel.
func Connect(cfg config.FabricConfig, logger *zap.Logger) (*Ledger, error) {
	if cfg.DiscoveryAsLocalhost {
		if err := os.Setenv("DISCOVERY_AS_LOCALHOST", "true"); err != nil {
			return nil, err
		}
	}

	w, err := gateway.NewFileSystemWallet(cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("open wallet %s: %w", cfg.WalletPath, err)
	}
	id := wallet.Identity{
		Label:    cfg.UserName,
		MSPID:    cfg.OrgName + "MSP",
		CertPath: cfg.UserCertPath,
		KeyDir:   cfg.UserKeyDir,
	}
	added, err := wallet.Ensure(w, id)
	if err != nil {
		return nil, err
	}
	if added {
		logger.Info("Imported ledger identity into wallet", zap.String("label", id.Label), zap.String("msp", id.MSPID))
	}

	l := &Ledger{}
	sdk, err := fabsdk.New(fabconfig.FromFile(filepath.Clean(cfg.ConnectionProfile)))
	if err != nil {
		return nil, fmt.Errorf("load connection profile: %w", err)
	}
	l.closers = append(l.closers, sdk.Close)

	gw, err := gateway.Connect(gateway.WithSDK(sdk), gateway.WithIdentity(w, id.Label))
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("connect gateway as %s: %w", id.Label, err)
	}
	l.closers = append(l.closers, gw.Close)

	network, err := gw.GetNetwork(cfg.ChannelName)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("join channel %s: %w", cfg.ChannelName, err)
	}
	l.Contract = network.GetContract(cfg.ChaincodeName)
	return l, nil
}

// Close releases the gateway and the SDK in reverse order of creation.
func (l *Ledger) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
	l.closers = nil
}
