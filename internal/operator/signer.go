package operator

import (
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// Signer signs operator transactions. The operator key is the service's own
// key, never a user key: users authorize it once via delegation and it pays
// gas for every delegated call afterwards.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, agerr.New(agerr.CodeSigner, "operator signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

// SignerConfig names the operator key material. Precedence: inline hex, then
// key file, then geth keystore.
type SignerConfig struct {
	PrivateKeyHex    string
	PrivateKeyFile   string
	KeystorePath     string
	KeystorePassword string
}

func (c SignerConfig) Empty() bool {
	return strings.TrimSpace(c.PrivateKeyHex) == "" &&
		strings.TrimSpace(c.PrivateKeyFile) == "" &&
		strings.TrimSpace(c.KeystorePath) == ""
}

func NewLocalSigner(cfg SignerConfig) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, agerr.New(agerr.CodeSigner, "invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func loadPrivateKey(cfg SignerConfig) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		return parseHexKey(cfg.PrivateKeyHex)
	}
	if strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, agerr.Wrap(agerr.CodeSigner, "read operator key file", err)
		}
		return parseHexKey(string(buf))
	}
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		if strings.TrimSpace(cfg.KeystorePassword) == "" {
			return nil, agerr.New(agerr.CodeSigner, "keystore password is required")
		}
		buf, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, agerr.Wrap(agerr.CodeSigner, "read operator keystore", err)
		}
		key, err := keystore.DecryptKey(buf, cfg.KeystorePassword)
		if err != nil {
			return nil, agerr.Wrap(agerr.CodeSigner, "decrypt operator keystore", err)
		}
		return key.PrivateKey, nil
	}
	return nil, agerr.New(agerr.CodeNotConfigured, "operator key not configured")
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, agerr.New(agerr.CodeSigner, "empty operator private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeSigner, "parse operator private key", err)
	}
	return pk, nil
}
