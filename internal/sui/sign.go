package sui

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmarzzo/defi-agent/internal/custody"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/wallet"
	"github.com/mr-tron/base58"
)

// transactionDataIntent is the three-byte intent envelope prepended to raw
// transaction bytes before signing: scope TransactionData, version V0, app Sui.
var transactionDataIntent = []byte{0, 0, 0}

const ed25519Flag = 0x00

// SendResult reports a signed-and-executed Sui transaction.
type SendResult struct {
	TxDigest string `json:"txDigest"`
	Status   string `json:"status"`
	Explorer string `json:"explorer,omitempty"`
}

// SignAndExecute signs serialized transaction bytes with the user's custody
// wallet and submits them. The custody provider hashes the intent message with
// blake2b-256 before signing; the serialized Sui signature is
// flag || signature || public key, base64 encoded.
func (c *Client) SignAndExecute(ctx context.Context, cust *custody.Client, rec wallet.Record, txBytesHex, publicKeyBase58 string) (SendResult, error) {
	if !rec.HasSui() || rec.SuiWalletID == "" {
		return SendResult{}, agerr.New(agerr.CodeUsage, "no sui wallet for this user")
	}
	if !cust.Configured() {
		return SendResult{}, agerr.New(agerr.CodeNotConfigured, "custody provider not configured")
	}

	clean := strings.TrimPrefix(strings.TrimSpace(txBytesHex), "0x")
	rawBytes, err := hex.DecodeString(clean)
	if err != nil {
		return SendResult{}, agerr.Wrap(agerr.CodeUsage, "decode transaction bytes", err)
	}
	if len(rawBytes) == 0 {
		return SendResult{}, agerr.New(agerr.CodeUsage, "transaction bytes required")
	}

	pubKeyB58 := strings.TrimSpace(publicKeyBase58)
	if pubKeyB58 == "" {
		pubKeyB58 = rec.SuiWalletPublicKey
	}
	if pubKeyB58 == "" {
		return SendResult{}, agerr.New(agerr.CodeUsage, "sui wallet public key required for signature serialization")
	}
	pubKey, err := base58.Decode(pubKeyB58)
	if err != nil {
		return SendResult{}, agerr.Wrap(agerr.CodeUsage, "decode sui public key", err)
	}

	intentMessage := append(append([]byte{}, transactionDataIntent...), rawBytes...)
	sig, err := cust.RawSign(ctx, rec.SuiWalletID, hex.EncodeToString(intentMessage))
	if err != nil {
		return SendResult{}, err
	}

	serialized := SerializeSignature(sig, pubKey)
	digest, status, err := c.ExecuteTransactionBlock(ctx, base64.StdEncoding.EncodeToString(rawBytes), serialized)
	if err != nil {
		return SendResult{}, err
	}

	out := SendResult{TxDigest: digest, Status: status}
	if c.explorer != "" {
		out.Explorer = fmt.Sprintf("%s/txblock/%s", c.explorer, digest)
	}
	return out, nil
}

// SerializeSignature packs an ed25519 signature and public key into the wire
// form the node verifies.
func SerializeSignature(sig, pubKey []byte) string {
	buf := make([]byte, 0, 1+len(sig)+len(pubKey))
	buf = append(buf, ed25519Flag)
	buf = append(buf, sig...)
	buf = append(buf, pubKey...)
	return base64.StdEncoding.EncodeToString(buf)
}
