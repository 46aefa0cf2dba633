package x402

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash   = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferTypeHash = crypto.Keccak256([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// Wallet signs exact-scheme payment authorizations with an EVM private key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewWallet(privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the wallet's EIP-55 checksummed address.
func (w *Wallet) Address() string { return w.address.Hex() }

// Authorization is the EIP-3009 transfer authorization inside an
// exact-scheme payment payload. Numeric fields travel as decimal strings.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Pay builds a signed PaymentPayload satisfying the requirement. The
// authorization window opens 60s in the past to absorb clock skew and
// closes after the requirement's timeout.
func (w *Wallet) Pay(requirement *PaymentRequirement, now time.Time) (*PaymentPayload, error) {
	chainID, ok := ChainID(requirement.Network)
	if !ok {
		return nil, fmt.Errorf("unsupported network %q", requirement.Network)
	}
	value, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", requirement.MaxAmountRequired)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	timeout := requirement.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	validAfter := big.NewInt(now.Unix() - 60)
	validBefore := big.NewInt(now.Unix() + int64(timeout))

	to := common.HexToAddress(requirement.PayTo)
	asset := common.HexToAddress(requirement.Asset)

	name := ""
	version := "1"
	if requirement.Extra != nil {
		if s, ok := requirement.Extra["name"].(string); ok {
			name = s
		}
		if s, ok := requirement.Extra["version"].(string); ok && s != "" {
			version = s
		}
	}

	digest := transferDigest(name, version, chainID, asset, w.address, to, value, validAfter, validBefore, nonce)
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	// EIP-3009 verifiers expect the legacy 27/28 recovery id.
	sig[64] += 27

	return &PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     requirement.Network,
		Payload: map[string]any{
			"signature": hexutil.Encode(sig),
			"authorization": Authorization{
				From:        w.address.Hex(),
				To:          to.Hex(),
				Value:       value.String(),
				ValidAfter:  validAfter.String(),
				ValidBefore: validBefore.String(),
				Nonce:       hexutil.Encode(nonce[:]),
			},
		},
	}, nil
}

// transferDigest computes the EIP-712 signing digest for a
// TransferWithAuthorization struct under the token's domain.
func transferDigest(name, version string, chainID int64, verifyingContract, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) []byte {
	domainSeparator := crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(name)),
		crypto.Keccak256([]byte(version)),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(verifyingContract.Bytes(), 32),
	)
	structHash := crypto.Keccak256(
		transferTypeHash,
		common.LeftPadBytes(from.Bytes(), 32),
		common.LeftPadBytes(to.Bytes(), 32),
		common.LeftPadBytes(value.Bytes(), 32),
		common.LeftPadBytes(validAfter.Bytes(), 32),
		common.LeftPadBytes(validBefore.Bytes(), 32),
		nonce[:],
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)
}

// EncodePaymentHeader renders a payload as an X-PAYMENT header value.
func EncodePaymentHeader(p *PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
