package order

import (
	"fmt"
	"math/big"
	"strings"

	"perps/pkg/stark"
)

// Account is the credential holder for one authenticated session. The private
// scalar never leaves this type; collaborators sign through Sign.
type Account struct {
	vault  uint64
	priv   *big.Int
	pubX   *big.Int
	pubY   *big.Int
	apiKey string
	pubHex string
}

// NewAccount constructs an account from a private key hex string. The public
// key is derived rather than trusted from input, so a stale or mismatched
// public key cannot slip into settlements.
func NewAccount(vault uint64, privateKeyHex, apiKey string) (*Account, error) {
	if err := checkHex(privateKeyHex); err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrCredentialsRequired, err)
	}
	if strings.HasPrefix(apiKey, "0x") {
		return nil, fmt.Errorf("%w: api key should not start with 0x", ErrCredentialsRequired)
	}

	priv, ok := new(big.Int).SetString(strings.TrimPrefix(privateKeyHex, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("%w: unparsable private key", ErrCredentialsRequired)
	}

	pubX, pubY, err := stark.PublicKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsRequired, err)
	}

	return &Account{
		vault:  vault,
		priv:   priv,
		pubX:   pubX,
		pubY:   pubY,
		apiKey: apiKey,
		pubHex: fmt.Sprintf("0x%x", pubX),
	}, nil
}

// AccountFromSignature derives the trading key pair from an externally
// produced wallet signature via key grinding.
func AccountFromSignature(vault uint64, rawSignatureHex, apiKey string) (*Account, error) {
	priv, err := stark.GrindKey(rawSignatureHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsRequired, err)
	}
	return NewAccount(vault, fmt.Sprintf("0x%x", priv), apiKey)
}

// Vault returns the collateral position id.
func (a *Account) Vault() uint64 { return a.vault }

// APIKey returns the REST/stream API key.
func (a *Account) APIKey() string { return a.apiKey }

// PublicKey returns the stark key (x coordinate of the public point).
func (a *Account) PublicKey() *big.Int { return new(big.Int).Set(a.pubX) }

// PublicKeyHex returns the stark key as a 0x-prefixed hex string.
func (a *Account) PublicKeyHex() string { return a.pubHex }

// Sign signs a message hash with the account's private scalar.
func (a *Account) Sign(msgHash *big.Int) (r, s *big.Int, err error) {
	return stark.Sign(a.priv, msgHash)
}

func checkHex(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("must start with 0x")
	}
	body := s[2:]
	if body == "" {
		return fmt.Errorf("empty hex after 0x")
	}
	for _, c := range body {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return fmt.Errorf("invalid hex char %q", c)
		}
	}
	return nil
}
