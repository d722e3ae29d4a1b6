package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"lukechampine.com/blake3"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix marks externally owned accounts (suppliers, borrowers, admins).
	AccountPrefix AddressPrefix = "acct"
	// ModulePrefix marks protocol components such as markets and the risk engine.
	ModulePrefix AddressPrefix = "mod"
)

// AddressLength is the size of the raw address payload.
const AddressLength = 20

var errAddressLength = errors.New("address must be 20 bytes long")

// Address represents a 20-byte address with a human-readable prefix. Address
// values are comparable and can be used as map keys.
type Address struct {
	prefix AddressPrefix
	raw    [AddressLength]byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic(errAddressLength.Error())
	}
	addr := Address{prefix: prefix}
	copy(addr.raw[:], b)
	return addr
}

// DeriveModuleAddress returns the deterministic module address for name.
func DeriveModuleAddress(name string) Address {
	sum := blake3.Sum256([]byte("module/" + strings.ToLower(strings.TrimSpace(name))))
	return NewAddress(ModulePrefix, sum[:AddressLength])
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.raw[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address payload is all zero bytes.
func (a Address) IsZero() bool {
	return a.raw == [AddressLength]byte{}
}

// MarshalText encodes the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address. An empty string yields the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, errAddressLength
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}
