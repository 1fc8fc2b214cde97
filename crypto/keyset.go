package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder is the number of powers of two a keyset covers: 1, 2, 4, ..., 2^(MaxOrder-1).
const MaxOrder = 32

// KeyPair is one denomination's private/public scalar pair.
type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// Keyset is the mint's single, immutable amount -> keypair map, deterministically
// derived from a master seed. Unlike later Cashu protocol versions this mint
// never rotates to a second keyset: amount alone identifies the signing key.
type Keyset struct {
	Id   string
	Keys map[uint64]KeyPair
}

// deriveAmountKey walks m/0'/0'/i' off the master key, one hardened path
// per denomination index i, mirroring the teacher's per-amount derivation.
func deriveAmountKey(master *hdkeychain.ExtendedKey, order uint32) (*secp256k1.PrivateKey, *secp256k1.PublicKey, error) {
	unit, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, nil, err
	}
	sat, err := unit.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, nil, err
	}
	amountKey, err := sat.Derive(hdkeychain.HardenedKeyStart + order)
	if err != nil {
		return nil, nil, err
	}

	priv, err := amountKey.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}
	pub, err := amountKey.ECPubKey()
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// GenerateKeyset derives the full denomination keyset from master. Calling
// it twice with the same master always yields identical public keys, which
// is what lets a wallet that re-fetches /keys trust it got the same mint.
func GenerateKeyset(master *hdkeychain.ExtendedKey) (*Keyset, error) {
	keys := make(map[uint64]KeyPair, MaxOrder)
	pubs := make(PublicKeys, MaxOrder)

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << uint(i)
		priv, pub, err := deriveAmountKey(master, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("error deriving key for amount %d: %v", amount, err)
		}
		keys[amount] = KeyPair{PrivateKey: priv, PublicKey: pub}
		pubs[amount] = pub
	}

	return &Keyset{Id: DeriveKeysetId(pubs), Keys: keys}, nil
}

// PublicKeys returns the public half of the keyset, the only part a wallet
// ever learns.
func (ks *Keyset) PublicKeys() PublicKeys {
	pubs := make(PublicKeys, len(ks.Keys))
	for amount, kp := range ks.Keys {
		pubs[amount] = kp.PublicKey
	}
	return pubs
}

// SupportedAmounts reports the powers of two this keyset signs for.
func (ks *Keyset) SupportedAmounts() []uint64 {
	amounts := make([]uint64, 0, len(ks.Keys))
	for amount := range ks.Keys {
		amounts = append(amounts, amount)
	}
	slices.Sort(amounts)
	return amounts
}

// PublicKeys is an amount -> public point map, the shape the mint serves
// from GET /keys.
type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON renders keys sorted by amount so repeated calls and the
// derived keyset id stay stable for a given keyset.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	amounts := make([]uint64, 0, len(pks))
	for amount := range pks {
		amounts = append(amounts, amount)
	}
	slices.Sort(amounts)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, amount := range amounts {
		if i != 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(fmt.Sprintf("%d", amount))
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(hex.EncodeToString(pks[amount].SerializeCompressed()))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks *PublicKeys) UnmarshalJSON(data []byte) error {
	var raw map[uint64]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(PublicKeys, len(raw))
	for amount, hexKey := range raw {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		pub, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		out[amount] = pub
	}
	*pks = out
	return nil
}

// DeriveKeysetId hashes the sorted, concatenated compressed public keys and
// prefixes the first 14 hex chars of the digest with a version byte. Used
// only for logging/identification here — it never appears on the wire,
// since this mint has a single keyset.
func DeriveKeysetId(keys PublicKeys) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	concat := make([]byte, 0, len(amounts)*33)
	for _, amount := range amounts {
		concat = append(concat, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(concat)
	return "00" + hex.EncodeToString(hash[:])[:14]
}
