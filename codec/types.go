package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Balance is a SCALE u128. It marshals to JSON as a decimal string.
type Balance struct {
	*big.Int
}

func NewBalance(v uint64) Balance {
	return Balance{new(big.Int).SetUint64(v)}
}

func (b *Balance) Decode(decoder scale.Decoder) error {
	var u types.U128
	if err := decoder.Decode(&u); err != nil {
		return err
	}
	b.Int = u.Int
	return nil
}

func (b Balance) Encode(encoder scale.Encoder) error {
	v := b.Int
	if v == nil {
		v = new(big.Int)
	}
	return encoder.Encode(types.NewU128(*v))
}

func (b Balance) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.Int.String())
}

// AccountID is a 32-byte account public key.
type AccountID [32]byte

func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// AccountDataV1 is the balances account data with split frozen balances.
type AccountDataV1 struct {
	Free       Balance `json:"free"`
	Reserved   Balance `json:"reserved"`
	MiscFrozen Balance `json:"misc_frozen"`
	FeeFrozen  Balance `json:"fee_frozen"`
}

// AccountDataV2 is the balances account data with a single frozen balance.
type AccountDataV2 struct {
	Free     Balance `json:"free"`
	Reserved Balance `json:"reserved"`
	Frozen   Balance `json:"frozen"`
	Flags    Balance `json:"flags"`
}

// AccountInfoV1 is System.Account before the consumers/providers split.
type AccountInfoV1 struct {
	Nonce    uint32        `json:"nonce"`
	RefCount uint32        `json:"ref_count"`
	Data     AccountDataV1 `json:"data"`
}

// AccountInfoV2 is System.Account with reference counters split by kind.
type AccountInfoV2 struct {
	Nonce       uint32        `json:"nonce"`
	Consumers   uint32        `json:"consumers"`
	Providers   uint32        `json:"providers"`
	Sufficients uint32        `json:"sufficients"`
	Data        AccountDataV1 `json:"data"`
}

// AccountInfoV3 is System.Account after the balances holds/freezes migration.
type AccountInfoV3 struct {
	Nonce       uint32        `json:"nonce"`
	Consumers   uint32        `json:"consumers"`
	Providers   uint32        `json:"providers"`
	Sufficients uint32        `json:"sufficients"`
	Data        AccountDataV2 `json:"data"`
}

// TransferV1 is Balances.Transfer when the event still carried the fee.
type TransferV1 struct {
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	Amount Balance   `json:"amount"`
	Fee    Balance   `json:"fee"`
}

// TransferV2 is Balances.Transfer without the fee.
type TransferV2 struct {
	From   AccountID `json:"from"`
	To     AccountID `json:"to"`
	Amount Balance   `json:"amount"`
}

// Default returns a codec with the primitive and well-known decoders.
func Default() *Codec {
	return New().
		MustRegister("u8", Scale[uint8]()).
		MustRegister("u16", Scale[uint16]()).
		MustRegister("u32", Scale[uint32]()).
		MustRegister("u64", Scale[uint64]()).
		MustRegister("u128", Scale[Balance]()).
		MustRegister("bool", Scale[bool]()).
		MustRegister("bytes", Scale[[]byte]()).
		MustRegister("account_id", Scale[AccountID]()).
		MustRegister("system.account_info.v1", Scale[AccountInfoV1]()).
		MustRegister("system.account_info.v2", Scale[AccountInfoV2]()).
		MustRegister("system.account_info.v3", Scale[AccountInfoV3]()).
		MustRegister("balances.transfer.v1", Scale[TransferV1]()).
		MustRegister("balances.transfer.v2", Scale[TransferV2]())
}

// RawKey is a key part that is already encoded and is hashed as-is.
type RawKey []byte

// EncodeKeyPart encodes one storage map key part before hashing.
func (c *Codec) EncodeKeyPart(part any) ([]byte, error) {
	switch p := part.(type) {
	case RawKey:
		return p, nil
	case *big.Int:
		return Encode(NewBalanceFromBig(p))
	case nil:
		return nil, fmt.Errorf("nil key part")
	default:
		b, err := Encode(part)
		if err != nil {
			return nil, fmt.Errorf("encoding key part %T: %w", part, err)
		}
		return b, nil
	}
}

func NewBalanceFromBig(v *big.Int) Balance {
	return Balance{new(big.Int).Set(v)}
}
