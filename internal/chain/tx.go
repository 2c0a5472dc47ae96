package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
)

const (
	actionFunctionCallIndex = 2
	keyTypeED25519          = 0
)

// transaction is a single FunctionCall transaction in borsh layout order.
type transaction struct {
	SignerID   string
	PublicKey  ed25519.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  []byte
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

type borshWriter struct {
	buf []byte
}

func (w *borshWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *borshWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *borshWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *borshWriter) u128(v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return fmt.Errorf("chain: %s does not fit in u128", v.String())
	}
	be := v.FillBytes(make([]byte, 16))
	for i := len(be) - 1; i >= 0; i-- {
		w.buf = append(w.buf, be[i])
	}
	return nil
}

func (w *borshWriter) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *borshWriter) string(v string) {
	w.bytes([]byte(v))
}

func (w *borshWriter) fixed(v []byte) {
	w.buf = append(w.buf, v...)
}

func (t *transaction) serialize() ([]byte, error) {
	if len(t.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("chain: invalid signer public key length %d", len(t.PublicKey))
	}
	if len(t.BlockHash) != sha256.Size {
		return nil, fmt.Errorf("chain: invalid block hash length %d", len(t.BlockHash))
	}

	w := &borshWriter{}
	w.string(t.SignerID)
	w.u8(keyTypeED25519)
	w.fixed(t.PublicKey)
	w.u64(t.Nonce)
	w.string(t.ReceiverID)
	w.fixed(t.BlockHash)

	w.u32(1)
	w.u8(actionFunctionCallIndex)
	w.string(t.MethodName)
	w.bytes(t.Args)
	w.u64(t.Gas)
	if err := w.u128(t.Deposit); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// sign returns the borsh SignedTransaction bytes and the transaction hash.
func (t *transaction) sign(key ed25519.PrivateKey) ([]byte, [32]byte, error) {
	body, err := t.serialize()
	if err != nil {
		return nil, [32]byte{}, err
	}
	hash := sha256.Sum256(body)
	signature := ed25519.Sign(key, hash[:])

	w := &borshWriter{buf: body}
	w.u8(keyTypeED25519)
	w.fixed(signature)
	return w.buf, hash, nil
}

func parseYocto(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("chain: invalid amount %q", value)
	}
	return amount, nil
}
