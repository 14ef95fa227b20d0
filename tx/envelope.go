package tx

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"

	"tokensale/crypto"
)

// MaxTTL bounds how far in the future an envelope may expire. It also bounds
// how long the replay guard has to remember a digest.
const MaxTTL = 10 * time.Minute

var (
	ErrMalformed        = errors.New("tx: malformed envelope")
	ErrInvalidSignature = errors.New("tx: invalid signature")
	ErrExpired          = errors.New("tx: envelope expired")
	ErrExpiryTooFar     = errors.New("tx: expiry beyond maximum ttl")
	ErrMethodMismatch   = errors.New("tx: envelope signed for a different method")
	ErrReplay           = errors.New("tx: envelope already submitted")
)

// Instruction is the signed payload of an envelope.
type Instruction struct {
	Method    string          `cbor:"1,keyasint"`
	Nonce     uint64          `cbor:"2,keyasint"`
	ExpiresAt int64           `cbor:"3,keyasint"`
	Body      cbor.RawMessage `cbor:"4,keyasint"`
}

// DecodeBody decodes the method-specific body into v.
func (i *Instruction) DecodeBody(v any) error {
	if len(i.Body) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if err := Unmarshal(i.Body, v); err != nil {
		return fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	return nil
}

// Envelope carries a CBOR instruction and the signer's ed25519 signature
// over it. In JSON the payload is base64 and the signature hex.
type Envelope struct {
	Signer    crypto.Address `json:"signer"`
	Payload   []byte         `json:"payload"`
	Signature string         `json:"signature"`
}

// Sign encodes body under method and signs it with key.
func Sign(key *crypto.PrivateKey, method string, nonce uint64, expiresAt time.Time, body any) (*Envelope, error) {
	rawBody, err := Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tx: encoding body: %w", err)
	}
	payload, err := Marshal(&Instruction{
		Method:    method,
		Nonce:     nonce,
		ExpiresAt: expiresAt.Unix(),
		Body:      rawBody,
	})
	if err != nil {
		return nil, fmt.Errorf("tx: encoding instruction: %w", err)
	}
	return &Envelope{
		Signer:    key.Address(),
		Payload:   payload,
		Signature: hex.EncodeToString(key.Sign(payload)),
	}, nil
}

// Digest identifies an envelope for replay protection.
func (e *Envelope) Digest() [32]byte {
	h := blake3.New(32, nil)
	_, _ = h.Write(e.Signer[:])
	_, _ = h.Write(e.Payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Open verifies the signature, decodes the instruction and checks that it is
// meant for method and still valid at now.
func (e *Envelope) Open(method string, now time.Time) (*Instruction, error) {
	if e == nil || len(e.Payload) == 0 || e.Signer.IsZero() {
		return nil, ErrMalformed
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrMalformed)
	}
	if !crypto.Verify(e.Signer, e.Payload, sig) {
		return nil, ErrInvalidSignature
	}
	var ins Instruction
	if err := Unmarshal(e.Payload, &ins); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ins.Method != method {
		return nil, fmt.Errorf("%w: %q", ErrMethodMismatch, ins.Method)
	}
	expires := time.Unix(ins.ExpiresAt, 0)
	if !now.Before(expires) {
		return nil, ErrExpired
	}
	if expires.Sub(now) > MaxTTL {
		return nil, ErrExpiryTooFar
	}
	return &ins, nil
}
