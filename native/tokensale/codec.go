package tokensale

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tokensale/crypto"
)

// RecordSize is the exact allocation of an escrow record:
// discriminator, admin, holding, length-prefixed name, rate, total,
// remaining, bump.
const RecordSize = 8 + crypto.AddressLength + crypto.AddressLength + 4 + MaxNameLength + 8 + 8 + 8 + 1

const (
	offAdmin     = 8
	offHolding   = offAdmin + crypto.AddressLength
	offNameLen   = offHolding + crypto.AddressLength
	offName      = offNameLen + 4
	offRate      = offName + MaxNameLength
	offTotal     = offRate + 8
	offRemaining = offTotal + 8
	offBump      = offRemaining + 8
)

var recordDiscriminator = ethcrypto.Keccak256([]byte("account:EscrowRecord"))[:8]

// MarshalBinary encodes the record into its fixed on-ledger layout.
func (r *EscrowRecord) MarshalBinary() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, RecordSize)
	copy(buf, recordDiscriminator)
	copy(buf[offAdmin:], r.Admin[:])
	copy(buf[offHolding:], r.Holding[:])
	binary.LittleEndian.PutUint32(buf[offNameLen:], uint32(len(r.Name)))
	copy(buf[offName:offRate], r.Name)
	binary.LittleEndian.PutUint64(buf[offRate:], r.ExchangeRate)
	binary.LittleEndian.PutUint64(buf[offTotal:], r.TotalSupply)
	binary.LittleEndian.PutUint64(buf[offRemaining:], r.RemainingSupply)
	buf[offBump] = r.Bump
	return buf, nil
}

// UnmarshalBinary decodes a record, rejecting anything that is not a well
// formed escrow record.
func (r *EscrowRecord) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("tokensale: record too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], recordDiscriminator) {
		return fmt.Errorf("tokensale: not an escrow record")
	}
	nameLen := binary.LittleEndian.Uint32(data[offNameLen:])
	if nameLen > MaxNameLength {
		return fmt.Errorf("tokensale: record name length %d exceeds %d", nameLen, MaxNameLength)
	}
	var out EscrowRecord
	copy(out.Admin[:], data[offAdmin:offHolding])
	copy(out.Holding[:], data[offHolding:offNameLen])
	out.Name = string(data[offName : offName+int(nameLen)])
	out.ExchangeRate = binary.LittleEndian.Uint64(data[offRate:])
	out.TotalSupply = binary.LittleEndian.Uint64(data[offTotal:])
	out.RemainingSupply = binary.LittleEndian.Uint64(data[offRemaining:])
	out.Bump = data[offBump]
	if err := out.Validate(); err != nil {
		return fmt.Errorf("tokensale: corrupt record: %w", err)
	}
	out.Address = r.Address
	*r = out
	return nil
}
