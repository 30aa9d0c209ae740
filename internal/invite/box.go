package invite

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Box storage cost: a flat open fee plus a per-byte charge on name and value.
const (
	boxFlatMBR    = 2500
	boxPerByteMBR = 400
)

// boxFixedLen is the byte length of the fixed portion of the box value:
// inviter(32) + amount(8) + asset(8) + created(8) + expires(8) +
// claimed(1) + reclaimed(1) + message_len(2).
const boxFixedLen = 68

// BoxMBR returns the minimum-balance increase for opening an invitation box
// with the given name and message lengths.
func BoxMBR(invitationIDLen, messageLen int) uint64 {
	valueLen := boxFixedLen + messageLen
	return boxFlatMBR + boxPerByteMBR*uint64(invitationIDLen+valueLen)
}

// Box is the decoded invitation box value.
type Box struct {
	Inviter     types.Address
	Amount      uint64
	AssetID     uint64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	IsClaimed   bool
	IsReclaimed bool
	Message     string
}

// DecodeBox parses the raw box value written by the invite application.
func DecodeBox(raw []byte) (Box, error) {
	if len(raw) < boxFixedLen-2 {
		return Box{}, fmt.Errorf("invitation box too short: %d bytes", len(raw))
	}

	var b Box
	copy(b.Inviter[:], raw[0:32])
	b.Amount = binary.BigEndian.Uint64(raw[32:40])
	b.AssetID = binary.BigEndian.Uint64(raw[40:48])
	b.CreatedAt = time.Unix(int64(binary.BigEndian.Uint64(raw[48:56])), 0).UTC()
	b.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(raw[56:64])), 0).UTC()
	b.IsClaimed = raw[64] != 0
	b.IsReclaimed = raw[65] != 0

	if len(raw) >= boxFixedLen {
		msgLen := int(binary.BigEndian.Uint16(raw[66:68]))
		if boxFixedLen+msgLen > len(raw) {
			return Box{}, fmt.Errorf("invitation box message length %d exceeds value", msgLen)
		}
		b.Message = string(raw[boxFixedLen : boxFixedLen+msgLen])
	}
	return b, nil
}
