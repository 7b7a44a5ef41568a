package common

import (
	"encoding/binary"
	"fmt"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	batchNumBytesLen = 4
	// batchBytesLen is BatchNum (4) | StateRoot (32) | TxRoot (32) |
	// Timestamp (8) | Verified (1) | TotalFees (32) | NumTxs (2)
	batchBytesLen = 4 + 32 + 32 + 8 + 1 + 32 + 2
)

// BatchNum identifies a batch.  The first committed batch is BatchNum 0.
type BatchNum uint32

// Bytes returns a byte array of length 4 representing the BatchNum
func (bn BatchNum) Bytes() []byte {
	var batchNumBytes [batchNumBytesLen]byte
	binary.BigEndian.PutUint32(batchNumBytes[:], uint32(bn))
	return batchNumBytes[:]
}

// BatchNumFromBytes returns BatchNum from a []byte
func BatchNumFromBytes(b []byte) (BatchNum, error) {
	if len(b) != batchNumBytesLen {
		return 0,
			Wrap(fmt.Errorf("can not parse BatchNumFromBytes, bytes len %d, expected %d",
				len(b), batchNumBytesLen))
	}
	batchNum := binary.BigEndian.Uint32(b[:batchNumBytesLen])
	return BatchNum(batchNum), nil
}

// Batch is the immutable record of a committed batch
type Batch struct {
	BatchNum  BatchNum       `meddler:"batch_num" json:"batchNum"`
	StateRoot ethCommon.Hash `meddler:"state_root" json:"stateRoot"`
	TxRoot    ethCommon.Hash `meddler:"tx_root" json:"txRoot"`
	Timestamp time.Time      `meddler:"timestamp,utctime" json:"timestamp"`
	// Verified is always true: the state transition is recomputed before
	// the batch is recorded, but no independent validity proof is checked
	Verified  bool        `meddler:"verified" json:"verified"`
	TotalFees uint256.Int `meddler:"total_fees,u256" json:"totalFees"`
	NumTxs    int         `meddler:"num_txs" json:"numTxs"`
}

// Bytes returns the fixed length byte representation of the Batch
func (b *Batch) Bytes() []byte {
	out := make([]byte, batchBytesLen)
	binary.BigEndian.PutUint32(out[0:4], uint32(b.BatchNum))
	copy(out[4:36], b.StateRoot[:])
	copy(out[36:68], b.TxRoot[:])
	binary.BigEndian.PutUint64(out[68:76], uint64(b.Timestamp.UnixNano()))
	if b.Verified {
		out[76] = 1
	}
	fees := b.TotalFees.Bytes32()
	copy(out[77:109], fees[:])
	binary.BigEndian.PutUint16(out[109:111], uint16(b.NumTxs))
	return out
}

// BatchFromBytes returns a Batch from its byte representation
func BatchFromBytes(b []byte) (*Batch, error) {
	if len(b) != batchBytesLen {
		return nil, Wrap(fmt.Errorf("can not parse Batch, bytes len %d, expected %d",
			len(b), batchBytesLen))
	}
	var batch Batch
	batch.BatchNum = BatchNum(binary.BigEndian.Uint32(b[0:4]))
	copy(batch.StateRoot[:], b[4:36])
	copy(batch.TxRoot[:], b[36:68])
	batch.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(b[68:76]))).UTC()
	batch.Verified = b[76] == 1
	batch.TotalFees.SetBytes32(b[77:109])
	batch.NumTxs = int(binary.BigEndian.Uint16(b[109:111]))
	return &batch, nil
}
