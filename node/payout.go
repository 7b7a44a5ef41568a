package node

import (
	"context"

	"zkrollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PayoutLogger is the rollup.Transferer of a node without a settlement
// layer: every accepted withdrawal is logged for the operator to settle
type PayoutLogger struct{}

// Transfer logs the payout
func (PayoutLogger) Transfer(ctx context.Context, to ethCommon.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Infow("payout", "to", to.Hex(), "amount", amount.Dec())
	return nil
}
