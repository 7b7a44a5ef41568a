package api

import (
	"net/http"
	"strconv"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func (a *API) postBatch(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	var req SubmitBatchRequest
	if !a.bind(c, &req) {
		return
	}
	txs, err := parseTxs(req.Transactions)
	if err != nil {
		retBadReq(c, err)
		return
	}
	root, err := parseHash(req.NewStateRoot)
	if err != nil {
		retBadReq(c, err)
		return
	}
	a.mu.Lock()
	batch, err := a.rollup.SubmitBatch(from, txs, root)
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusCreated, "batch committed", NewBatch(batch))
}

func (a *API) postBatchPreview(c *gin.Context) {
	var req PreviewBatchRequest
	if !a.bind(c, &req) {
		return
	}
	txs, err := parseTxs(req.Transactions)
	if err != nil {
		retBadReq(c, err)
		return
	}
	a.mu.RLock()
	out, err := a.rollup.PreviewBatch(txs)
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "batch previewed", Preview{
		StateRoot: out.StateRoot.Hex(),
		TxRoot:    out.TxRoot.Hex(),
		TotalFees: out.TotalFees.Dec(),
	})
}

func (a *API) getBatch(c *gin.Context) {
	num, ok := parseBatchNum(c, c.Param("batchNum"))
	if !ok {
		return
	}
	a.mu.RLock()
	batch, err := a.rollup.Batch(num)
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "batch fetched", NewBatch(batch))
}

func (a *API) getBatchAccountProof(c *gin.Context) {
	num, ok := parseBatchNum(c, c.Param("batchNum"))
	if !ok {
		return
	}
	idx, ok := parseIdx(c)
	if !ok {
		return
	}
	// checkpoints are immutable once written
	acc, proof, root, err := a.rollup.ProofAt(num, idx)
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "proof fetched", NewAccountProof(acc, proof, root))
}

// getBatches lists the batches mirrored in the HistoryDB.  Query params:
// fromBatchNum (default 0) and limit (default and max historydb.MaxLimit).
func (a *API) getBatches(c *gin.Context) {
	if a.historyDB == nil {
		errorResponse(c, http.StatusNotImplemented, "batch listing requires the history database")
		return
	}
	from, ok := parseBatchNum(c, c.DefaultQuery("fromBatchNum", "0"))
	if !ok {
		return
	}
	limit, err := strconv.ParseUint(c.DefaultQuery("limit", "0"), 10, 32)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid limit")
		return
	}
	batches, err := a.historyDB.GetBatchesAPI(from, uint(limit))
	if err != nil {
		a.retError(c, err)
		return
	}
	res := Batches{Batches: make([]Batch, len(batches))}
	for i := range batches {
		res.Batches[i] = NewBatch(&batches[i])
	}
	successResponse(c, http.StatusOK, "batches fetched", res)
}

func (a *API) postPause(c *gin.Context) {
	a.admin(c, "rollup paused", a.rollup.Pause)
}

func (a *API) postUnpause(c *gin.Context) {
	a.admin(c, "rollup unpaused", a.rollup.Unpause)
}

func (a *API) postOwner(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	var req OwnerRequest
	if !a.bind(c, &req) {
		return
	}
	a.mu.Lock()
	err := a.rollup.TransferOwnership(from, ethCommon.HexToAddress(req.Owner))
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "ownership transferred")
}

func (a *API) admin(c *gin.Context, message string, op func(caller ethCommon.Address) error) {
	from, ok := caller(c)
	if !ok {
		return
	}
	a.mu.Lock()
	err := op(from)
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, message)
}
