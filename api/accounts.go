package api

import (
	"net/http"

	"zkrollup/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func (a *API) postAccount(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	var req CreateAccountRequest
	if !a.bind(c, &req) {
		return
	}
	pubKeyHash, err := parseHash(req.PubKeyHash)
	if err != nil {
		retBadReq(c, err)
		return
	}
	a.mu.Lock()
	idx, err := a.rollup.CreateAccount(from, pubKeyHash)
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusCreated, "account created", AccountIndex{AccountIndex: uint64(idx)})
}

func (a *API) getAccount(c *gin.Context) {
	idx, ok := parseIdx(c)
	if !ok {
		return
	}
	a.mu.RLock()
	acc, err := a.rollup.Account(idx)
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "account fetched", NewAccount(acc))
}

func (a *API) getAccountProof(c *gin.Context) {
	idx, ok := parseIdx(c)
	if !ok {
		return
	}
	a.mu.RLock()
	acc, proof, root, err := a.rollup.Proof(idx)
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "proof fetched", NewAccountProof(acc, proof, root))
}

func (a *API) postDeposit(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	idx, ok := parseIdx(c)
	if !ok {
		return
	}
	var req DepositRequest
	if !a.bind(c, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		retBadReq(c, err)
		return
	}
	a.mu.Lock()
	acc, err := a.rollup.Deposit(from, idx, amount)
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "deposit accepted", NewAccount(acc))
}

func (a *API) postWithdrawal(c *gin.Context) {
	from, ok := caller(c)
	if !ok {
		return
	}
	idx, ok := parseIdx(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !a.bind(c, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		retBadReq(c, err)
		return
	}
	proof, err := parseHashes(req.Proof)
	if err != nil {
		retBadReq(c, err)
		return
	}
	a.mu.Lock()
	ins, err := a.rollup.Withdraw(c.Request.Context(), from, idx, amount, proof)
	a.mu.Unlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "withdrawal paid", NewPayout(ins))
}

func (a *API) getIdentity(c *gin.Context) {
	addr := c.Param("address")
	if !ethCommon.IsHexAddress(addr) {
		errorResponse(c, http.StatusBadRequest, "invalid address")
		return
	}
	a.mu.RLock()
	idx, err := a.rollup.AccountIdx(ethCommon.HexToAddress(addr))
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	if idx == common.NoAccount {
		errorResponse(c, http.StatusNotFound, "identity has no account")
		return
	}
	successResponse(c, http.StatusOK, "account index fetched", AccountIndex{AccountIndex: uint64(idx)})
}

func (a *API) getState(c *gin.Context) {
	a.mu.RLock()
	state, err := a.state()
	a.mu.RUnlock()
	if err != nil {
		a.retError(c, err)
		return
	}
	successResponse(c, http.StatusOK, "state fetched", state)
}

func (a *API) state() (*State, error) {
	root, err := a.rollup.CurrentStateRoot()
	if err != nil {
		return nil, err
	}
	current, err := a.rollup.CurrentBatch()
	if err != nil {
		return nil, err
	}
	total, err := a.rollup.TotalAccounts()
	if err != nil {
		return nil, err
	}
	fees, err := a.rollup.CollectedFees()
	if err != nil {
		return nil, err
	}
	paused, err := a.rollup.Paused()
	if err != nil {
		return nil, err
	}
	owner, err := a.rollup.Owner()
	if err != nil {
		return nil, err
	}
	return &State{
		StateRoot:     root.Hex(),
		CurrentBatch:  uint32(current),
		TotalAccounts: total,
		CollectedFees: fees.Dec(),
		Paused:        paused,
		Owner:         owner.Hex(),
	}, nil
}
