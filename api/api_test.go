package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"zkrollup/common"
	"zkrollup/database/statedb"
	"zkrollup/log"
	"zkrollup/rollup"
	"zkrollup/signer"
	"zkrollup/test"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	exitVal := m.Run()
	for _, dir := range deleteme {
		if err := os.RemoveAll(dir); err != nil {
			panic(err)
		}
	}
	os.Exit(exitVal)
}

var owner = test.NewUser("owner")

type nopTransferer struct{}

func (nopTransferer) Transfer(ctx context.Context, to ethCommon.Address, amount *uint256.Int) error {
	return nil
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	server *gin.Engine
	sdb    *statedb.StateDB
	users  map[string]*test.User
}

func newFixture(t *testing.T) *fixture {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 16, NLevels: 16})
	require.NoError(t, err)
	controller, err := rollup.NewController(rollup.Config{
		Owner: owner.Addr,
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}, sdb, signer.ECDSAVerifier{}, nopTransferer{}, nil)
	require.NoError(t, err)
	server := gin.New()
	_, err = NewAPI(Config{Version: "test", Server: server, Rollup: controller})
	require.NoError(t, err)
	return &fixture{server: server, sdb: sdb, users: test.GenUsers("A", "B")}
}

// do sends the request and decodes the data of the response into out if
// out is not nil
func (f *fixture) do(t *testing.T, method, path string, from *test.User, body, out interface{}) (int, string) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if from != nil {
		req.Header.Set(CallerHeader, from.Addr.Hex())
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil && w.Code < 300 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return w.Code, env.Message
}

func (f *fixture) createAccounts(t *testing.T) {
	for _, name := range []string{"A", "B"} {
		u := f.users[name]
		var res AccountIndex
		status, _ := f.do(t, http.MethodPost, "/v1/accounts", u,
			CreateAccountRequest{PubKeyHash: u.PubKeyHash(signer.SchemeECDSA).Hex()}, &res)
		require.Equal(t, http.StatusCreated, status)
		u.Idx = common.AccountIdx(res.AccountIndex)
	}
}

func accountPath(idx common.AccountIdx, suffix string) string {
	return "/v1/accounts/" + strconv.FormatUint(uint64(idx), 10) + suffix
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a, b := f.users["A"], f.users["B"]

	var idx AccountIndex
	status, _ := f.do(t, http.MethodGet, "/v1/identities/"+b.Addr.Hex(), nil, nil, &idx)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(b.Idx), idx.AccountIndex)

	var acc Account
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), a,
		DepositRequest{Amount: test.Ether(2).Dec()}, &acc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2000000000000000000", acc.Balance)

	fee := new(uint256.Int).Div(test.Ether(1), uint256.NewInt(100))
	tx := a.Transfer(b, test.Ether(1), fee, 0)
	txs := []Tx{NewTx(&tx)}

	var preview Preview
	status, _ = f.do(t, http.MethodPost, "/v1/batches/preview", nil,
		PreviewBatchRequest{Transactions: txs}, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10000000000000000", preview.TotalFees)

	var batch Batch
	status, _ = f.do(t, http.MethodPost, "/v1/batches", owner,
		SubmitBatchRequest{Transactions: txs, NewStateRoot: preview.StateRoot}, &batch)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, uint32(0), batch.BatchNum)
	assert.Equal(t, preview.StateRoot, batch.StateRoot)
	assert.Equal(t, preview.TxRoot, batch.TxRoot)
	assert.True(t, batch.Verified)
	assert.Equal(t, 1, batch.NumTxs)

	var stored Batch
	status, _ = f.do(t, http.MethodGet, "/v1/batches/0", nil, nil, &stored)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, batch, stored)

	status, _ = f.do(t, http.MethodGet, accountPath(a.Idx, ""), nil, nil, &acc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "990000000000000000", acc.Balance)
	assert.Equal(t, "1", acc.Nonce)

	var proof AccountProof
	status, _ = f.do(t, http.MethodGet, accountPath(b.Idx, "/proof"), nil, nil, &proof)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, batch.StateRoot, proof.StateRoot)
	assert.Len(t, proof.Proof, 16)
	assert.Equal(t, "1000000000000000000", proof.Account.Balance)

	var payout Payout
	status, _ = f.do(t, http.MethodPost, accountPath(b.Idx, "/withdrawals"), b,
		WithdrawRequest{Amount: test.Ether(1).Dec(), Proof: proof.Proof}, &payout)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, b.Addr.Hex(), payout.To)
	assert.Equal(t, "1000000000000000000", payout.Amount)

	// the checkpoint of batch 0 still holds the balance before withdrawing
	var proofAt AccountProof
	status, _ = f.do(t, http.MethodGet, "/v1/batches/0"+accountPath(b.Idx, "/proof")[3:], nil, nil, &proofAt)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, proof, proofAt)

	var state State
	status, _ = f.do(t, http.MethodGet, "/v1/state", nil, nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint32(1), state.CurrentBatch)
	assert.Equal(t, uint64(2), state.TotalAccounts)
	assert.Equal(t, "10000000000000000", state.CollectedFees)
	assert.Equal(t, payout.StateRoot, state.StateRoot)
	assert.Equal(t, owner.Addr.Hex(), state.Owner)
	assert.False(t, state.Paused)
}

func TestErrors(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a, b := f.users["A"], f.users["B"]
	deposit := DepositRequest{Amount: "1000"}

	status, msg := f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), nil, deposit, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, msg, CallerHeader)

	status, _ = f.do(t, http.MethodPost, accountPath(99, "/deposits"), a, deposit, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), a,
		DepositRequest{Amount: "-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), a,
		DepositRequest{Amount: "0"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/v1/accounts", a,
		CreateAccountRequest{PubKeyHash: a.PubKeyHash(signer.SchemeECDSA).Hex()}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/v1/accounts", a,
		CreateAccountRequest{PubKeyHash: "0x1234"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/v1/identities/"+owner.Addr.Hex(), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodGet, "/v1/batches/0", nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodGet, "/v1/batches/0"+accountPath(a.Idx, "/proof")[3:], nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// batches
	tx := a.Transfer(b, uint256.NewInt(1), uint256.NewInt(0), 0)
	root := ethCommon.Hash{1}.Hex()
	status, _ = f.do(t, http.MethodPost, "/v1/batches", a,
		SubmitBatchRequest{Transactions: []Tx{NewTx(&tx)}, NewStateRoot: root}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, "/v1/batches", owner,
		SubmitBatchRequest{Transactions: []Tx{}, NewStateRoot: root}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/v1/batches", owner,
		SubmitBatchRequest{Transactions: []Tx{NewTx(&tx)}, NewStateRoot: root}, nil)
	assert.Equal(t, http.StatusBadRequest, status) // A has no balance

	status, _ = f.do(t, http.MethodPost, "/v1/batches/preview", nil,
		PreviewBatchRequest{Transactions: []Tx{{Amount: "1", Fee: "0", Nonce: "0", Signature: "zz"}}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// withdrawals
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/withdrawals"), b,
		WithdrawRequest{Amount: "1", Proof: []string{}}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), a, deposit, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/withdrawals"), a,
		WithdrawRequest{Amount: "1", Proof: []string{ethCommon.Hash{}.Hex()}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/withdrawals"), a,
		WithdrawRequest{Amount: "1", Proof: []string{"0x00"}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// lifecycle
	status, _ = f.do(t, http.MethodPost, "/v1/admin/pause", a, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/unpause", owner, nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/pause", owner, nil, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, accountPath(a.Idx, "/deposits"), a, deposit, nil)
	assert.Equal(t, http.StatusLocked, status)
	var state State
	status, _ = f.do(t, http.MethodGet, "/v1/state", nil, nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, state.Paused)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/unpause", owner, nil, nil)
	require.Equal(t, http.StatusOK, status)

	// ownership
	status, _ = f.do(t, http.MethodPost, "/v1/admin/owner", owner,
		OwnerRequest{Owner: "not an address"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/owner", owner,
		OwnerRequest{Owner: strings.ToLower(b.Addr.Hex())}, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/pause", owner, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, "/v1/admin/pause", b, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	// routes
	status, _ = f.do(t, http.MethodGet, "/v1/batches", nil, nil, nil)
	assert.Equal(t, http.StatusNotImplemented, status)
	status, _ = f.do(t, http.MethodGet, "/v1/nothing", nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/v1/accounts/x", nil, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, errorStatus(common.Wrap(common.ErrNotAccountOwner)))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(common.Wrap(common.ErrStateRootMismatch)))
	assert.Equal(t, http.StatusLocked, errorStatus(common.Wrap(common.ErrContractPaused)))
	assert.Equal(t, http.StatusConflict, errorStatus(common.Wrap(common.ErrReentrantCall)))
	assert.Equal(t, http.StatusBadRequest, errorStatus(common.Wrap(common.ErrBatchTooLarge)))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(common.Wrap(os.ErrClosed)))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()

	var health map[string]string
	status, _ := f.do(t, http.MethodGet, "/v1/health", nil, nil, &health)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", health["version"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests")
}
