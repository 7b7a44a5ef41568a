package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"zkrollup/api"
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

func init() {
	log.Init("debug", []string{"stdout"})
	gin.SetMode(gin.TestMode)
}

type nopTransferer struct{}

func (nopTransferer) Transfer(ctx context.Context, to ethCommon.Address, amount *uint256.Int) error {
	return nil
}

func newNode(t *testing.T, owner ethCommon.Address) *httptest.Server {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 16, NLevels: 16})
	require.NoError(t, err)
	controller, err := rollup.NewController(rollup.Config{
		Owner: owner,
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}, sdb, signer.ECDSAVerifier{}, nopTransferer{}, nil)
	require.NoError(t, err)
	server := gin.New()
	_, err = api.NewAPI(api.Config{Version: "v0.1.0", Server: server, Rollup: controller})
	require.NoError(t, err)
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		sdb.Close()
		require.NoError(t, os.RemoveAll(dir))
	})
	return ts
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	users := test.GenUsers("owner", "A", "B")
	owner, a, b := users["owner"], users["A"], users["B"]
	ts := newNode(t, owner.Addr)
	clients := map[string]*Client{}
	for name, u := range users {
		clients[name] = NewClient(ts.URL, u.Addr)
	}

	version, err := clients["A"].Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0", version)

	for _, name := range []string{"A", "B"} {
		u := users[name]
		u.Idx, err = clients[name].CreateAccount(ctx, u.PubKeyHash(signer.SchemeECDSA))
		require.NoError(t, err)
	}
	idx, err := clients["owner"].AccountIdx(ctx, b.Addr)
	require.NoError(t, err)
	assert.Equal(t, b.Idx, idx)

	acc, err := clients["A"].Deposit(ctx, a.Idx, test.Ether(3))
	require.NoError(t, err)
	assert.Equal(t, test.Ether(3).Dec(), acc.Balance)

	txs := []common.Tx{a.Transfer(b, test.Ether(1), uint256.NewInt(0), 0)}
	preview, err := clients["owner"].PreviewBatch(ctx, txs)
	require.NoError(t, err)
	root := ethCommon.HexToHash(preview.StateRoot)

	_, err = clients["A"].SubmitBatch(ctx, txs, root)
	require.Error(t, err)
	nodeErr, ok := common.Unwrap(err).(*Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, nodeErr.StatusCode)
	assert.NotEmpty(t, nodeErr.Message)

	batch, err := clients["owner"].SubmitBatch(ctx, txs, root)
	require.NoError(t, err)
	assert.Equal(t, preview.StateRoot, batch.StateRoot)
	stored, err := clients["B"].Batch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, batch, stored)

	proof, err := clients["B"].Proof(ctx, b.Idx)
	require.NoError(t, err)
	proofAt, err := clients["B"].ProofAt(ctx, 0, b.Idx)
	require.NoError(t, err)
	assert.Equal(t, proof, proofAt)

	payout, err := clients["B"].Withdraw(ctx, b.Idx, test.Ether(1), proof.Proof)
	require.NoError(t, err)
	assert.Equal(t, b.Addr.Hex(), payout.To)
	acc, err = clients["B"].Account(ctx, b.Idx)
	require.NoError(t, err)
	assert.Equal(t, "0", acc.Balance)
	assert.Equal(t, "1", acc.Nonce)

	_, err = clients["B"].Batches(ctx, 0, 10)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotImplemented, common.Unwrap(err).(*Error).StatusCode)

	require.NoError(t, clients["owner"].Pause(ctx))
	state, err := clients["A"].State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.Equal(t, uint32(1), state.CurrentBatch)
	require.NoError(t, clients["owner"].Unpause(ctx))
	require.NoError(t, clients["owner"].TransferOwnership(ctx, a.Addr))
	state, err = clients["A"].State(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.Addr.Hex(), state.Owner)
	assert.False(t, state.Paused)
}
