package rollup

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"zkrollup/common"
	"zkrollup/database/statedb"
	"zkrollup/log"
	"zkrollup/signer"
	"zkrollup/test"
	"zkrollup/withdrawal"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deleteme []string

func init() {
	log.Init("debug", []string{"stdout"})
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

type payout struct {
	to     ethCommon.Address
	amount *uint256.Int
}

type mockTransferer struct {
	payouts []payout
	// hook runs before the payout is recorded; a non nil error fails the
	// transfer
	hook func() error
}

func (m *mockTransferer) Transfer(ctx context.Context, to ethCommon.Address, amount *uint256.Int) error {
	if m.hook != nil {
		if err := m.hook(); err != nil {
			return err
		}
	}
	m.payouts = append(m.payouts, payout{to: to, amount: new(uint256.Int).Set(amount)})
	return nil
}

type mockHistory struct {
	batches []*common.Batch
	payouts []*withdrawal.Instruction
}

func (m *mockHistory) AddBatch(batch *common.Batch) error {
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockHistory) AddPayout(payout *withdrawal.Instruction) error {
	m.payouts = append(m.payouts, payout)
	return nil
}

type fixture struct {
	c          *Controller
	sdb        *statedb.StateDB
	transferer *mockTransferer
	history    *mockHistory
	users      map[string]*test.User
}

func newFixture(t *testing.T) *fixture {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)

	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, Keep: 16, NLevels: 16})
	require.NoError(t, err)
	f := &fixture{
		sdb:        sdb,
		transferer: &mockTransferer{},
		history:    &mockHistory{},
		users:      test.GenUsers("A", "B"),
	}
	f.c, err = NewController(Config{
		Owner: owner.Addr,
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	}, sdb, signer.ECDSAVerifier{}, f.transferer, f.history)
	require.NoError(t, err)
	return f
}

func (f *fixture) createAccounts(t *testing.T) {
	for _, name := range []string{"A", "B"} {
		u := f.users[name]
		idx, err := f.c.CreateAccount(u.Addr, u.PubKeyHash(signer.SchemeECDSA))
		require.NoError(t, err)
		u.Idx = idx
	}
}

func (f *fixture) submit(t *testing.T, txs []common.Tx) (*common.Batch, error) {
	preview, err := f.c.PreviewBatch(txs)
	if err != nil {
		return nil, err
	}
	return f.c.SubmitBatch(owner.Addr, txs, preview.StateRoot)
}

func (f *fixture) withdraw(t *testing.T, name string, amount *uint256.Int) (*withdrawal.Instruction, error) {
	u := f.users[name]
	_, proof, _, err := f.c.Proof(u.Idx)
	require.NoError(t, err)
	return f.c.Withdraw(context.Background(), u.Addr, u.Idx, amount, proof)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	a, b := f.users["A"], f.users["B"]

	idx, err := f.c.CreateAccount(a.Addr, a.PubKeyHash(signer.SchemeECDSA))
	require.NoError(t, err)
	a.Idx = idx
	_, err = f.c.Deposit(a.Addr, a.Idx, test.Ether(2))
	require.NoError(t, err)
	idx, err = f.c.CreateAccount(b.Addr, b.PubKeyHash(signer.SchemeECDSA))
	require.NoError(t, err)
	b.Idx = idx

	fee := new(uint256.Int).Div(test.Ether(1), uint256.NewInt(100))
	batch, err := f.submit(t, []common.Tx{a.Transfer(b, test.Ether(1), fee, 0)})
	require.NoError(t, err)

	accA, err := f.c.Account(a.Idx)
	require.NoError(t, err)
	expectedA := new(uint256.Int).Sub(test.Ether(2), test.Ether(1))
	expectedA.Sub(expectedA, fee)
	assert.Equal(t, expectedA, &accA.Balance)
	accB, err := f.c.Account(b.Idx)
	require.NoError(t, err)
	assert.Equal(t, test.Ether(1), &accB.Balance)
	assert.Equal(t, fee, &batch.TotalFees)

	stored, err := f.c.Batch(0)
	require.NoError(t, err)
	assert.Equal(t, batch, stored)
	assert.True(t, stored.Verified)
	root, err := f.c.CurrentStateRoot()
	require.NoError(t, err)
	assert.Equal(t, batch.StateRoot, root)
	current, err := f.c.CurrentBatch()
	require.NoError(t, err)
	assert.Equal(t, common.BatchNum(1), current)
	total, err := f.c.TotalAccounts()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)
	require.Len(t, f.history.batches, 1)

	// the state of the batch can be proven from its checkpoint
	accAt, proof, rootAt, err := f.c.ProofAt(0, a.Idx)
	require.NoError(t, err)
	assert.Equal(t, batch.StateRoot, rootAt)
	assert.True(t, f.sdb.Tree().VerifyAccount(proof, rootAt, a.Idx, accAt))

	// B withdraws what it received
	ins, err := f.withdraw(t, "B", test.Ether(1))
	require.NoError(t, err)
	assert.Equal(t, b.Addr, ins.To)
	require.Len(t, f.transferer.payouts, 1)
	assert.Equal(t, b.Addr, f.transferer.payouts[0].to)
	assert.Equal(t, test.Ether(1), f.transferer.payouts[0].amount)
	require.Len(t, f.history.payouts, 1)
	accB, err = f.c.Account(b.Idx)
	require.NoError(t, err)
	assert.True(t, accB.Balance.IsZero())

	// historic account is unchanged
	accAt, err = f.c.AccountAt(0, b.Idx)
	require.NoError(t, err)
	assert.Equal(t, test.Ether(1), &accAt.Balance)
}

func TestCreateAccountAndDeposit(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a := f.users["A"]

	_, err := f.c.CreateAccount(a.Addr, ethCommon.Hash{})
	assert.Equal(t, common.ErrAccountExists, common.Unwrap(err))

	idx, err := f.c.AccountIdx(a.Addr)
	require.NoError(t, err)
	assert.Equal(t, a.Idx, idx)
	idx, err = f.c.AccountIdx(owner.Addr)
	require.NoError(t, err)
	assert.Equal(t, common.NoAccount, idx)

	rootBefore, err := f.c.CurrentStateRoot()
	require.NoError(t, err)
	account, err := f.c.Deposit(owner.Addr, a.Idx, uint256.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), account.Balance.Uint64())
	account, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(250))
	require.NoError(t, err)
	assert.Equal(t, uint64(750), account.Balance.Uint64())
	rootAfter, err := f.c.CurrentStateRoot()
	require.NoError(t, err)
	assert.NotEqual(t, rootBefore, rootAfter)

	_, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(0))
	assert.Equal(t, common.ErrInvalidAmount, common.Unwrap(err))
	_, err = f.c.Deposit(a.Addr, a.Idx, new(uint256.Int).AddUint64(common.MaxAmount, 1))
	assert.Equal(t, common.ErrInvalidAmount, common.Unwrap(err))
	_, err = f.c.Deposit(a.Addr, 0, uint256.NewInt(1))
	assert.Equal(t, common.ErrInvalidAccount, common.Unwrap(err))
	_, err = f.c.Deposit(a.Addr, 3, uint256.NewInt(1))
	assert.Equal(t, common.ErrInvalidAccount, common.Unwrap(err))

	account, err = f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), account.Balance.Uint64())
}

func TestSubmitBatch(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a, b := f.users["A"], f.users["B"]
	_, err := f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1000))
	require.NoError(t, err)

	var txs []common.Tx
	for i := 0; i < common.BatchSize+1; i++ {
		txs = append(txs, a.Transfer(b, uint256.NewInt(1), uint256.NewInt(1), uint64(i)))
	}

	_, err = f.c.SubmitBatch(owner.Addr, txs, ethCommon.Hash{})
	assert.Equal(t, common.ErrBatchTooLarge, common.Unwrap(err))
	_, err = f.c.SubmitBatch(owner.Addr, nil, ethCommon.Hash{})
	assert.Equal(t, common.ErrEmptyBatch, common.Unwrap(err))

	txs = txs[:common.BatchSize]
	preview, err := f.c.PreviewBatch(txs)
	require.NoError(t, err)

	// only the owner submits batches
	_, err = f.c.SubmitBatch(a.Addr, txs, preview.StateRoot)
	assert.Equal(t, common.ErrNotOwner, common.Unwrap(err))
	// the declared root must be the computed one
	_, err = f.c.SubmitBatch(owner.Addr, txs, ethCommon.Hash{1})
	assert.Equal(t, common.ErrStateRootMismatch, common.Unwrap(err))

	batch, err := f.c.SubmitBatch(owner.Addr, txs, preview.StateRoot)
	require.NoError(t, err)
	assert.Equal(t, preview.StateRoot, batch.StateRoot)
	assert.Equal(t, preview.TxRoot, batch.TxRoot)
	assert.Equal(t, uint64(common.BatchSize), batch.TotalFees.Uint64())
	fees, err := f.c.CollectedFees()
	require.NoError(t, err)
	assert.Equal(t, uint64(common.BatchSize), fees.Uint64())

	// the same txs can not be replayed
	_, err = f.c.SubmitBatch(owner.Addr, txs[:1], batch.StateRoot)
	assert.Equal(t, common.ErrInvalidNonce, common.Unwrap(err))
}

func TestWithdrawRejections(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a, b := f.users["A"], f.users["B"]
	_, err := f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1000))
	require.NoError(t, err)

	_, proof, _, err := f.c.Proof(a.Idx)
	require.NoError(t, err)
	for i := range proof {
		tampered := append([]ethCommon.Hash(nil), proof...)
		tampered[i][0] ^= 0x80
		_, err = f.c.Withdraw(context.Background(), a.Addr, a.Idx, uint256.NewInt(1), tampered)
		assert.Equal(t, common.ErrInvalidProof, common.Unwrap(err))
	}

	_, err = f.c.Withdraw(context.Background(), b.Addr, a.Idx, uint256.NewInt(1), proof)
	assert.Equal(t, common.ErrNotAccountOwner, common.Unwrap(err))

	_, err = f.withdraw(t, "A", uint256.NewInt(1001))
	assert.Equal(t, common.ErrInsufficientBalance, common.Unwrap(err))

	assert.Empty(t, f.transferer.payouts)
	account, err := f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), account.Balance.Uint64())
}

func TestWithdrawFailedTransfer(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a := f.users["A"]
	_, err := f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1000))
	require.NoError(t, err)
	rootBefore, err := f.c.CurrentStateRoot()
	require.NoError(t, err)

	errTransfer := errors.New("transfer failed")
	f.transferer.hook = func() error { return errTransfer }
	_, err = f.withdraw(t, "A", uint256.NewInt(400))
	assert.Equal(t, errTransfer, err)

	// nothing changed
	account, err := f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), account.Balance.Uint64())
	assert.True(t, account.Nonce.IsZero())
	root, err := f.c.CurrentStateRoot()
	require.NoError(t, err)
	assert.Equal(t, rootBefore, root)
	assert.Empty(t, f.history.payouts)

	// the same withdrawal succeeds once the transfer works
	f.transferer.hook = nil
	_, err = f.withdraw(t, "A", uint256.NewInt(400))
	require.NoError(t, err)
	account, err = f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), account.Balance.Uint64())
	assert.Equal(t, uint64(1), account.Nonce.Uint64())
}

func TestWithdrawCommitFailure(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a := f.users["A"]
	_, err := f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1000))
	require.NoError(t, err)

	errCommit := errors.New("commit failed")
	f.c.commit = func(txn *statedb.Txn) error { return errCommit }
	_, err = f.withdraw(t, "A", uint256.NewInt(400))
	assert.Equal(t, errCommit, err)

	// the value was paid but the ledger was not debited
	require.Len(t, f.transferer.payouts, 1)
	assert.Equal(t, a.Addr, f.transferer.payouts[0].to)
	account, err := f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), account.Balance.Uint64())
	assert.Empty(t, f.history.payouts)

	f.c.commit = (*statedb.Txn).Commit
	_, err = f.withdraw(t, "A", uint256.NewInt(400))
	require.NoError(t, err)
	assert.Len(t, f.history.payouts, 1)
}

func TestWithdrawReentrancy(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a := f.users["A"]
	_, err := f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1000))
	require.NoError(t, err)

	_, proof, _, err := f.c.Proof(a.Idx)
	require.NoError(t, err)

	// the payout tries to withdraw again, and to deposit
	var nestedErrs []error
	f.transferer.hook = func() error {
		_, err := f.c.Withdraw(context.Background(), a.Addr, a.Idx, uint256.NewInt(400), proof)
		nestedErrs = append(nestedErrs, err)
		_, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1))
		nestedErrs = append(nestedErrs, err)
		return nil
	}
	_, err = f.c.Withdraw(context.Background(), a.Addr, a.Idx, uint256.NewInt(400), proof)
	require.NoError(t, err)

	require.Len(t, nestedErrs, 2)
	for _, err := range nestedErrs {
		assert.Equal(t, common.ErrReentrantCall, common.Unwrap(err))
	}
	require.Len(t, f.transferer.payouts, 1)
	account, err := f.c.Account(a.Idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), account.Balance.Uint64())

	// the guard is released after the call
	_, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1))
	require.NoError(t, err)
}

func TestPauseAndOwnership(t *testing.T) {
	f := newFixture(t)
	defer f.sdb.Close()
	f.createAccounts(t)
	a := f.users["A"]

	assert.Equal(t, common.ErrNotOwner, common.Unwrap(f.c.Pause(a.Addr)))
	assert.Equal(t, common.ErrNotPaused, common.Unwrap(f.c.Unpause(owner.Addr)))

	require.NoError(t, f.c.Pause(owner.Addr))
	paused, err := f.c.Paused()
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, common.ErrContractPaused, common.Unwrap(f.c.Pause(owner.Addr)))

	_, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1))
	assert.Equal(t, common.ErrContractPaused, common.Unwrap(err))
	_, err = f.c.CreateAccount(owner.Addr, ethCommon.Hash{})
	assert.Equal(t, common.ErrContractPaused, common.Unwrap(err))
	_, err = f.withdraw(t, "A", uint256.NewInt(1))
	assert.Equal(t, common.ErrContractPaused, common.Unwrap(err))
	_, err = f.c.SubmitBatch(owner.Addr, []common.Tx{{}}, ethCommon.Hash{})
	assert.Equal(t, common.ErrContractPaused, common.Unwrap(err))

	require.NoError(t, f.c.Unpause(owner.Addr))
	_, err = f.c.Deposit(a.Addr, a.Idx, uint256.NewInt(1))
	require.NoError(t, err)

	err = f.c.TransferOwnership(owner.Addr, ethCommon.Address{})
	assert.Equal(t, common.ErrZeroAddress, common.Unwrap(err))
	err = f.c.TransferOwnership(a.Addr, a.Addr)
	assert.Equal(t, common.ErrNotOwner, common.Unwrap(err))
	require.NoError(t, f.c.TransferOwnership(owner.Addr, a.Addr))
	current, err := f.c.Owner()
	require.NoError(t, err)
	assert.Equal(t, a.Addr, current)
	assert.Equal(t, common.ErrNotOwner, common.Unwrap(f.c.Pause(owner.Addr)))
	require.NoError(t, f.c.Pause(a.Addr))
}

func TestNewControllerRequiresOwner(t *testing.T) {
	dir, err := os.MkdirTemp("", "tmpdb")
	require.NoError(t, err)
	deleteme = append(deleteme, dir)
	sdb, err := statedb.NewStateDB(statedb.Config{Path: dir, NLevels: 8})
	require.NoError(t, err)
	defer sdb.Close()

	_, err = NewController(Config{}, sdb, signer.ECDSAVerifier{}, &mockTransferer{}, nil)
	assert.Equal(t, common.ErrZeroAddress, common.Unwrap(err))

	// an existing owner is kept
	_, err = NewController(Config{Owner: owner.Addr}, sdb, signer.ECDSAVerifier{},
		&mockTransferer{}, nil)
	require.NoError(t, err)
	c, err := NewController(Config{Owner: ethCommon.Address{1}}, sdb, signer.ECDSAVerifier{},
		&mockTransferer{}, nil)
	require.NoError(t, err)
	current, err := c.Owner()
	require.NoError(t, err)
	assert.Equal(t, owner.Addr, current)
}
