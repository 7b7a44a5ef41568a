package historydb

import (
	"os"
	"testing"
	"time"

	"zkrollup/common"
	"zkrollup/database"
	"zkrollup/log"
	"zkrollup/test"
	"zkrollup/withdrawal"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var historyDB *HistoryDB

func init() {
	log.Init("debug", []string{"stdout"})
}

// In order to run the test, put the password of the zkrollup user in the
// ZKROLLUP_TEST_POSTGRES environment variable
func TestMain(m *testing.M) {
	db, err := database.InitTestSQLDB()
	if common.Unwrap(err) == database.ErrNoTestSQLDB {
		log.Info("skipping historydb tests: ", err)
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	apiConnCon := database.NewAPIConnectionController(1, time.Second)
	historyDB = NewHistoryDB(db, db, apiConnCon)
	result := m.Run()
	if err := db.Close(); err != nil {
		log.Error(err)
	}
	os.Exit(result)
}

func genBatches(n int) []common.Batch {
	batches := make([]common.Batch, n)
	for i := range batches {
		batches[i] = common.Batch{
			BatchNum:  common.BatchNum(i),
			StateRoot: ethCommon.BigToHash(uint256.NewInt(uint64(100 + i)).ToBig()),
			TxRoot:    ethCommon.BigToHash(uint256.NewInt(uint64(200 + i)).ToBig()),
			Timestamp: time.Unix(int64(1700000000+i), 0).UTC(),
			Verified:  true,
			NumTxs:    i + 1,
		}
		batches[i].TotalFees.SetUint64(uint64(i) * 1e16)
	}
	return batches
}

func TestBatches(t *testing.T) {
	test.WipeDB(historyDB.DB())
	batches := genBatches(10)
	require.NoError(t, historyDB.AddBatches(batches[:9]))
	require.NoError(t, historyDB.AddBatch(&batches[9]))

	batch, err := historyDB.GetBatch(3)
	require.NoError(t, err)
	assert.Equal(t, batches[3], *batch)

	last, err := historyDB.GetLastBatch()
	require.NoError(t, err)
	assert.Equal(t, batches[9], *last)

	page, err := historyDB.GetBatchesAPI(4, 3)
	require.NoError(t, err)
	assert.Equal(t, batches[4:7], page)

	page, err = historyDB.GetBatchesAPI(8, 0)
	require.NoError(t, err)
	assert.Equal(t, batches[8:], page)

	// Duplicate batch num
	assert.Error(t, historyDB.AddBatch(&batches[0]))
}

func TestPayouts(t *testing.T) {
	test.WipeDB(historyDB.DB())
	users := test.GenUsers("A", "B")
	historyDB.now = func() time.Time { return time.Unix(1700000000, 0) }
	defer func() { historyDB.now = time.Now }()

	ins := []withdrawal.Instruction{
		{Idx: 1, To: users["A"].Addr, Amount: test.Ether(1), StateRoot: ethCommon.Hash{1}},
		{Idx: 2, To: users["B"].Addr, Amount: test.Ether(2), StateRoot: ethCommon.Hash{2}},
		{Idx: 1, To: users["A"].Addr, Amount: test.Ether(3), StateRoot: ethCommon.Hash{3}},
	}
	for i := range ins {
		require.NoError(t, historyDB.AddPayout(&ins[i]))
	}

	payouts, err := historyDB.GetPayouts(1)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	for i, p := range payouts {
		want := ins[i*2]
		assert.Equal(t, want.Idx, p.Idx)
		assert.Equal(t, want.To, p.To)
		assert.Equal(t, want.Amount.Dec(), p.Amount.Dec())
		assert.Equal(t, want.StateRoot, p.StateRoot)
		assert.Equal(t, int64(1700000000), p.Timestamp.Unix())
	}

	payouts, err = historyDB.GetPayouts(3)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}
