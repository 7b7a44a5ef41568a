// Package client is a Go client of the HTTP API of the rollup node
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zkrollup/api"
	"zkrollup/common"

	"github.com/dghubble/sling"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	defaultMaxIdleConns    = 10
	defaultIdleConnTimeout = 2 * time.Second
)

// Error is returned when the node answers with a non 2xx status
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("node error %d: %s", e.StatusCode, e.Message)
}

type response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Client sends requests to a node on behalf of Caller
type Client struct {
	client *sling.Sling
	// Caller is sent in api.CallerHeader
	Caller ethCommon.Address
}

// NewClient returns a Client of the node at url
func NewClient(url string, caller ethCommon.Address) *Client {
	tr := &http.Transport{
		MaxIdleConns:    defaultMaxIdleConns,
		IdleConnTimeout: defaultIdleConnTimeout,
	}
	httpClient := &http.Client{Transport: tr}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return &Client{
		client: sling.New().Base(url).Client(httpClient),
		Caller: caller,
	}
}

func (c *Client) apiRequest(ctx context.Context, method, path string, body, ret interface{}) error {
	s := c.client.New().Set(api.CallerHeader, c.Caller.Hex())
	switch method {
	case http.MethodPost:
		s = s.Post(path)
		if body != nil {
			s = s.BodyJSON(body)
		}
	default:
		s = s.Get(path)
	}
	req, err := s.Request()
	if err != nil {
		return common.Wrap(err)
	}
	success := response{Data: ret}
	var failure Error
	res, err := c.client.Do(req.WithContext(ctx), &success, &failure)
	if err != nil {
		return common.Wrap(err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		failure.StatusCode = res.StatusCode
		return common.Wrap(&failure)
	}
	return nil
}

func accountPath(idx common.AccountIdx, suffix string) string {
	return "v1/accounts/" + strconv.FormatUint(uint64(idx), 10) + suffix
}

func batchPath(batchNum common.BatchNum) string {
	return "v1/batches/" + strconv.FormatUint(uint64(batchNum), 10)
}

// Health returns the version of the node
func (c *Client) Health(ctx context.Context) (string, error) {
	var ret struct {
		Version string `json:"version"`
	}
	if err := c.apiRequest(ctx, http.MethodGet, "v1/health", nil, &ret); err != nil {
		return "", err
	}
	return ret.Version, nil
}

// CreateAccount creates the account of the Caller
func (c *Client) CreateAccount(ctx context.Context, pubKeyHash ethCommon.Hash) (common.AccountIdx, error) {
	var ret api.AccountIndex
	err := c.apiRequest(ctx, http.MethodPost, "v1/accounts",
		api.CreateAccountRequest{PubKeyHash: pubKeyHash.Hex()}, &ret)
	return common.AccountIdx(ret.AccountIndex), err
}

// Deposit credits amount to idx
func (c *Client) Deposit(ctx context.Context, idx common.AccountIdx, amount *uint256.Int) (*api.Account, error) {
	var ret api.Account
	if err := c.apiRequest(ctx, http.MethodPost, accountPath(idx, "/deposits"),
		api.DepositRequest{Amount: amount.Dec()}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Withdraw withdraws amount from idx to the Caller
func (c *Client) Withdraw(ctx context.Context, idx common.AccountIdx, amount *uint256.Int,
	proof []string) (*api.Payout, error) {
	var ret api.Payout
	if err := c.apiRequest(ctx, http.MethodPost, accountPath(idx, "/withdrawals"),
		api.WithdrawRequest{Amount: amount.Dec(), Proof: proof}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Account returns the account idx
func (c *Client) Account(ctx context.Context, idx common.AccountIdx) (*api.Account, error) {
	var ret api.Account
	if err := c.apiRequest(ctx, http.MethodGet, accountPath(idx, ""), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Proof returns the account idx with its proof against the current state root
func (c *Client) Proof(ctx context.Context, idx common.AccountIdx) (*api.AccountProof, error) {
	var ret api.AccountProof
	if err := c.apiRequest(ctx, http.MethodGet, accountPath(idx, "/proof"), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// AccountIdx returns the account of identity
func (c *Client) AccountIdx(ctx context.Context, identity ethCommon.Address) (common.AccountIdx, error) {
	var ret api.AccountIndex
	err := c.apiRequest(ctx, http.MethodGet, "v1/identities/"+identity.Hex(), nil, &ret)
	return common.AccountIdx(ret.AccountIndex), err
}

// PreviewBatch returns the roots that SubmitBatch would commit for txs
func (c *Client) PreviewBatch(ctx context.Context, txs []common.Tx) (*api.Preview, error) {
	var ret api.Preview
	if err := c.apiRequest(ctx, http.MethodPost, "v1/batches/preview",
		api.PreviewBatchRequest{Transactions: toAPITxs(txs)}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// SubmitBatch submits txs as the next batch
func (c *Client) SubmitBatch(ctx context.Context, txs []common.Tx,
	newStateRoot ethCommon.Hash) (*api.Batch, error) {
	var ret api.Batch
	if err := c.apiRequest(ctx, http.MethodPost, "v1/batches", api.SubmitBatchRequest{
		Transactions: toAPITxs(txs),
		NewStateRoot: newStateRoot.Hex(),
	}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Batch returns the committed batch batchNum
func (c *Client) Batch(ctx context.Context, batchNum common.BatchNum) (*api.Batch, error) {
	var ret api.Batch
	if err := c.apiRequest(ctx, http.MethodGet, batchPath(batchNum), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Batches lists up to limit batches from fromBatchNum
func (c *Client) Batches(ctx context.Context, fromBatchNum common.BatchNum, limit uint) ([]api.Batch, error) {
	var ret api.Batches
	path := fmt.Sprintf("v1/batches?fromBatchNum=%d&limit=%d", fromBatchNum, limit)
	if err := c.apiRequest(ctx, http.MethodGet, path, nil, &ret); err != nil {
		return nil, err
	}
	return ret.Batches, nil
}

// ProofAt returns the account idx with its proof against the state root of
// batchNum
func (c *Client) ProofAt(ctx context.Context, batchNum common.BatchNum,
	idx common.AccountIdx) (*api.AccountProof, error) {
	var ret api.AccountProof
	path := batchPath(batchNum) + "/" + accountPath(idx, "/proof")[3:]
	if err := c.apiRequest(ctx, http.MethodGet, path, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// State returns the global state of the rollup
func (c *Client) State(ctx context.Context) (*api.State, error) {
	var ret api.State
	if err := c.apiRequest(ctx, http.MethodGet, "v1/state", nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Pause pauses the rollup
func (c *Client) Pause(ctx context.Context) error {
	return c.apiRequest(ctx, http.MethodPost, "v1/admin/pause", nil, nil)
}

// Unpause unpauses the rollup
func (c *Client) Unpause(ctx context.Context) error {
	return c.apiRequest(ctx, http.MethodPost, "v1/admin/unpause", nil, nil)
}

// TransferOwnership sets newOwner as the owner of the rollup
func (c *Client) TransferOwnership(ctx context.Context, newOwner ethCommon.Address) error {
	return c.apiRequest(ctx, http.MethodPost, "v1/admin/owner",
		api.OwnerRequest{Owner: strings.ToLower(newOwner.Hex())}, nil)
}

func toAPITxs(txs []common.Tx) []api.Tx {
	out := make([]api.Tx, len(txs))
	for i := range txs {
		out[i] = api.NewTx(&txs[i])
	}
	return out
}
