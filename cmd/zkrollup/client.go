package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"zkrollup/api"
	"zkrollup/client"
	"zkrollup/common"
	"zkrollup/signer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/urfave/cli"
)

// keys are the signing keys given in the flags, either may be nil
type keys struct {
	ecdsa *ecdsa.PrivateKey
	bjj   *babyjub.PrivateKey
}

func (k *keys) pubKeyHash() (ethCommon.Hash, error) {
	switch {
	case k.bjj != nil:
		return signer.BJJPubKeyHash(k.bjj.Public().Compress()), nil
	case k.ecdsa != nil:
		return signer.ECDSAPubKeyHash(&k.ecdsa.PublicKey), nil
	}
	return ethCommon.Hash{}, common.Wrap(fmt.Errorf("--%s or --%s is required", flagBJJ, flagSK))
}

func (k *keys) sign(tx *common.Tx) error {
	switch {
	case k.bjj != nil:
		signer.SignBabyJubJub(k.bjj, tx)
		return nil
	case k.ecdsa != nil:
		return signer.SignECDSA(k.ecdsa, tx)
	}
	return common.Wrap(fmt.Errorf("--%s or --%s is required", flagBJJ, flagSK))
}

func parseKeys(c *cli.Context) (*keys, error) {
	var k keys
	var err error
	if sk := c.String(flagSK); sk != "" {
		if k.ecdsa, err = parseECDSAKey(sk); err != nil {
			return nil, err
		}
	}
	if sk := c.String(flagBJJ); sk != "" {
		if k.bjj, err = parseBJJKey(sk); err != nil {
			return nil, err
		}
	}
	return &k, nil
}

// newClient returns a client of --node calling as --from, or as the address
// of --privatekey
func newClient(c *cli.Context) (*client.Client, *keys, error) {
	k, err := parseKeys(c)
	if err != nil {
		return nil, nil, err
	}
	var caller ethCommon.Address
	if from := c.String(flagFrom); from != "" {
		if !ethCommon.IsHexAddress(from) {
			return nil, nil, common.Wrap(fmt.Errorf("invalid --%s %q", flagFrom, from))
		}
		caller = ethCommon.HexToAddress(from)
	} else if k.ecdsa != nil {
		caller = ethCrypto.PubkeyToAddress(k.ecdsa.PublicKey)
	}
	return client.NewClient(c.String(flagNode), caller), k, nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return common.Wrap(err)
	}
	fmt.Println(string(b))
	return nil
}

func argIdx(c *cli.Context, i int) (common.AccountIdx, error) {
	idx, err := strconv.ParseUint(c.Args().Get(i), 10, 64)
	if err != nil {
		return 0, common.Wrap(fmt.Errorf("invalid account index %q", c.Args().Get(i)))
	}
	return common.AccountIdx(idx), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("invalid amount %q: %w", s, err))
	}
	return amount, nil
}

func cmdClientState(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	state, err := cl.State(context.Background())
	if err != nil {
		return err
	}
	return printJSON(state)
}

func cmdClientAccount(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	idx, err := argIdx(c, 0)
	if err != nil {
		return err
	}
	proof, err := cl.Proof(context.Background(), idx)
	if err != nil {
		return err
	}
	return printJSON(proof)
}

func cmdClientCreateAccount(c *cli.Context) error {
	cl, k, err := newClient(c)
	if err != nil {
		return err
	}
	pubKeyHash, err := k.pubKeyHash()
	if err != nil {
		return err
	}
	idx, err := cl.CreateAccount(context.Background(), pubKeyHash)
	if err != nil {
		return err
	}
	return printJSON(api.AccountIndex{AccountIndex: uint64(idx)})
}

func cmdClientDeposit(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	idx, err := argIdx(c, 0)
	if err != nil {
		return err
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	acc, err := cl.Deposit(context.Background(), idx, amount)
	if err != nil {
		return err
	}
	return printJSON(acc)
}

func cmdClientWithdraw(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	idx, err := argIdx(c, 0)
	if err != nil {
		return err
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	ctx := context.Background()
	proof, err := cl.Proof(ctx, idx)
	if err != nil {
		return err
	}
	payout, err := cl.Withdraw(ctx, idx, amount, proof.Proof)
	if err != nil {
		return err
	}
	return printJSON(payout)
}

func cmdClientSignTx(c *cli.Context) error {
	k, err := parseKeys(c)
	if err != nil {
		return err
	}
	tx := common.Tx{
		FromIdx: common.AccountIdx(c.Uint64(flagFromIdx)),
		ToIdx:   common.AccountIdx(c.Uint64(flagTo)),
	}
	for _, f := range []struct {
		flag string
		dst  *uint256.Int
	}{
		{flagAmount, &tx.Amount},
		{flagFee, &tx.Fee},
		{flagNonce, &tx.Nonce},
	} {
		if err := f.dst.SetFromDecimal(c.String(f.flag)); err != nil {
			return common.Wrap(fmt.Errorf("invalid --%s: %w", f.flag, err))
		}
	}
	if err := k.sign(&tx); err != nil {
		return err
	}
	return printJSON(api.NewTx(&tx))
}

func cmdClientSubmitBatch(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return common.Wrap(err)
	}
	var apiTxs []api.Tx
	if err := json.Unmarshal(b, &apiTxs); err != nil {
		return common.Wrap(err)
	}
	txs := make([]common.Tx, len(apiTxs))
	for i := range apiTxs {
		tx, err := apiTxs[i].ToCommon()
		if err != nil {
			return err
		}
		txs[i] = *tx
	}
	ctx := context.Background()
	preview, err := cl.PreviewBatch(ctx, txs)
	if err != nil {
		return err
	}
	batch, err := cl.SubmitBatch(ctx, txs, ethCommon.HexToHash(preview.StateRoot))
	if err != nil {
		return err
	}
	return printJSON(batch)
}

func cmdClientPause(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	return cl.Pause(context.Background())
}

func cmdClientUnpause(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	return cl.Unpause(context.Background())
}

func cmdClientTransferOwnership(c *cli.Context) error {
	cl, _, err := newClient(c)
	if err != nil {
		return err
	}
	newOwner := c.Args().Get(0)
	if !ethCommon.IsHexAddress(newOwner) {
		return common.Wrap(fmt.Errorf("invalid address %q", newOwner))
	}
	return cl.TransferOwnership(context.Background(), ethCommon.HexToAddress(newOwner))
}
