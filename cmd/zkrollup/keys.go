package main

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"zkrollup/common"
	"zkrollup/signer"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/urfave/cli"
)

func cmdGenKey(c *cli.Context) error {
	switch scheme := c.String(flagScheme); scheme {
	case signer.SchemeECDSA:
		key, err := ethCrypto.GenerateKey()
		if err != nil {
			return common.Wrap(err)
		}
		if dir := c.String(flagKeystore); dir != "" {
			password := c.String(flagPassword)
			if password == "" {
				return common.Wrap(fmt.Errorf("--%s is required with --%s", flagPassword, flagKeystore))
			}
			ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
			account, err := ks.ImportECDSA(key, password)
			if err != nil {
				return common.Wrap(err)
			}
			fmt.Printf("keystore file: %s\n", account.URL.Path)
		} else {
			fmt.Printf("private key: %s\n", hexutil.Encode(ethCrypto.FromECDSA(key)))
		}
		fmt.Printf("address:     %s\n", ethCrypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("pubKeyHash:  %s\n", signer.ECDSAPubKeyHash(&key.PublicKey).Hex())
	case signer.SchemeBabyJubJub:
		sk := babyjub.NewRandPrivKey()
		fmt.Printf("private key: %s\n", hexutil.Encode(sk[:]))
		fmt.Printf("pubKeyHash:  %s\n", signer.BJJPubKeyHash(sk.Public().Compress()).Hex())
	default:
		return common.Wrap(fmt.Errorf("unknown signature scheme %q", scheme))
	}
	return nil
}

func parseECDSAKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := ethCrypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, common.Wrap(fmt.Errorf("invalid --%s: %w", flagSK, err))
	}
	return key, nil
}

func parseBJJKey(s string) (*babyjub.PrivateKey, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return nil, common.Wrap(fmt.Errorf("invalid --%s, expected 32 bytes of hex", flagBJJ))
	}
	var sk babyjub.PrivateKey
	copy(sk[:], b)
	return &sk, nil
}
