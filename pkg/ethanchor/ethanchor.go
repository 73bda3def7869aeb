// Copyright 2025 Certen Protocol
//
// Package ethanchor pins an anchorstore checkpoint as an Ethereum
// transaction: an optional external-chain target for the anchor spine,
// distinct from the anchor chain itself. A pinned anchor record carries an
// on-chain transaction hash and block number a third party can verify
// against a public RPC endpoint, without trusting this store's own
// database.
package ethanchor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an Ethereum JSON-RPC connection used solely to pin anchor
// checkpoints (SendPinTransaction) and later look up their confirmation
// depth (Confirmations). It is not a general-purpose Ethereum client.
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
	url     string
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(url string, chainID int64) (*Client, error) {
	rpc, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: dial %s: %w", url, err)
	}
	return &Client{rpc: rpc, chainID: big.NewInt(chainID), url: url}, nil
}

// Reference is what anchorstore persists alongside an Anchor when it was
// pinned externally: enough to let an independent verifier fetch the
// transaction from any Ethereum RPC endpoint and recompute that its input
// data equals the anchor's hash.
type Reference struct {
	ChainID         string    `json:"chain_id"`
	TxHash          string    `json:"tx_hash"`
	BlockNumber     int64     `json:"block_number"`
	ContractAddress string    `json:"contract_address,omitempty"`
	PinnedAt        time.Time `json:"pinned_at"`
}

// PinAnchorHash submits a transaction carrying anchorHash (32 bytes, hex
// decoded) as calldata to contractAddr (the zero address is valid: a plain
// value-less data transaction with no contract logic, the simplest
// possible on-chain commitment). It waits for the transaction to be mined
// before returning so Reference.BlockNumber is populated.
func (c *Client) PinAnchorHash(ctx context.Context, privateKeyHex string, contractAddr common.Address, anchorHash []byte) (*Reference, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: parse private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: create transactor: %w", err)
	}

	fromAddr := publicAddress(privateKey)
	nonce, err := c.rpc.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: fetch nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: fetch gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contractAddr,
		Value:    big.NewInt(0),
		Gas:      21000 + 68*uint64(len(anchorHash)),
		GasPrice: gasPrice,
		Data:     anchorHash,
	})
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: sign transaction: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("ethanchor: send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.rpc, signedTx)
	if err != nil {
		return nil, fmt.Errorf("ethanchor: wait for mining: %w", err)
	}

	return &Reference{
		ChainID:         c.chainID.String(),
		TxHash:          signedTx.Hash().Hex(),
		BlockNumber:     receipt.BlockNumber.Int64(),
		ContractAddress: contractAddr.Hex(),
		PinnedAt:        time.Now().UTC(),
	}, nil
}

// Confirmations returns the number of blocks from ref's block up to the
// chain head, counting ref's block itself, or 0 if the head is still below
// ref's block.
func (c *Client) Confirmations(ctx context.Context, ref *Reference) (int64, error) {
	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethanchor: fetch head block: %w", err)
	}
	if int64(head) < ref.BlockNumber {
		return 0, nil
	}
	return int64(head) - ref.BlockNumber + 1, nil
}

// VerifyCalldata fetches the transaction at ref.TxHash and checks its
// input data equals anchorHash exactly — the offline-verifiable half of
// pinning: a third party with only ref and a public RPC endpoint can
// confirm the anchor hash was actually committed on-chain at that block.
func (c *Client) VerifyCalldata(ctx context.Context, ref *Reference, anchorHash []byte) (bool, error) {
	txHash := common.HexToHash(ref.TxHash)
	tx, isPending, err := c.rpc.TransactionByHash(ctx, txHash)
	if err != nil {
		return false, fmt.Errorf("ethanchor: fetch transaction %s: %w", ref.TxHash, err)
	}
	if isPending {
		return false, nil
	}
	data := tx.Data()
	if len(data) != len(anchorHash) {
		return false, nil
	}
	for i := range data {
		if data[i] != anchorHash[i] {
			return false, nil
		}
	}
	return true, nil
}

func publicAddress(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}
