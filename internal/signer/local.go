package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-strategy-engine/internal/ledger"
)

// LocalWallet is an in-process ed25519 wallet for development and tests.
// The signed wire format is signature || template bytes.
type LocalWallet struct {
	priv    ed25519.PrivateKey
	address string
	client  ledger.Client
}

// NewLocalWallet creates a wallet from a 64-byte ed25519 private key.
func NewLocalWallet(priv ed25519.PrivateKey, client ledger.Client) (*LocalWallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &LocalWallet{
		priv:    priv,
		address: base58.Encode(pub),
		client:  client,
	}, nil
}

// PublicAddress returns the wallet's base58 public address.
func (w *LocalWallet) PublicAddress() string {
	return w.address
}

// SignAndSubmit signs the raw template and submits it through the ledger
// client, returning the transaction signature.
func (w *LocalWallet) SignAndSubmit(ctx context.Context, rawTx []byte) (string, error) {
	sig := ed25519.Sign(w.priv, rawTx)
	signed := make([]byte, 0, len(sig)+len(rawTx))
	signed = append(signed, sig...)
	signed = append(signed, rawTx...)

	txSig, err := w.client.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", err
	}
	return txSig, nil
}
