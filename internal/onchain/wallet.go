package onchain

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
)

// defaultDerivationPath 以太坊标准派生路径（首账户）
const defaultDerivationPath = "m/44'/60'/0'/0/0"

// Wallet 持有链上调用的签名私钥
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWalletFromHex 从十六进制私钥构建钱包
func NewWalletFromHex(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewWalletFromMnemonic 从 BIP39 助记词派生首账户
func NewWalletFromMnemonic(mnemonic string) (*Wallet, error) {
	w, err := hdwallet.NewFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return nil, errors.Wrap(err, "parse mnemonic")
	}
	path := hdwallet.MustParseDerivationPath(defaultDerivationPath)
	account, err := w.Derive(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "derive account")
	}
	key, err := w.PrivateKey(account)
	if err != nil {
		return nil, errors.Wrap(err, "export private key")
	}
	return &Wallet{key: key, address: account.Address}, nil
}

// Address 钱包对应的 EOA 地址
func (w *Wallet) Address() common.Address {
	return w.address
}
