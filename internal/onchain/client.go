// Package onchain 直连结算链：读抵押品余额、赎回赢方的条件代币。
package onchain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/pkg/logger"
)

// usdcDecimals 抵押品精度（10^6）
var usdcDecimals = big.NewFloat(1e6)

// erc20ABI 最小 ERC20 接口（只读余额）
const erc20ABI = `[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ctfRedeemABI 条件代币赎回接口
const ctfRedeemABI = `[
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "indexSets", "type": "uint256[]"}
		],
		"name": "redeemPositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// Config 单条链部署的地址配置
type Config struct {
	RPCURL            string
	ChainID           int64
	ConditionalTokens string // CTF 合约地址
	Collateral        string // USDC 合约地址
}

// Client 绑定单个钱包的链上客户端
type Client struct {
	eth     *ethclient.Client
	wallet  *Wallet
	ctf     common.Address
	usdc    common.Address
	chainID *big.Int

	erc20  abi.ABI
	redeem abi.ABI
	log    *logrus.Entry
}

func NewClient(cfg Config, wallet *Wallet) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}
	redeem, err := abi.JSON(strings.NewReader(ctfRedeemABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse ctf abi")
	}
	return &Client{
		eth:     eth,
		wallet:  wallet,
		ctf:     common.HexToAddress(cfg.ConditionalTokens),
		usdc:    common.HexToAddress(cfg.Collateral),
		chainID: big.NewInt(cfg.ChainID),
		erc20:   erc20,
		redeem:  redeem,
		log:     logger.WithField("component", "onchain"),
	}, nil
}

// WalletAddress 返回绑定钱包的地址
func (c *Client) WalletAddress() common.Address {
	return c.wallet.Address()
}

// USDCBalance 读取钱包的 USDC 抵押品余额
func (c *Client) USDCBalance(ctx context.Context) (float64, error) {
	data, err := c.erc20.Pack("balanceOf", c.wallet.Address())
	if err != nil {
		return 0, errors.Wrap(err, "pack balanceOf")
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "call balanceOf")
	}
	var raw *big.Int
	if err := c.erc20.UnpackIntoInterface(&raw, "balanceOf", result); err != nil {
		return 0, errors.Wrap(err, "unpack balanceOf")
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), usdcDecimals).Float64()
	return out, nil
}

// RedeemPositions 赎回已出结果条件的两个 index set。
// 对已赎回或空仓位赎回在合约侧是空操作，调用方可以放心重试。
func (c *Client) RedeemPositions(ctx context.Context, conditionID string) (common.Hash, error) {
	cond := common.HexToHash(conditionID)
	if cond == (common.Hash{}) {
		return common.Hash{}, errors.Errorf("invalid condition id: %s", conditionID)
	}

	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := c.redeem.Pack("redeemPositions", c.usdc, common.Hash{}, cond, indexSets)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack redeemPositions")
	}

	from := c.wallet.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "fetch nonce")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.ctf,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate gas")
	}

	tx := ethtypes.NewTransaction(nonce, c.ctf, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.wallet.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign tx")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "send tx")
	}

	c.log.Infof("赎回交易已提交: condition=%s tx=%s", conditionID, signed.Hash().Hex())
	return signed.Hash(), nil
}
