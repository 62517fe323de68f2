// 一次性赎回工具：扫描交易所持仓，把所有可赎回的 condition 逐个赎回。
// 机器人自身的结算循环也会赎回；这个工具用于人工补救（例如机器人停机期间
// 结算掉的窗口）。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/internal/onchain"
	"github.com/betbot/snipebot/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml）")
	conditionID := flag.String("condition", "", "只赎回指定 condition（可选）")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *conditionID); err != nil {
		logrus.Errorf("赎回失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, conditionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var wallet *onchain.Wallet
	var err error
	if cfg.Wallet.PrivateKey != "" {
		wallet, err = onchain.NewWalletFromHex(cfg.Wallet.PrivateKey)
	} else {
		wallet, err = onchain.NewWalletFromMnemonic(cfg.Wallet.Mnemonic)
	}
	if err != nil {
		return err
	}

	chain, err := onchain.NewClient(onchain.Config{
		RPCURL:            cfg.Wallet.RPCURL,
		ChainID:           cfg.Wallet.ChainID,
		ConditionalTokens: cfg.Wallet.ConditionalTokens,
		Collateral:        cfg.Wallet.Collateral,
	}, wallet)
	if err != nil {
		return err
	}
	logrus.Infof("钱包地址: %s", wallet.Address().Hex())

	if conditionID != "" {
		txHash, err := chain.RedeemPositions(ctx, conditionID)
		if err != nil {
			return err
		}
		logrus.Infof("赎回已提交: %s", txHash.Hex())
		return nil
	}

	positions, err := exchange.NewDataAPIClient(cfg.Exchange.DataAPIURL, wallet.Address().Hex()).Positions(ctx)
	if err != nil {
		return err
	}

	// 同一 condition 两侧各出现一次，去重后逐个赎回
	seen := make(map[string]bool)
	redeemed := 0
	for _, p := range positions {
		if !p.Redeemable || p.ConditionID == "" || seen[p.ConditionID] {
			continue
		}
		seen[p.ConditionID] = true
		txHash, err := chain.RedeemPositions(ctx, p.ConditionID)
		if err != nil {
			logrus.Warnf("赎回 %s 失败: %v", p.ConditionID, err)
			continue
		}
		logrus.Infof("赎回已提交: condition=%s slug=%s tx=%s", p.ConditionID, p.Slug, txHash.Hex())
		redeemed++
	}

	bal, err := chain.USDCBalance(ctx)
	if err == nil {
		logrus.Infof("完成: %d 个 condition 已赎回, 当前余额 %.2f USDC", redeemed, bal)
	} else {
		logrus.Infof("完成: %d 个 condition 已赎回", redeemed)
	}
	return nil
}
