package model

import (
	"fmt"
	"strings"
)

// WalletPosition 钱包持仓
type WalletPosition struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"valueUsd"`
}

// WalletTransaction 钱包最近交易
type WalletTransaction struct {
	Hash      string  `json:"hash"`
	Type      string  `json:"type"`
	ValueUSD  float64 `json:"valueUsd"`
	Timestamp int64   `json:"timestamp"`
}

// WalletProfile is the full record served by GET /wallets/{address}.
type WalletProfile struct {
	Address      string              `json:"address"`
	Owner        string              `json:"owner"`
	Tags         []string            `json:"tags"`
	Chains       []string            `json:"chains"`
	BalanceUSD   float64             `json:"balanceUsd"`
	Positions    []WalletPosition    `json:"positions"`
	Transactions []WalletTransaction `json:"transactions"`
}

// WalletSummary is one search hit.
type WalletSummary struct {
	Address    string   `json:"address"`
	Owner      string   `json:"owner"`
	Tags       []string `json:"tags"`
	BalanceUSD float64  `json:"balanceUsd"`
}

func (w WalletProfile) Summary() WalletSummary {
	return WalletSummary{
		Address:    w.Address,
		Owner:      w.Owner,
		Tags:       append([]string{}, w.Tags...),
		BalanceUSD: w.BalanceUSD,
	}
}

// Matches reports whether query hits the address, owner or any tag, ignoring case.
func (w WalletProfile) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	if strings.Contains(strings.ToLower(w.Address), q) || strings.Contains(strings.ToLower(w.Owner), q) {
		return true
	}
	for _, tag := range w.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func seedTransactions(n, hashBase int, kinds [2]string, baseUSD, stepUSD float64, spacingMin, nowMs int64) []WalletTransaction {
	out := make([]WalletTransaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, WalletTransaction{
			Hash:      fmt.Sprintf("0x%x...%x", hashBase+i, hashBase+1000+i),
			Type:      kinds[i%2],
			ValueUSD:  baseUSD + float64(i)*stepUSD,
			Timestamp: nowMs - int64(i)*spacingMin*60*1000,
		})
	}
	return out
}

// SeedWallets returns the built-in wallet directory.
func SeedWallets(nowMs int64) []WalletProfile {
	return []WalletProfile{
		{
			Address:    "0x8d12a197cb00d4747a1fe03395095ce2a5cc6819",
			Owner:      "Market Maker A",
			Tags:       []string{"market-maker", "binance"},
			Chains:     []string{"ethereum"},
			BalanceUSD: 154000000,
			Positions: []WalletPosition{
				{Symbol: "BTC", Amount: 820, ValueUSD: 52500000},
				{Symbol: "ETH", Amount: 12000, ValueUSD: 40500000},
				{Symbol: "USDT", Amount: 42000000, ValueUSD: 42000000},
			},
			Transactions: seedTransactions(6, 1000, [2]string{"transfer", "swap"}, 2500000, 125000, 15, nowMs),
		},
		{
			Address:    "0x742d35cc6634c0532925a3b844bc454e4438f44e",
			Owner:      "Whale Fund B",
			Tags:       []string{"whale", "long-term"},
			Chains:     []string{"ethereum", "polygon"},
			BalanceUSD: 284000000,
			Positions: []WalletPosition{
				{Symbol: "BTC", Amount: 1280, ValueUSD: 82000000},
				{Symbol: "ETH", Amount: 24000, ValueUSD: 81000000},
				{Symbol: "USDC", Amount: 121000000, ValueUSD: 121000000},
			},
			Transactions: seedTransactions(4, 3000, [2]string{"transfer", "deposit"}, 4300000, 200000, 45, nowMs),
		},
		{
			Address:    "0xfe9e8709d3215310075d67e3ed32a380ccf451c8",
			Owner:      "Liquidity Provider C",
			Tags:       []string{"liquidity", "bnb-chain"},
			Chains:     []string{"bnb", "arbitrum"},
			BalanceUSD: 96000000,
			Positions: []WalletPosition{
				{Symbol: "BNB", Amount: 82000, ValueUSD: 32000000},
				{Symbol: "BUSD", Amount: 41000000, ValueUSD: 41000000},
				{Symbol: "ARB", Amount: 1600000, ValueUSD: 23000000},
			},
			Transactions: seedTransactions(5, 5000, [2]string{"provide-liquidity", "withdraw"}, 3100000, 175000, 30, nowMs),
		},
	}
}
