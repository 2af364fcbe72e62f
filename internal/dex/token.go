// Package dex implements the in-process exchange: the token registry,
// constant-product pools with LP share accounting, and the shared limit-order
// book with its matcher.
package dex

// Token is an entry in the process-wide registry, immutable after init.
type Token struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	TotalSupply float64 `json:"totalSupply"`
	Decimals    int     `json:"decimals"`
}

// defaultTokens is the registry fixed at startup.
func defaultTokens() []Token {
	return []Token{
		{Symbol: "CRWN", Name: "Crown Token", TotalSupply: 1_000_000_000, Decimals: 9},
		{Symbol: "USDT", Name: "Tether USD", TotalSupply: 1_000_000_000, Decimals: 9},
		{Symbol: "ETH", Name: "Ethereum", TotalSupply: 120_000_000, Decimals: 9},
		{Symbol: "BTC", Name: "Bitcoin", TotalSupply: 21_000_000, Decimals: 9},
		{Symbol: "TRIT", Name: "Trit Token", TotalSupply: 3_000_000_000, Decimals: 9},
		{Symbol: "KRW", Name: "Korean Won", TotalSupply: 1_000_000_000_000, Decimals: 9},
	}
}

// bootstrapPool describes a pool seeded with system-owned liquidity at init.
type bootstrapPool struct {
	tokenA, tokenB     string
	feeBps             int
	reserveA, reserveB float64
}

func defaultPools() []bootstrapPool {
	return []bootstrapPool{
		{"CRWN", "USDT", 30, 10_000_000, 1_250_000},
		{"CRWN", "ETH", 30, 10_000_000, 500},
		{"CRWN", "BTC", 30, 10_000_000, 20},
		{"CRWN", "KRW", 20, 10_000_000, 1_687_500_000},
		{"BTC", "USDT", 10, 100, 6_250_000},
		{"ETH", "USDT", 15, 2_000, 5_000_000},
	}
}
