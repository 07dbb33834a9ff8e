package models

import "time"

// NativeSOLAddress is the wrapped SOL mint used to flag the native token.
const NativeSOLAddress = "So11111111111111111111111111111111111111112"

// Token is a wallet-visible token row persisted in Postgres.
type Token struct {
	Chain      string    `json:"chain"`
	Address    string    `json:"address"`
	Name       string    `json:"name"`
	Symbol     string    `json:"symbol"`
	Decimals   int       `json:"decimals"`
	LogoURI    string    `json:"logo_uri"`
	IsNative   bool      `json:"is_native"`
	IsVerified bool      `json:"is_verified"`
	IsVisible  bool      `json:"is_visible"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TokenMetrics holds the market figures used for index grading.
type TokenMetrics struct {
	DailyVolume float64 `json:"daily_volume"`
	HolderCount int     `json:"holder_count"`
	Liquidity   float64 `json:"liquidity"`
	MarketCap   float64 `json:"market_cap"`
	Price       float64 `json:"price"`
}

// TokenIndexEntry is one graded row of the token index.
type TokenIndexEntry struct {
	Chain       string       `json:"chain"`
	Address     string       `json:"address"`
	Name        string       `json:"name"`
	Symbol      string       `json:"symbol"`
	Decimals    int          `json:"decimals"`
	IsNative    bool         `json:"is_native"`
	IsVerified  bool         `json:"is_verified"`
	Metrics     TokenMetrics `json:"metrics"`
	Grade       string       `json:"grade"`
	Score       int          `json:"score"`
	GradeReason string       `json:"grade_reason"`
}

// IndexReport summarizes one completed token-index sync run.
type IndexReport struct {
	TotalTokens int       `json:"total_tokens"`
	GradeA      int       `json:"grade_a_count"`
	GradeB      int       `json:"grade_b_count"`
	GradeC      int       `json:"grade_c_count"`
	Created     int       `json:"new_tokens"`
	Updated     int       `json:"updated_tokens"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	RecordedAt  time.Time `json:"recorded_at"`
}
