package gateway

import (
	"coinchart/internal/analysis"
	"coinchart/internal/model"
	"coinchart/internal/pipeline"
)

// inbound is any message a chart client sends.
type inbound struct {
	Type        string  `json:"type"`
	Coin        string  `json:"coin"`
	Timeframe   string  `json:"timeframe"`
	From        int64   `json:"from"`
	To          int64   `json:"to"`
	LogicalFrom float64 `json:"logicalFrom"`
	LogicalTo   float64 `json:"logicalTo"`
	Ping        int64   `json:"ping"`
}

type dataMsg struct {
	Type    string         `json:"type"`
	Candles []model.Candle `json:"candles"`
}

type barMsg struct {
	Type   string       `json:"type"`
	Candle model.Candle `json:"candle"`
}

type setRangeMsg struct {
	Type string `json:"type"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
}

type fitMsg struct {
	Type string `json:"type"`
}

type statusMsg struct {
	Type string `json:"type"`
	pipeline.Status
}

type pongMsg struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}

// TimeframeInfo is the REST response item for /api/timeframes.
type TimeframeInfo struct {
	Value   model.Timeframe `json:"value"`
	Label   string          `json:"label"`
	Seconds int64           `json:"seconds"`
}

// CoinsResponse is the REST response for /api/coins.
type CoinsResponse struct {
	Coins            []string        `json:"coins"`
	DefaultCoin      string          `json:"defaultCoin"`
	DefaultTimeframe model.Timeframe `json:"defaultTimeframe"`
	AnalysisEnabled  bool            `json:"analysisEnabled"`
	TradeCodeNeeded  bool            `json:"tradeCodeRequired"`
}

// CandlesResponse is the REST response for /api/candles.
type CandlesResponse struct {
	Coin      string          `json:"coin"`
	Timeframe model.Timeframe `json:"timeframe"`
	Before    int64           `json:"before,omitempty"`
	Candles   []model.Candle  `json:"candles"`
}

// PriceResponse is the REST response for /api/price.
type PriceResponse struct {
	Coin  string  `json:"coin"`
	Price float64 `json:"price"`
}

// AnalysisRequest is the body of POST /api/analysis.
type AnalysisRequest = analysis.Request

// CredentialsResponse is the REST response for /api/settings/credentials.
type CredentialsResponse struct {
	Configured  bool               `json:"configured"`
	Credentials *model.Credentials `json:"credentials,omitempty"`
}

// ThemeBody is the body and response of /api/settings/theme.
type ThemeBody struct {
	Theme model.Theme `json:"theme"`
}

// ErrorResponse is returned by every failing REST call.
type ErrorResponse struct {
	Error string `json:"error"`
}
