package model

import "time"

// Theme is the viewer's colour scheme preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool { return t == ThemeDark || t == ThemeLight }

// Trade modes of the exchange account.
const (
	TradeModeLive = "live"
	TradeModeDemo = "demo"
)

// Credentials are the exchange API keys of the user.
type Credentials struct {
	APIKey    string `json:"apiKey" validate:"required"`
	APISecret string `json:"apiSecret" validate:"required"`
	TradeMode string `json:"tradeMode" validate:"omitempty,oneof=live demo"`
}

// Demo reports whether orders go to the exchange's demo environment.
func (c Credentials) Demo() bool { return c.TradeMode == TradeModeDemo }

// Masked returns a copy safe to send to a browser.
func (c Credentials) Masked() Credentials {
	c.APISecret = ""
	if n := len(c.APIKey); n > 4 {
		c.APIKey = "****" + c.APIKey[n-4:]
	}
	return c
}

// OrderRecord is one order placed on the exchange, as kept in the journal.
type OrderRecord struct {
	ID          int64     `json:"id"`
	OrderID     string    `json:"orderId"`
	OrderLinkID string    `json:"orderLinkId"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         string    `json:"qty"`
	Leverage    int       `json:"leverage"`
	EntryPrice  string    `json:"entryPrice"`
	TakeProfit  string    `json:"takeProfit,omitempty"`
	StopLoss    string    `json:"stopLoss,omitempty"`
	Mode        string    `json:"mode"`
	CreatedAt   time.Time `json:"createdAt"`
}
