package analysis

import (
	"fmt"
	"strings"
)

func buildPrompt(req Request) string {
	pair := req.Coin
	actions := "'Buy' or 'Sell'"
	if req.TradingType == Futures {
		pair = req.Coin + "USDT"
		actions = "'Long' or 'Short'"
	}
	tf := string(req.Timeframe)

	schema := fmt.Sprintf(`{
    "coin": "string, should be '%[1]s'",
    "timeFrame": "string, should be '%[2]s'",
    "tradingType": "string, should be '%[3]s'",
    "action": "string (%[4]s, or 'Hold')",
    "entryPrice": "string (a SINGLE, precise price, e.g. '68500', not a range. 'N/A' for Hold)",
    "takeProfit": "string (a single price target, e.g. '69500', or 'N/A' for Hold)",
    "stopLoss": "string (a single price, e.g. '68000', or 'N/A' for Hold)",
    "confidence": "string representing confidence (e.g., 'High', 'Medium', 'Low')",
    "summary": "string containing a bullet-pointed list (3-4 points) with '\\n' for newlines. The first bullet MUST be the strongest reason for the signal. All special characters must be properly escaped."
}`, req.Coin, tf, req.TradingType, actions)

	var b strings.Builder
	b.WriteString(`Act as an expert cryptocurrency trading analyst. Your analysis MUST be based on the "CME Gaps + Fair Value Gaps (FVG) + Price Action" methodology.`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Provide a decisive, actionable trading signal for %s on the %s timeframe.\n\n", pair, tf)
	b.WriteString("Your entire response MUST be a single, raw JSON object, without any markdown formatting (like ```json), comments, or other text.\n\n")
	b.WriteString("The JSON object must conform to this structure:\n")
	b.WriteString(schema)
	b.WriteString("\n\n")
	b.WriteString("- For 'Futures' trading, the action MUST be 'Long' or 'Short'. For 'Spot' trading, it MUST be 'Buy' or 'Sell'.\n")
	b.WriteString("- The 'Hold' action should only be used in extremely rare cases of perfectly balanced consolidation where no directional edge can be found.\n")
	fmt.Fprintf(&b, "- The 'entryPrice', 'takeProfit', and 'stopLoss' values MUST be realistic and achievable within the selected '%s' timeframe. For shorter timeframes like '15m', price targets must be tight. For longer timeframes like '1D', they can be wider.\n", tf)
	b.WriteString("- Your summary MUST be a concise, bullet-pointed list. Use a hyphen (-) for each bullet and use a double backslash for newlines (\\n). Do NOT include citation markers like [1].\n")
	b.WriteString("- Base your analysis on real-time data from your search tool. Ensure all fields in the JSON schema are present.")
	return b.String()
}
