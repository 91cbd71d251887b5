package strategy

func init() {
	RegisterAll(builtinPresets())
}

func builtinPresets() []*Preset {
	return []*Preset{
		{
			ID: 1, Name: "sma_trend",
			DisplayName: "SMA Trend with Volume",
			Philosophy:  "Ride closes above the 20-bar average while volume confirms participation.",
			Category:    "trend",
			Tags:        []string{"trend", "SMA", "volume"},
			DSL:         "ENTRY: close > sma(close, 20) AND volume > 1000000\nEXIT: close < sma(close, 20)",
		},
		{
			ID: 2, Name: "golden_cross",
			DisplayName: "Golden Cross",
			Philosophy:  "The 50-bar average crossing above the 200-bar average marks a long-term uptrend.",
			Category:    "trend",
			Tags:        []string{"trend", "SMA", "crossover"},
			DSL:         "ENTRY: sma(close, 50) CROSSES_ABOVE sma(close, 200)\nEXIT: sma(close, 50) CROSSES_BELOW sma(close, 200)",
		},
		{
			ID: 3, Name: "ema_cross",
			DisplayName: "EMA 12/26 Cross",
			Philosophy:  "Fast exponential average crossing the slow one catches trend turns early.",
			Category:    "trend",
			Tags:        []string{"trend", "EMA", "crossover"},
			DSL:         "ENTRY: ema(close, 12) CROSSES_ABOVE ema(close, 26)\nEXIT: ema(close, 12) CROSSES_BELOW ema(close, 26)",
		},
		{
			ID: 4, Name: "rsi_reversion",
			DisplayName: "RSI Oversold Reversion",
			Philosophy:  "Buy oversold dips above the long-term average and sell once momentum recovers.",
			Category:    "mean_reversion",
			Tags:        []string{"mean_reversion", "RSI", "SMA"},
			DSL:         "ENTRY: rsi(close, 14) < 30 AND close > sma(close, 200)\nEXIT: rsi(close, 14) > 55",
		},
		{
			ID: 5, Name: "rsi_cross_up",
			DisplayName: "RSI Crosses Up From Oversold",
			Philosophy:  "Wait for RSI to leave the oversold zone before entering.",
			Category:    "mean_reversion",
			Tags:        []string{"mean_reversion", "RSI", "crossover"},
			DSL:         "ENTRY: rsi(close, 14) CROSSES_ABOVE 30\nEXIT: rsi(close, 14) CROSSES_ABOVE 70 OR close < lowest(low, 20)[1]",
		},
		{
			ID: 6, Name: "breakout_20",
			DisplayName: "20-Bar Channel Breakout",
			Philosophy:  "A close above the prior 20-bar high starts a trend; a close below the prior 10-bar low ends it.",
			Category:    "breakout",
			Tags:        []string{"breakout", "donchian"},
			DSL:         "ENTRY: close > highest(high, 20)[1]\nEXIT: close < lowest(low, 10)[1]",
		},
		{
			ID: 7, Name: "volume_breakout",
			DisplayName: "Volume-Confirmed Breakout",
			Philosophy:  "Breakouts on above-average volume are more likely to follow through.",
			Category:    "breakout",
			Tags:        []string{"breakout", "volume", "SMA"},
			DSL:         "ENTRY: close > highest(high, 20)[1] AND volume > sma(volume, 20)\nEXIT: close < ema(close, 10)",
		},
		{
			ID: 8, Name: "gap_up_momentum",
			DisplayName: "Gap Up Momentum",
			Philosophy:  "Opening above the prior high in an uptrend shows urgent demand.",
			Category:    "pattern",
			Tags:        []string{"pattern", "gap", "lag"},
			DSL:         "ENTRY: (open > high[1]) AND (close > open) AND close > sma(close, 50)\nEXIT: close < low[1]",
		},
	}
}
