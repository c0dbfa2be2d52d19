package markets

// Defaults is the compiled-in market set, enough to run against the five
// wired venues without a database. An operator metadata store or a YAML
// file replaces or narrows this at startup.
func Defaults() Source {
	usdt := func(base, name string, pricePrec int) Metadata {
		return Metadata{
			Pair:         MakePair(base, "USDT"),
			Base:         base,
			Quote:        "USDT",
			DisplayName:  base + "/USDT",
			CurrencyName: name,
			Precision:    Precision{Price: pricePrec, Amount: 6},
			MinVolume:    0.001,
			MaxVolume:    100000,
			Enabled:      true,
		}
	}
	tmn := func(base, name string) Metadata {
		return Metadata{
			Pair:         MakePair(base, "TMN"),
			Base:         base,
			Quote:        "TMN",
			DisplayName:  base + "/TMN",
			CurrencyName: name,
			Precision:    Precision{Price: 0, Amount: 6},
			MinVolume:    0.001,
			MaxVolume:    100000,
			Enabled:      true,
		}
	}

	markets := []Metadata{
		usdt("BTC", "Bitcoin", 2),
		usdt("ETH", "Ethereum", 2),
		usdt("DOGE", "Dogecoin", 5),
		usdt("XRP", "Ripple", 4),
		usdt("NOT", "Notcoin", 6),
		tmn("USDT", "Tether"),
		tmn("ETH", "Ethereum"),
		tmn("LTC", "Litecoin"),
		tmn("ADA", "Cardano"),
	}

	aliases := []Alias{
		// BingX swap markets use dash-separated symbols.
		{Exchange: "bingx", Native: "BTC-USDT", Pair: "BTC/USDT"},
		{Exchange: "bingx", Native: "ETH-USDT", Pair: "ETH/USDT"},
		{Exchange: "bingx", Native: "DOGE-USDT", Pair: "DOGE/USDT"},
		{Exchange: "bingx", Native: "XRP-USDT", Pair: "XRP/USDT"},
		{Exchange: "bingx", Native: "NOT-USDT", Pair: "NOT/USDT"},

		{Exchange: "wallex", Native: "BTCUSDT", Pair: "BTC/USDT"},
		{Exchange: "wallex", Native: "ETHUSDT", Pair: "ETH/USDT"},
		{Exchange: "wallex", Native: "DOGEUSDT", Pair: "DOGE/USDT"},
		{Exchange: "wallex", Native: "XRPUSDT", Pair: "XRP/USDT"},
		{Exchange: "wallex", Native: "USDTTMN", Pair: "USDT/TMN"},

		// Ramzinex channels are keyed by numeric pair id.
		{Exchange: "ramzinex", Native: "2", Pair: "BTC/USDT"},
		{Exchange: "ramzinex", Native: "13", Pair: "ETH/USDT"},
		{Exchange: "ramzinex", Native: "432", Pair: "DOGE/USDT"},
		{Exchange: "ramzinex", Native: "509", Pair: "NOT/USDT"},
		{Exchange: "ramzinex", Native: "643", Pair: "XRP/USDT"},
		{Exchange: "ramzinex", Native: "11", Pair: "USDT/TMN"},
		{Exchange: "ramzinex", Native: "46", Pair: "ETH/TMN"},
		{Exchange: "ramzinex", Native: "10", Pair: "LTC/TMN"},
		{Exchange: "ramzinex", Native: "101", Pair: "ADA/TMN"},

		{Exchange: "lbank", Native: "btc_usdt", Pair: "BTC/USDT"},
		{Exchange: "lbank", Native: "eth_usdt", Pair: "ETH/USDT"},
		{Exchange: "lbank", Native: "doge_usdt", Pair: "DOGE/USDT"},
		{Exchange: "lbank", Native: "xrp_usdt", Pair: "XRP/USDT"},
		{Exchange: "lbank", Native: "not_usdt", Pair: "NOT/USDT"},

		// Tabdeal quotes in IRT; canonically that is the TMN market.
		{Exchange: "tabdeal", Native: "usdtirt", Pair: "USDT/TMN"},
	}

	return Source{Markets: markets, Aliases: aliases}
}
