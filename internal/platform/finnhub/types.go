package finnhub

// Command is an outbound streaming frame.
type Command struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// envelope is the outer shape shared by every inbound frame.
type envelope struct {
	Type string      `json:"type"`
	Data []TradeTick `json:"data"`
	Msg  string      `json:"msg"`
}

// TradeTick is one element of a "trade" frame.
type TradeTick struct {
	Symbol    string   `json:"s"`
	Price     float64  `json:"p"`
	Volume    float64  `json:"v"`
	Timestamp int64    `json:"t"` // unix milliseconds
	Condition []string `json:"c,omitempty"`
}

// QuoteResponse is the body of GET /quote.
type QuoteResponse struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"` // unix seconds
}
