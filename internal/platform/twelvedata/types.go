package twelvedata

// Command is an outbound streaming frame.
type Command struct {
	Action string  `json:"action"`
	Params *Params `json:"params,omitempty"`
}

// Params carries the comma separated symbol list of a (un)subscribe action.
type Params struct {
	Symbols string `json:"symbols"`
}

// Event is the union of every inbound frame; Event selects which fields are
// meaningful.
type Event struct {
	Event     string         `json:"event"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Symbol    string         `json:"symbol"`
	Price     float64        `json:"price"`
	Bid       float64        `json:"bid"`
	Ask       float64        `json:"ask"`
	DayVolume float64        `json:"day_volume"`
	Timestamp int64          `json:"timestamp"` // unix seconds
	Success   []SymbolStatus `json:"success"`
	Fails     []SymbolStatus `json:"fails"`
}

// SymbolStatus is one entry of a subscribe-status frame.
type SymbolStatus struct {
	Symbol string `json:"symbol"`
}

// PriceResponse is the body of GET /price. The API reports errors in the
// body with HTTP 200, hence Code and Status.
type PriceResponse struct {
	Price   string `json:"price"`
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
