package core

// Transaction is one executed trade
type Transaction struct {
	ID         int64  `json:"id"`
	Product    string `json:"product"`
	Amount     int    `json:"amount"`
	Price      int    `json:"price"`
	BrokerBuy  string `json:"brokerBuy"`
	ClientBuy  string `json:"clientBuy"`
	BrokerSell string `json:"brokerSell"`
	ClientSell string `json:"clientSell"`
}

// OrderEntry is one resting order in a book snapshot
type OrderEntry struct {
	ID     int    `json:"id"`
	Broker string `json:"broker"`
	Client string `json:"client"`
	Amount int    `json:"amount"`
	Price  int    `json:"price"`
}

// OrderBook is the final snapshot of one product. Buy entries are ordered
// best bid first, Sell entries best ask first.
type OrderBook struct {
	Product string       `json:"product"`
	Buy     []OrderEntry `json:"buyEntries"`
	Sell    []OrderEntry `json:"sellEntries"`
}

// IsEmpty reports whether both sides are empty
func (b *OrderBook) IsEmpty() bool {
	return b == nil || (len(b.Buy) == 0 && len(b.Sell) == 0)
}

// Result is produced once every broker has shut down and every product
// engine has finalized.
type Result struct {
	OrderBooks   []OrderBook   `json:"orderBooks"`
	Transactions []Transaction `json:"transactions"`
}

// NewOrderEntry converts a resting order into its snapshot entry
func NewOrderEntry(o PositionOrder) OrderEntry {
	return OrderEntry{
		ID:     o.ID,
		Broker: o.Broker,
		Client: o.Client,
		Amount: o.Amount,
		Price:  o.Price,
	}
}
