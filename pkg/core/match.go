package core

// Crosses reports whether a bid and an ask can trade
func Crosses(buy, sell PositionOrder) bool {
	return buy.Price >= sell.Price
}

// TryMatch computes the trade between the best bid and the best ask. The
// price is that of the order which arrived first; on equal timestamps the
// bid's price is used. ok is false when the orders do not cross.
func TryMatch(buy, sell PositionOrder) (amount, price int, ok bool) {
	if !Crosses(buy, sell) {
		return 0, 0, false
	}

	price = sell.Price
	if buy.Timestamp <= sell.Timestamp {
		price = buy.Price
	}

	return min(buy.Amount, sell.Amount), price, true
}

// NewTransaction builds the ledger record of a trade between buy and sell
func NewTransaction(id int64, buy, sell PositionOrder, amount, price int) Transaction {
	return Transaction{
		ID:         id,
		Product:    buy.Product,
		Amount:     amount,
		Price:      price,
		BrokerBuy:  buy.Broker,
		ClientBuy:  buy.Client,
		BrokerSell: sell.Broker,
		ClientSell: sell.Client,
	}
}

// Fill subtracts a traded amount. It returns the residual order and true when
// some amount remains, or false when the order is fully filled.
func Fill(o PositionOrder, traded int) (PositionOrder, bool) {
	if o.Amount <= traded {
		return PositionOrder{}, false
	}
	o.Amount -= traded
	return o, true
}

// ApplyModification builds the replacement of a resting order. The identity,
// client, product and side are kept; timestamp, amount and price come from
// the modification. ok is false when the modification addresses another order
// or carries values a resting order cannot have.
func ApplyModification(o PositionOrder, m Modify) (PositionOrder, bool) {
	if o.Key() != m.Target() || m.Validate() != nil {
		return PositionOrder{}, false
	}
	o.Timestamp = m.Timestamp
	o.Amount = m.Amount
	o.Price = m.Price
	return o, true
}
