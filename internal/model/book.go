package model

// BookUpdate is a validated order-book message from the exchange, either a
// full snapshot or an incremental delta. Levels keep the exchange's raw
// strings: the checksum algorithm hashes price and quantity exactly as
// received, so any reformatting would break verification.
type BookUpdate struct {
	Action      string // "snapshot" or "update"
	TimestampMs string
	SeqID       int64
	PrevSeqID   *int64
	Checksum    *int32
	Bids        [][]string // [price, qty, deprecated, orderCount]
	Asks        [][]string
}

// BookSnapshot is the periodic projection of an order book persisted to the
// hourly-rotated snapshot log. Top-of-book fields are nil when the
// corresponding side is empty.
type BookSnapshot struct {
	TimestampUTC string     `json:"timestamp_utc"`
	Exchange     string     `json:"exchange"`
	Market       string     `json:"market"`
	Channel      string     `json:"channel"`
	InstID       string     `json:"instId"`
	Bids         [][]string `json:"bids_top400"`
	Asks         [][]string `json:"asks_top400"`
	BestBid      *string    `json:"best_bid"`
	BestAsk      *string    `json:"best_ask"`
	MidPrice     *string    `json:"mid_price"`
	Checksum     *int32     `json:"checksum"`
	SeqID        *int64     `json:"seqId"`
	PrevSeqID    *int64     `json:"prevSeqId"`
	GapDetected  bool       `json:"gap_detected"`
}
