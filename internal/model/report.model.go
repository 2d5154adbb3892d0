package model

import "time"

// ProfitReport aggregates Sukses transactions settled inside [From, To].
type ProfitReport struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Count   int64     `json:"count"`
	Revenue int64     `json:"revenue"`
	Cost    int64     `json:"cost"`
	Profit  int64     `json:"profit"`
}
