package main

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the mock upstream's view of an order.
type OrderStatus string

const (
	OrderPending OrderStatus = "Pending"
	OrderSukses  OrderStatus = "Sukses"
	OrderGagal   OrderStatus = "Gagal"
)

var trxNamespace = uuid.MustParse("6f0e3a52-5c1d-4d8e-9a57-0b3c9f1d2e11")

var failureReasons = []string{
	"Nomor tujuan salah",
	"Produk sedang gangguan",
	"Stok kosong",
	"Transaksi ditolak operator",
}

type order struct {
	TrxID   string
	Calls   int
	Final   OrderStatus
	SN      string
	Reason  string
	Price   int64
	Created time.Time
}

// OrderState is what one purchase or status call answers.
type OrderState struct {
	RefID  string
	TrxID  string
	Status OrderStatus
	SN     string
	Reason string
	Price  int64
}

// Upstream simulates an H2H voucher provider. Every ref id is an idempotency
// key: the same ref id always maps to the same upstream trx id, stays
// Pending for PendingCalls calls and then settles on an outcome derived from
// the ref id alone.
type Upstream struct {
	mu           sync.Mutex
	orders       map[string]*order
	pendingCalls int
	successRate  float64
	basePrice    int64
}

func NewUpstream(pendingCalls int, successRate float64, basePrice int64) *Upstream {
	return &Upstream{
		orders:       make(map[string]*order),
		pendingCalls: pendingCalls,
		successRate:  successRate,
		basePrice:    basePrice,
	}
}

func (u *Upstream) Call(refID, sku string) OrderState {
	u.mu.Lock()
	defer u.mu.Unlock()

	o, ok := u.orders[refID]
	if !ok {
		o = u.newOrder(refID, sku)
		u.orders[refID] = o
	}
	o.Calls++

	state := OrderState{RefID: refID, TrxID: o.TrxID, Price: o.Price, Status: OrderPending}
	if o.Calls <= u.pendingCalls {
		return state
	}
	state.Status = o.Final
	state.SN = o.SN
	state.Reason = o.Reason
	return state
}

func (u *Upstream) Stats() map[OrderStatus]int {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[OrderStatus]int)
	for _, o := range u.orders {
		if o.Calls <= u.pendingCalls {
			out[OrderPending]++
			continue
		}
		out[o.Final]++
	}
	return out
}

func (u *Upstream) newOrder(refID, sku string) *order {
	h := fnv.New64a()
	_, _ = h.Write([]byte(refID))
	sum := h.Sum64()

	o := &order{
		TrxID:   strings.ToUpper(strings.ReplaceAll(uuid.NewSHA1(trxNamespace, []byte(refID)).String(), "-", "")[:16]),
		Price:   u.basePrice + int64(len(sku))*100,
		Created: time.Now(),
	}
	if float64(sum%1000)/1000 < u.successRate {
		o.Final = OrderSukses
		o.SN = fmt.Sprintf("%020d", sum%100000000000000000)
		return o
	}
	o.Final = OrderGagal
	o.Reason = failureReasons[sum%uint64(len(failureReasons))]
	return o
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
