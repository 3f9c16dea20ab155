package domain

import (
	"math"
	"slices"
)

// MaxQuantity bounds a single demand and the per-slot total of a request.
// It matches the width of the persisted availability columns.
const MaxQuantity = math.MaxInt32

// Demand is a request for Quantity spaces on one slot.
type Demand struct {
	SlotID   int64 `json:"slotId"`
	Quantity int   `json:"quantity"`
}

type ReasonCode string

const (
	ReasonNotFound          ReasonCode = "not_found"
	ReasonInsufficientSpace ReasonCode = "insufficient_space"
	ReasonInvalidQuantity   ReasonCode = "invalid_quantity"
	// ReasonUnknown marks a slot whose state could not be read while the
	// rejection was being explained.
	ReasonUnknown ReasonCode = "unknown"
)

type Reason struct {
	Code      ReasonCode `json:"code"`
	Requested int        `json:"requested,omitempty"`
	Available int        `json:"available,omitempty"`
}

func NotFound() Reason {
	return Reason{Code: ReasonNotFound}
}

func InsufficientSpace(requested, available int) Reason {
	return Reason{Code: ReasonInsufficientSpace, Requested: requested, Available: available}
}

// Result is the outcome of a reservation attempt. When Committed is false
// nothing was applied; Reasons (or Invalid, for a malformed request) says why.
type Result struct {
	Committed bool             `json:"committed"`
	Demands   []Demand         `json:"demands,omitempty"`
	Reasons   map[int64]Reason `json:"reasons,omitempty"`
	Invalid   string           `json:"invalid,omitempty"`
}

func Committed(demands []Demand) Result {
	return Result{Committed: true, Demands: demands}
}

func Rejected(reasons map[int64]Reason) Result {
	return Result{Reasons: reasons}
}

func Invalid(reason string) Result {
	return Result{Invalid: reason}
}

// HasReason reports whether any rejected slot failed with code.
func (r Result) HasReason(code ReasonCode) bool {
	for _, reason := range r.Reasons {
		if reason.Code == code {
			return true
		}
	}
	return false
}

// Coalesce sums quantities per slot and returns the demands ordered by
// ascending slot id. Non-positive quantities, and per-slot totals above
// MaxQuantity, are reported per slot instead.
func Coalesce(items []Demand) ([]Demand, map[int64]Reason) {
	totals := make(map[int64]int, len(items))
	var invalid map[int64]Reason

	reject := func(id int64, requested int) {
		if invalid == nil {
			invalid = make(map[int64]Reason)
		}
		invalid[id] = Reason{Code: ReasonInvalidQuantity, Requested: requested}
	}

	for _, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			reject(item.SlotID, item.Quantity)
			continue
		}
		// Both operands are at most MaxQuantity, so the sum cannot wrap.
		total := totals[item.SlotID] + item.Quantity
		if total > MaxQuantity {
			reject(item.SlotID, total)
			continue
		}
		totals[item.SlotID] = total
	}
	if invalid != nil {
		return nil, invalid
	}

	demands := make([]Demand, 0, len(totals))
	for id, qty := range totals {
		demands = append(demands, Demand{SlotID: id, Quantity: qty})
	}
	slices.SortFunc(demands, func(a, b Demand) int {
		switch {
		case a.SlotID < b.SlotID:
			return -1
		case a.SlotID > b.SlotID:
			return 1
		}
		return 0
	})

	return demands, nil
}
