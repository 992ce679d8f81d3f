package domain

// PathStatus is the execution state of a PathRecord. The states form a fixed
// forward ladder of four place/uncertain/placed/balance-good quadruples, one
// per leg, with three failure exits that any non-terminal state may take.
type PathStatus string

const (
	StatusBare           PathStatus = "bare"
	StatusProfitable     PathStatus = "profitable"
	StatusStart          PathStatus = "start"
	StatusBuy1Place      PathStatus = "buy1place"
	StatusBuy1Uncertain  PathStatus = "buy1uncertain"
	StatusBuy1Placed     PathStatus = "buy1placed"
	StatusBalance1Good   PathStatus = "balance1good"
	StatusSell2Place     PathStatus = "sell2place"
	StatusSell2Uncertain PathStatus = "sell2uncertain"
	StatusSell2Placed    PathStatus = "sell2placed"
	StatusBalance2Good   PathStatus = "balance2good"
	StatusBuy3Place      PathStatus = "buy3place"
	StatusBuy3Uncertain  PathStatus = "buy3uncertain"
	StatusBuy3Placed     PathStatus = "buy3placed"
	StatusBalance3Good   PathStatus = "balance3good"
	StatusSell4Place     PathStatus = "sell4place"
	StatusSell4Uncertain PathStatus = "sell4uncertain"
	StatusSell4Placed    PathStatus = "sell4placed"
	StatusBalance4Good   PathStatus = "balance4good"
	StatusDone           PathStatus = "done"
	StatusError          PathStatus = "error"
	StatusUnprofitable   PathStatus = "unprofitable"
	StatusUnrecoverable  PathStatus = "unrecoverable"
)

// statusOrder assigns each forward state its position on the ladder. Failure
// states are not on the ladder and map to -1.
var statusOrder = map[PathStatus]int{
	StatusBare:           0,
	StatusProfitable:     1,
	StatusStart:          2,
	StatusBuy1Place:      3,
	StatusBuy1Uncertain:  4,
	StatusBuy1Placed:     5,
	StatusBalance1Good:   6,
	StatusSell2Place:     7,
	StatusSell2Uncertain: 8,
	StatusSell2Placed:    9,
	StatusBalance2Good:   10,
	StatusBuy3Place:      11,
	StatusBuy3Uncertain:  12,
	StatusBuy3Placed:     13,
	StatusBalance3Good:   14,
	StatusSell4Place:     15,
	StatusSell4Uncertain: 16,
	StatusSell4Placed:    17,
	StatusBalance4Good:   18,
	StatusDone:           19,
}

// Valid reports whether s is one of the defined states.
func (s PathStatus) Valid() bool {
	if _, ok := statusOrder[s]; ok {
		return true
	}
	return s == StatusError || s == StatusUnprofitable || s == StatusUnrecoverable
}

// Terminal reports whether a record in this state needs no further work.
func (s PathStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusUnprofitable, StatusUnrecoverable:
		return true
	}
	return false
}

// Order returns the position of s on the forward ladder, or -1 for the
// failure states. Transitions must never decrease this value.
func (s PathStatus) Order() int {
	if n, ok := statusOrder[s]; ok {
		return n
	}
	return -1
}

// PlaceStatus returns the order-placement state for the given leg.
func PlaceStatus(step int) PathStatus {
	switch step {
	case 1:
		return StatusBuy1Place
	case 2:
		return StatusSell2Place
	case 3:
		return StatusBuy3Place
	case 4:
		return StatusSell4Place
	}
	return StatusError
}

// UncertainStatus returns the ambiguous-placement state for the given leg.
func UncertainStatus(step int) PathStatus {
	switch step {
	case 1:
		return StatusBuy1Uncertain
	case 2:
		return StatusSell2Uncertain
	case 3:
		return StatusBuy3Uncertain
	case 4:
		return StatusSell4Uncertain
	}
	return StatusError
}

// PlacedStatus returns the order-confirmed state for the given leg.
func PlacedStatus(step int) PathStatus {
	switch step {
	case 1:
		return StatusBuy1Placed
	case 2:
		return StatusSell2Placed
	case 3:
		return StatusBuy3Placed
	case 4:
		return StatusSell4Placed
	}
	return StatusError
}

// BalanceGoodStatus returns the balance-confirmed state for the given leg.
func BalanceGoodStatus(step int) PathStatus {
	switch step {
	case 1:
		return StatusBalance1Good
	case 2:
		return StatusBalance2Good
	case 3:
		return StatusBalance3Good
	case 4:
		return StatusBalance4Good
	}
	return StatusError
}

// NextStatus returns the state that follows a confirmed balance for the given
// leg: the next leg's placement state, or done after the fourth leg.
func NextStatus(step int) PathStatus {
	switch step {
	case 1:
		return StatusSell2Place
	case 2:
		return StatusBuy3Place
	case 3:
		return StatusSell4Place
	case 4:
		return StatusDone
	}
	return StatusError
}
