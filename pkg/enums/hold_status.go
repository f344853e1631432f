package enums

// HoldStatus is the derived lifecycle state of a hold ref. It is never
// stored; it is computed from the ledger entries sharing the ref.
type HoldStatus string

const (
	HoldStatusHeld     HoldStatus = "held"
	HoldStatusCaptured HoldStatus = "captured"
	HoldStatusVoided   HoldStatus = "voided"
)

// Terminal reports whether the hold can no longer change state.
func (s HoldStatus) Terminal() bool {
	return s == HoldStatusCaptured || s == HoldStatusVoided
}
