package checkout

import (
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
)

type StateName string

const (
	StateLoading         StateName = "loading"
	StateOrderNotFound   StateName = "order_not_found"
	StateSelectingMethod StateName = "selecting_method"
	StateFillingForm     StateName = "filling_form"
	StateSubmitting      StateName = "submitting"
	StateAwaitingOutcome StateName = "awaiting_outcome"
	StateSuccess         StateName = "success"
	StateFailed          StateName = "failed"
	StateError           StateName = "error"
)

// State is the single value the checkout page renders from. Values are immutable once published.
type State interface {
	Name() StateName
	isState()
}

type Loading struct {
	OrderID string
}

type OrderNotFound struct {
	OrderID string
}

type SelectingMethod struct {
	Order checkoutDatamodel.Order
}

// FillingForm.Message holds the last submission or validation error, if any.
type FillingForm struct {
	Order   checkoutDatamodel.Order
	Method  checkoutDatamodel.PaymentMethod
	Fields  map[string]string
	Missing []string
	Message string
}

type Submitting struct {
	Order  checkoutDatamodel.Order
	Method checkoutDatamodel.PaymentMethod
}

type AwaitingOutcome struct {
	Order     checkoutDatamodel.Order
	PaymentID string
	Status    checkoutDatamodel.PaymentStatus
}

type Success struct {
	PaymentID string
}

type Failed struct {
	PaymentID string
	Reason    string
}

type Error struct {
	Message string
}

func (Loading) Name() StateName         { return StateLoading }
func (OrderNotFound) Name() StateName   { return StateOrderNotFound }
func (SelectingMethod) Name() StateName { return StateSelectingMethod }
func (FillingForm) Name() StateName     { return StateFillingForm }
func (Submitting) Name() StateName      { return StateSubmitting }
func (AwaitingOutcome) Name() StateName { return StateAwaitingOutcome }
func (Success) Name() StateName         { return StateSuccess }
func (Failed) Name() StateName          { return StateFailed }
func (Error) Name() StateName           { return StateError }

func (Loading) isState()         {}
func (OrderNotFound) isState()   {}
func (SelectingMethod) isState() {}
func (FillingForm) isState()     {}
func (Submitting) isState()      {}
func (AwaitingOutcome) isState() {}
func (Success) isState()         {}
func (Failed) isState()          {}
func (Error) isState()           {}

// IsTerminal reports whether no user action other than teardown (or retry, for Failed and Error) applies.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Success, Failed, OrderNotFound, Error:
		return true
	}
	return false
}
