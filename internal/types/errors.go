package types

import (
	"errors"
	"fmt"
)

// ErrorTag discriminates the error taxonomy returned by lifecycle
// operations. Tags are serialized verbatim on the wire.
type ErrorTag string

const (
	TagInvalidPayload        ErrorTag = "InvalidPayload"
	TagHeadCreationFailed    ErrorTag = "HeadCreationFailed"
	TagNotEnoughParticipants ErrorTag = "NotEnoughParticipants"
	TagHeadExists            ErrorTag = "HeadExists"
	TagHeadDoesntExist       ErrorTag = "HeadDoesntExist"
	TagNetworkIsntRunning    ErrorTag = "NetworkIsntRunning"
	TagFailedToBuildFundsTx  ErrorTag = "FailedToBuildFundsTx"
	TagNotAParticipant       ErrorTag = "NotAParticipant"
	TagInsufficientFunds     ErrorTag = "InsufficientFunds"
)

// HydraPayError is the tagged failure result returned by every public
// lifecycle operation. Only HeadExists carries a payload (the head name).
type HydraPayError struct {
	Tag  ErrorTag `json:"tag"`
	Name string   `json:"name,omitempty"`
}

func (e *HydraPayError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Tag, e.Name)
	}
	return string(e.Tag)
}

func ErrInvalidPayload() *HydraPayError        { return &HydraPayError{Tag: TagInvalidPayload} }
func ErrHeadCreationFailed() *HydraPayError    { return &HydraPayError{Tag: TagHeadCreationFailed} }
func ErrNotEnoughParticipants() *HydraPayError { return &HydraPayError{Tag: TagNotEnoughParticipants} }
func ErrHeadDoesntExist() *HydraPayError       { return &HydraPayError{Tag: TagHeadDoesntExist} }
func ErrNetworkIsntRunning() *HydraPayError    { return &HydraPayError{Tag: TagNetworkIsntRunning} }
func ErrFailedToBuildFundsTx() *HydraPayError  { return &HydraPayError{Tag: TagFailedToBuildFundsTx} }
func ErrNotAParticipant() *HydraPayError       { return &HydraPayError{Tag: TagNotAParticipant} }
func ErrInsufficientFunds() *HydraPayError     { return &HydraPayError{Tag: TagInsufficientFunds} }

// ErrHeadExists reports that a head with the given name already exists.
func ErrHeadExists(name string) *HydraPayError {
	return &HydraPayError{Tag: TagHeadExists, Name: name}
}

// AsHydraPayError unwraps err into a *HydraPayError when possible.
func AsHydraPayError(err error) (*HydraPayError, bool) {
	var hpErr *HydraPayError
	if errors.As(err, &hpErr) {
		return hpErr, true
	}
	return nil, false
}
