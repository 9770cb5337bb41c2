package engine

import "errors"

// Error taxonomy surfaced to callers of the engine

var (
	// ErrConfig marks a run that must not start: bad regime, non-positive
	// timesteps, bad window, unsupported operator.
	ErrConfig = errors.New("config error")
	// ErrMissingSignal marks a reference to a signal that was never computed.
	ErrMissingSignal = errors.New("missing signal")
	// ErrUnknownSignal marks a signal name nothing in the catalog recognizes.
	ErrUnknownSignal = errors.New("unknown signal")
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e APIError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

var (
	ErrCodeConfig         = APIError{Code: "CONFIG_ERROR", Message: "Invalid run configuration"}
	ErrCodeMissingSignal  = APIError{Code: "MISSING_SIGNAL", Message: "Referenced signal was not computed"}
	ErrCodeUnknownSignal  = APIError{Code: "UNKNOWN_SIGNAL", Message: "Unrecognized signal name"}
	ErrCodeInvalidRequest = APIError{Code: "INVALID_REQUEST", Message: "Invalid request"}
	ErrCodeExecution      = APIError{Code: "EXECUTION_FAILED", Message: "Simulation failed"}
)

// ToAPIError classifies err into the taxonomy. An error that is already an
// APIError is returned unchanged.
func ToAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	out := ErrCodeExecution
	switch {
	case errors.Is(err, ErrMissingSignal):
		out = ErrCodeMissingSignal
	case errors.Is(err, ErrUnknownSignal):
		out = ErrCodeUnknownSignal
	case errors.Is(err, ErrConfig):
		out = ErrCodeConfig
	}
	if err != nil {
		out.Details = err.Error()
	}
	return out
}
