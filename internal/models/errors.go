package models

import "errors"

// Error kinds shared by the simulator, the day controller and the data providers.
var (
	// ErrDataGap is returned when a required bar or price is missing:
	// no bar at/after a timestamp, or an empty join window.
	ErrDataGap = errors.New("data gap")

	// ErrConfigInvalid is returned for parameters that make a calculation
	// impossible, e.g. a non-positive entry premium or a negative lot size.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrProviderUnavailable is returned when the market data collaborator
	// fails for I/O reasons rather than because data does not exist.
	ErrProviderUnavailable = errors.New("market data provider unavailable")
)
