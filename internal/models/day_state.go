package models

import (
	"fmt"
	"time"
)

// DayState represents where the day's re-entry loop currently is
type DayState string

const (
	// DayActive means another entry attempt is pending
	DayActive DayState = "active"
	// DayStopped is terminal: no more attempts for this date
	DayStopped DayState = "stopped"
)

// DayStopCause explains why a day stopped.
type DayStopCause string

const (
	CauseNone                DayStopCause = ""
	CauseNormalExit          DayStopCause = "NormalExit"          // TakeProfit or EndOfWindow
	CauseReentryLimitReached DayStopCause = "ReentryLimitReached" // StopLoss with no re-entries left
	CauseMaxLossReached      DayStopCause = "MaxLossReached"      // daily loss cap hit before an attempt
	CauseDataGap             DayStopCause = "DataGap"             // missing bars, prices or provider failure
	CauseSimulationError     DayStopCause = "SimulationError"     // e.g. non-positive entry premium
)

// ConditionReenter is the Active->Active transition taken after a stop-loss.
const ConditionReenter = "reenter"

// DayTransition defines a valid day-state transition
type DayTransition struct {
	From        DayState
	To          DayState
	Condition   string
	Description string
}

// ValidDayTransitions lists every transition the re-entry loop may take.
var ValidDayTransitions = []DayTransition{
	{DayActive, DayActive, ConditionReenter, "Stop-loss hit, re-entering at a new strike"},
	{DayActive, DayStopped, string(CauseNormalExit), "Take-profit or end of window"},
	{DayActive, DayStopped, string(CauseReentryLimitReached), "Stop-loss hit with no re-entries left"},
	{DayActive, DayStopped, string(CauseMaxLossReached), "Daily loss cap reached"},
	{DayActive, DayStopped, string(CauseDataGap), "Required market data missing"},
	{DayActive, DayStopped, string(CauseSimulationError), "Entry attempt could not be simulated"},
}

// DayStateMachine tracks one date's Active/Stopped lifecycle and bounds
// the number of re-entries.
type DayStateMachine struct {
	transitionCount map[string]int
	currentState    DayState
	cause           DayStopCause
	entryTime       time.Time
	underlying      float64
	reentryCount    int
	maxReentries    int
}

// NewDayStateMachine starts Active at the given entry time and underlying price.
func NewDayStateMachine(entryTime time.Time, underlying float64, maxReentries int) *DayStateMachine {
	return &DayStateMachine{
		transitionCount: make(map[string]int),
		currentState:    DayActive,
		entryTime:       entryTime,
		underlying:      underlying,
		maxReentries:    maxReentries,
	}
}

// State returns the current state
func (sm *DayStateMachine) State() DayState {
	return sm.currentState
}

// Cause returns why the day stopped, or CauseNone while active
func (sm *DayStateMachine) Cause() DayStopCause {
	return sm.cause
}

// EntryTime returns the pending attempt's entry time
func (sm *DayStateMachine) EntryTime() time.Time {
	return sm.entryTime
}

// Underlying returns the underlying price the pending attempt is struck from
func (sm *DayStateMachine) Underlying() float64 {
	return sm.underlying
}

// ReentryCount returns how many re-entries have been taken
func (sm *DayStateMachine) ReentryCount() int {
	return sm.reentryCount
}

// CanReenter returns true if the re-entry limit has not been reached
func (sm *DayStateMachine) CanReenter() bool {
	return sm.reentryCount < sm.maxReentries
}

// IsValidTransition checks if a transition is defined and within limits
func (sm *DayStateMachine) IsValidTransition(to DayState, condition string) error {
	defined := false
	for _, t := range ValidDayTransitions {
		if t.From == sm.currentState && t.To == to && t.Condition == condition {
			defined = true
			break
		}
	}
	if !defined {
		return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
			sm.currentState, to, condition)
	}
	if condition == ConditionReenter && !sm.CanReenter() {
		return fmt.Errorf("maximum re-entries (%d) exceeded", sm.maxReentries)
	}
	return nil
}

// Reenter moves the pending attempt to a new entry time and underlying price.
func (sm *DayStateMachine) Reenter(entryTime time.Time, underlying float64) error {
	if err := sm.IsValidTransition(DayActive, ConditionReenter); err != nil {
		return err
	}
	sm.entryTime = entryTime
	sm.underlying = underlying
	sm.reentryCount++
	sm.transitionCount[ConditionReenter]++
	return nil
}

// Stop moves the day to its terminal state.
func (sm *DayStateMachine) Stop(cause DayStopCause) error {
	if err := sm.IsValidTransition(DayStopped, string(cause)); err != nil {
		return err
	}
	sm.currentState = DayStopped
	sm.cause = cause
	sm.transitionCount[string(cause)]++
	return nil
}

// GetTransitionCount returns how many times a condition was taken
func (sm *DayStateMachine) GetTransitionCount(condition string) int {
	return sm.transitionCount[condition]
}

// DayOutcome is the observable per-date result of a backtest.
type DayOutcome struct {
	Date      string       `json:"date"`
	Expiry    string       `json:"expiry"`
	Skipped   bool         `json:"skipped"` // no underlying price; nothing attempted
	Cause     DayStopCause `json:"cause,omitempty"`
	Error     string       `json:"error,omitempty"`
	Trades    int          `json:"trades"`
	Reentries int          `json:"reentries"`
	NetPnL    float64      `json:"net_pnl"`
}
