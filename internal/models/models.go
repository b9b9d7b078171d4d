// Package models provides domain models for the trading application.
package models

import (
	"time"
)

// Signal is a directional opinion.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalWait  Signal = "WAIT"
)

// Valid reports whether s is one of the known signals.
func (s Signal) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalWait:
		return true
	}
	return false
}

// Directional reports whether the signal asks for a position.
func (s Signal) Directional() bool {
	return s == SignalLong || s == SignalShort
}

// Action is the side of a position.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
)

// ActionFromSignal maps a directional signal to a position side.
func ActionFromSignal(s Signal) (Action, bool) {
	switch s {
	case SignalLong:
		return ActionLong, true
	case SignalShort:
		return ActionShort, true
	}
	return "", false
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
