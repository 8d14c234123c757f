package domain

import "time"

// Thresholds centralizes every tuning constant of the detection pipeline.
// The defaults are fixed so repeated runs over the same input are
// bit-exact; changing any value changes detection output.
type Thresholds struct {
	// Smurfing: distinct counterparties within the window, either direction.
	SmurfCounterparties int
	SmurfWindow         time.Duration

	// Cycles: reported simple cycle lengths, inclusive.
	CycleMinLength int
	CycleMaxLength int

	// Shell chains: minimum hops and the activity band that makes an
	// intermediate shell-like.
	ShellMinHops          int
	ShellMinIntermediateTx int
	ShellMaxIntermediateTx int
	ShellMaxDepth          int

	// Velocity: outbound transactions within the window.
	VelocityCount  int
	VelocityWindow time.Duration

	// Score contributions, applied additively and capped at MaxScore.
	CycleWeight        float64
	FanInWeight        float64
	FanOutWeight       float64
	ShellChainWeight   float64
	HighVelocityWeight float64
	MaxScore           float64

	// Payroll exemption: senders with at least PayrollMinCount outbound
	// amounts and coefficient of variation strictly below PayrollCVCap.
	PayrollMinCount int
	PayrollCVCap    float64
}

// DefaultThresholds returns the reference tuning constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SmurfCounterparties: 10,
		SmurfWindow:         72 * time.Hour,

		CycleMinLength: 3,
		CycleMaxLength: 5,

		ShellMinHops:           3,
		ShellMinIntermediateTx: 2,
		ShellMaxIntermediateTx: 3,
		ShellMaxDepth:          6,

		VelocityCount:  20,
		VelocityWindow: 24 * time.Hour,

		CycleWeight:        40,
		FanInWeight:        25,
		FanOutWeight:       25,
		ShellChainWeight:   20,
		HighVelocityWeight: 10,
		MaxScore:           100,

		PayrollMinCount: 10,
		PayrollCVCap:    0.05,
	}
}
