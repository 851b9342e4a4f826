package consts

// Topic tokens
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokBoard      = "board"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
)

// Control verbs
const (
	CtrlReadNow   = "read_now"
	CtrlSetRate   = "set_rate"
	CtrlCalibrate = "calibrate"

	CtrlCalibrateAcid    = "calibrate_acid"
	CtrlCalibrateNeutral = "calibrate_neutral"
	CtrlCalibrateBase    = "calibrate_base"
)

// Resource that serialises all analog sampling.
const ResADC = "adc"

// HAL state levels
const (
	LevelIdle    = "idle"
	LevelReady   = "ready"
	LevelStopped = "stopped"
	LevelError   = "error"
)
