package consts

import "testing"

func TestTokens(t *testing.T) {
	if TokConfig != "config" || TokHAL != "hal" || TokCapability != "capability" {
		t.Fatal("top-level tokens changed unexpectedly")
	}
	if CtrlReadNow != "read_now" || CtrlSetRate != "set_rate" || CtrlCalibrate != "calibrate" {
		t.Fatal("control tokens changed unexpectedly")
	}
	if CtrlCalibrateAcid != "calibrate_acid" || CtrlCalibrateNeutral != "calibrate_neutral" || CtrlCalibrateBase != "calibrate_base" {
		t.Fatal("ph calibration tokens changed unexpectedly")
	}
}
