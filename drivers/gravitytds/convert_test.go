package gravitytds

import (
	"testing"

	"go.viam.com/test"
)

func TestDFRobotReferencePoint(t *testing.T) {
	ppm, err := DFRobot{K: 1, Factor: DefaultTDSFactor}.PPM(1.40, 25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ppm, test.ShouldAlmostEqual, 532.5, 0.5)

	ppm, err = DFRobot{K: 1, Factor: DefaultTDSFactor}.PPM(0, 25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ppm, test.ShouldEqual, 0)
}

func TestCompensationRange(t *testing.T) {
	c, err := compensation(25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, 1.0)

	_, err = compensation(-26)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Linear{Slope: 100}.PPM(1, -30)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestECRawIncreasing(t *testing.T) {
	prev := ECRaw(0)
	for v := 0.01; v <= 3.3; v += 0.01 {
		cur := ECRaw(v)
		test.That(t, cur, test.ShouldBeGreaterThan, prev)
		prev = cur
	}
}

func TestFahrenheitToCelsius(t *testing.T) {
	test.That(t, FahrenheitToCelsius(212), test.ShouldAlmostEqual, 100.0, 1e-9)
	test.That(t, FahrenheitToCelsius(32), test.ShouldEqual, 0.0)

	tr := NewTrackedTemperature(false)
	_, ok := tr.Celsius()
	test.That(t, ok, test.ShouldBeFalse)
	tr.Set(18.5)
	c, ok := tr.Celsius()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldEqual, 18.5)
}
