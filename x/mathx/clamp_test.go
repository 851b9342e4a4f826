package mathx

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestClamp(t *testing.T) {
	test.That(t, Clamp(5, 0, 3), test.ShouldEqual, 3)
	test.That(t, Clamp(-1, 0, 3), test.ShouldEqual, 0)
	test.That(t, Clamp(2, 3, 0), test.ShouldEqual, 2)
	test.That(t, Clamp(50*time.Millisecond, 200*time.Millisecond, time.Hour), test.ShouldEqual, 200*time.Millisecond)
}

func TestInsideIsExclusive(t *testing.T) {
	test.That(t, Inside(0.25, 0.25, 4.0), test.ShouldBeFalse)
	test.That(t, Inside(1.0, 0.25, 4.0), test.ShouldBeTrue)
	test.That(t, Inside(4.0, 0.25, 4.0), test.ShouldBeFalse)
}
