package networking

import (
	"errors"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestValidatePSK(t *testing.T) {
	test.That(t, validatePSK(""), test.ShouldBeNil)
	test.That(t, validatePSK("12345678"), test.ShouldBeNil)
	test.That(t, validatePSK(strings.Repeat("a", 63)), test.ShouldBeNil)

	err := validatePSK("short")
	test.That(t, errors.Is(err, ErrBadPassword), test.ShouldBeTrue)
	err = validatePSK(strings.Repeat("a", 64))
	test.That(t, errors.Is(err, ErrBadPassword), test.ShouldBeTrue)
}

func TestSignalFromDBM(t *testing.T) {
	test.That(t, signalFromDBM(-120), test.ShouldEqual, uint8(0))
	test.That(t, signalFromDBM(-100), test.ShouldEqual, uint8(0))
	test.That(t, signalFromDBM(-75), test.ShouldEqual, uint8(50))
	test.That(t, signalFromDBM(-50), test.ShouldEqual, uint8(100))
	test.That(t, signalFromDBM(-30), test.ShouldEqual, uint8(100))
}

func TestAccessPointIsOpen(t *testing.T) {
	test.That(t, AccessPoint{SSID: "a"}.IsOpen(), test.ShouldBeTrue)
	test.That(t, AccessPoint{SSID: "a", Security: SecurityOpen}.IsOpen(), test.ShouldBeTrue)
	test.That(t, AccessPoint{SSID: "a", Security: "WPA2"}.IsOpen(), test.ShouldBeFalse)
}
