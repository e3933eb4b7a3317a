package policy

import (
	"testing"

	"github.com/BertoldVdb/gpiosrv/gpio"
)

func TestVersion(t *testing.T) {
	if uint32(Threshold) != 0x022C0600 {
		t.Errorf("Threshold is 0x%08x", uint32(Threshold))
	}

	v, err := ParseVersion("2.50.11")
	if err != nil || v != SystemVersion(2, 50, 11) {
		t.Error("ParseVersion failed", v, err)
	}
	if v.String() != "2.50.11" {
		t.Error("String wrong", v.String())
	}

	_, err = ParseVersion("banana")
	if err == nil {
		t.Error("Invalid version accepted")
	}

	if (SystemVersion(2, 44, 6) | 0x7F).Kernel() != Threshold {
		t.Error("Kernel did not drop low byte")
	}
}

func TestLegacy(t *testing.T) {
	p := New(SystemVersion(2, 44, 5) | 0xFF)

	if !p.Legacy() || p.ServiceCount() != 5 {
		t.Fatal("Pre threshold policy wrong", p.ServiceCount())
	}
	if p.IndexMax() != 11 || p.RemoteSessionIndex() != 6 || p.SessionCapacity() != 5 {
		t.Error("Pre threshold constants wrong", p.IndexMax(), p.RemoteSessionIndex())
	}
	if p.Service(4).Name != "gpio:IR" || p.Service(4).Mask != gpio.MaskIRLegacy {
		t.Error("Legacy IR mask not used")
	}
}

func TestCurrent(t *testing.T) {
	p := New(Threshold)

	if p.Legacy() || p.ServiceCount() != 7 {
		t.Fatal("Post threshold policy wrong", p.ServiceCount())
	}
	if p.IndexMax() != 15 || p.RemoteSessionIndex() != 8 || p.SessionCapacity() != 7 {
		t.Error("Post threshold constants wrong", p.IndexMax(), p.RemoteSessionIndex())
	}
	if p.Service(4).Mask != gpio.MaskIR {
		t.Error("IR mask wrong")
	}
	if p.Service(6).Name != "gpio:QTM" {
		t.Error("QTM missing")
	}

	s := p.Services()
	s[0].Mask = 0
	if p.Service(0).Mask != gpio.MaskCDC {
		t.Error("Services did not return a copy")
	}
}
