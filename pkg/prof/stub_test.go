//go:build !profile

package prof

import (
	"errors"
	"testing"
)

func TestStubRejectsProfiles(t *testing.T) {
	if err := Start(Config{}); err != nil {
		t.Errorf("Start(empty) = %v, want nil", err)
	}
	if err := Start(Config{CPUPath: "cpu.prof"}); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("Start(cpu) = %v, want %v", err, ErrNotEnabled)
	}
	if Active() {
		t.Error("Active() = true")
	}
	if err := Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}
