package utils

import "testing"

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%v) returned nil logger", debug)
		}
		if ce := logger.Check(-1, "debug"); (ce != nil) != debug {
			t.Errorf("NewLogger(%v): debug level enabled = %v", debug, ce != nil)
		}
		_ = logger.Sync()
	}
}
