package modbus

import (
	"errors"
	"testing"
)

func assertUint16Equal(t *testing.T, expected []uint16, actual []uint16) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("Expected length %d, but got %d", len(expected), len(actual))
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Fatalf("Expected %v, but got %v", expected, actual)
		}
	}
}

func assertBoolEqual(t *testing.T, expected []bool, actual []bool) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("Expected length %d, but got %d", len(expected), len(actual))
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Fatalf("Expected %v, but got %v", expected, actual)
		}
	}
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %v error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("Expected %v error, got %v (%v)", kind, got, err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error, got %T", err)
	}
}
