package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with ID",
			err:      &NotFoundError{Resource: "document", ID: "abc"},
			wantMsg:  "document not found: abc",
			wantBase: ErrNotFound,
		},
		{
			name:     "without ID",
			err:      &NotFoundError{Resource: "blob"},
			wantMsg:  "blob not found",
			wantBase: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, tt.wantBase) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.wantBase)
			}
		})
	}

	t.Run("with underlying error", func(t *testing.T) {
		underlyingErr := fmt.Errorf("disk error")
		err := &NotFoundError{Resource: "blob", ID: "ff", Err: underlyingErr}
		if got := err.Unwrap(); got != underlyingErr {
			t.Errorf("Unwrap() = %v, want %v", got, underlyingErr)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("error with cause should still match ErrNotFound")
		}
	})
}

func TestStructureError(t *testing.T) {
	tests := []struct {
		name    string
		err     *StructureError
		wantMsg string
	}{
		{
			name:    "cardinality",
			err:     NewCardinality("RealTimeDuration", "RadMeasurement M1", "exactly one", 0),
			wantMsg: "structure violation: RealTimeDuration in RadMeasurement M1: expected exactly one, found 0",
		},
		{
			name:    "message",
			err:     &StructureError{Element: "root", Message: "unexpected tag foo"},
			wantMsg: "structure violation: root: unexpected tag foo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrStructure) {
				t.Error("expected ErrStructure")
			}
		})
	}
}

func TestKindsUnwrapToSentinels(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"extension", &ExtensionError{Path: "a.xml", Got: ".xml", Expected: ".n42"}, ErrExtension},
		{"format", NewFormat("duration", "P1D"), ErrFormat},
		{"format with cause", &FormatError{Kind: "timestamp", Value: "x", Err: cause}, ErrFormat},
		{"decode", &DecodeError{Position: 3, Message: "missing count"}, ErrDecode},
		{"decode with cause", &DecodeError{Position: 1, Token: "x", Err: cause}, ErrDecode},
		{"calibration", &CalibrationError{ID: "EC1", Message: "no coefficients"}, ErrCalibration},
		{"validation", NewValidation("RadInstrumentData", "missing"), ErrInvalidInput},
		{"parse", NewParse("XML", "", "bad"), ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.want)
			}
			wrapped := Wrap(tt.err, "outer")
			if !Is(wrapped, tt.want) {
				t.Errorf("wrapped error lost kind %v", tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"extension", &ExtensionError{Path: "a.xml", Got: ".xml", Expected: ".n42"}, "file extension is incorrect for a.xml: got .xml, want .n42"},
		{"extension none", &ExtensionError{Path: "a", Expected: ".n42"}, "file extension is incorrect for a: got (none), want .n42"},
		{"format", NewFormat("duration", "P1D"), `invalid duration "P1D"`},
		{"decode token", &DecodeError{Position: 2, Token: "x", Message: "not an integer"}, `decode failed at token 2 ("x"): not an integer`},
		{"decode eof", &DecodeError{Position: 4, Message: "missing count"}, "decode failed at token 4: missing count"},
		{"calibration", &CalibrationError{Message: "no coefficients"}, "invalid calibration: no coefficients"},
		{"io", NewIO("read", "/tmp/x", fmt.Errorf("denied")), "failed to read /tmp/x: denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	err := Wrapf(&DecodeError{Position: 7, Message: "missing count"}, "spectrum %s", "S1")
	var de *DecodeError
	if !As(err, &de) {
		t.Fatal("As should find DecodeError")
	}
	if de.Position != 7 {
		t.Errorf("Position = %d, want 7", de.Position)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
