package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	n42errors "github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/xml"
)

const validDoc = `<?xml version="1.0"?>
<RadInstrumentData xmlns="http://physics.nist.gov/N42/2011/N42">
  <RadInstrumentInformation id="RadInstrumentInformation-1"/>
  <RadDetectorInformation id="RadDetectorInformation-1"/>
  <EnergyCalibration id="EnergyCalibration-1">
    <CoefficientValues>0 3 0.001</CoefficientValues>
  </EnergyCalibration>
  <RadMeasurement id="RadMeasurement-1">
    <RealTimeDuration>PT60S</RealTimeDuration>
    <Spectrum id="Spectrum-1">
      <LiveTimeDuration>PT59S</LiveTimeDuration>
      <ChannelData compressionCode="CountedZeroes">0 2 5</ChannelData>
    </Spectrum>
  </RadMeasurement>
</RadInstrumentData>`

func parse(t *testing.T, data string) *xml.Document {
	t.Helper()
	doc, err := xml.Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestDefaultAcceptsValidDocument(t *testing.T) {
	v, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if v.Version() != "2011" {
		t.Errorf("Version() = %q", v.Version())
	}
	if err := v.Validate(parse(t, validDoc)); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestDefaultRejects(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(string) string
		wantRule string
	}{
		{
			name: "wrong namespace",
			mutate: func(s string) string {
				return strings.Replace(s, "N42/2011/N42", "N42/2006/N42", 1)
			},
			wantRule: "RadInstrumentData",
		},
		{
			name: "missing real time",
			mutate: func(s string) string {
				return strings.Replace(s, "<RealTimeDuration>PT60S</RealTimeDuration>", "", 1)
			},
			wantRule: "RadMeasurement/RealTimeDuration",
		},
		{
			name: "duplicate live time",
			mutate: func(s string) string {
				return strings.Replace(s, "<LiveTimeDuration>PT59S</LiveTimeDuration>",
					"<LiveTimeDuration>PT59S</LiveTimeDuration><LiveTimeDuration>PT58S</LiveTimeDuration>", 1)
			},
			wantRule: "Spectrum/LiveTimeDuration",
		},
		{
			name: "unknown compression",
			mutate: func(s string) string {
				return strings.Replace(s, `compressionCode="CountedZeroes"`, `compressionCode="Gzip"`, 1)
			},
			wantRule: "ChannelData/@compressionCode",
		},
		{
			name: "missing detector",
			mutate: func(s string) string {
				return strings.Replace(s, `<RadDetectorInformation id="RadDetectorInformation-1"/>`, "", 1)
			},
			wantRule: "RadDetectorInformation",
		},
	}

	v, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(parse(t, tt.mutate(validDoc)))
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !errors.Is(err, n42errors.ErrInvalidInput) {
				t.Errorf("error %v does not match ErrInvalidInput", err)
			}
			var ve *n42errors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error is %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantRule) {
				t.Errorf("error %q does not name rule %q", err, tt.wantRule)
			}
		})
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]*ProfileValidator, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = Default()
		}(i)
	}
	wg.Wait()
	for i := range got {
		if got[i] != got[0] {
			t.Fatal("Default() returned different validators")
		}
	}
}

func TestConcurrentValidate(t *testing.T) {
	v, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	good := parse(t, validDoc)
	bad := parse(t, strings.Replace(validDoc, "<RealTimeDuration>PT60S</RealTimeDuration>", "", 1))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if i%2 == 0 {
					if err := v.Validate(good); err != nil {
						errs <- err
						return
					}
					continue
				}
				err := v.Validate(bad)
				var ve *n42errors.ValidationError
				if !errors.As(err, &ve) || ve.Field != "RadMeasurement/RealTimeDuration" {
					errs <- fmt.Errorf("invalid document: error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: [\n"},
		{"no rules", "version: x\n"},
		{"no bounds", "rules:\n  - name: r\n    xpath: count(/*)\n"},
		{"bad xpath", "rules:\n  - name: r\n    xpath: count(/[\n    max: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile([]byte(tt.yaml)); err == nil {
				t.Error("Compile should fail")
			}
		})
	}
}

func TestValidatorFunc(t *testing.T) {
	called := false
	var v Validator = ValidatorFunc(func(*xml.Document) error {
		called = true
		return n42errors.NewValidation("stub", "rejected")
	})
	if err := v.Validate(parse(t, validDoc)); err == nil || !called {
		t.Error("stub validator not used")
	}
	if err := Nop.Validate(parse(t, "<x/>")); err != nil {
		t.Errorf("Nop.Validate() = %v", err)
	}
}
