// Package n42 reads and writes ANSI N42.42-2011 radiation measurement
// documents.
//
// A Document owns every record parsed from one file. Instruments, detectors
// and calibrations are indexed by their id attribute. Measurements keep
// document order and own their spectra. A spectrum refers to its energy
// calibration by id only, so one calibration can serve many spectra.
package n42

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/FocuswithJustin/n42kit/core/calibration"
	"github.com/FocuswithJustin/n42kit/core/channeldata"
)

// Namespace is the N42.42-2011 namespace URI.
const Namespace = "http://physics.nist.gov/N42/2011/N42"

// Extension is the required file extension, compared case-insensitively.
const Extension = ".n42"

// Element local names.
const (
	ElemRoot                  = "RadInstrumentData"
	ElemInstrumentInformation = "RadInstrumentInformation"
	ElemDetectorInformation   = "RadDetectorInformation"
	ElemEnergyCalibration     = "EnergyCalibration"
	ElemFWHMCalibration       = "FWHMCalibration"
	ElemCoefficientValues     = "CoefficientValues"
	ElemEnergyValues          = "EnergyValues"
	ElemFWHMValues            = "FWHMValues"
	ElemMeasurement           = "RadMeasurement"
	ElemClassCode             = "MeasurementClassCode"
	ElemStartDateTime         = "StartDateTime"
	ElemRealTimeDuration      = "RealTimeDuration"
	ElemSpectrum              = "Spectrum"
	ElemLiveTimeDuration      = "LiveTimeDuration"
	ElemChannelData           = "ChannelData"
)

// Attribute names.
const (
	AttrID                   = "id"
	AttrCompressionCode      = "compressionCode"
	AttrEnergyCalibrationRef = "energyCalibrationReference"
	AttrFWHMCalibrationRef   = "FWHMCalibrationReference"
	AttrDetectorRef          = "radDetectorInformationReference"
)

// Document is one parsed N42 file.
type Document struct {
	Instruments        map[string]InstrumentInfo
	Detectors          map[string]DetectorInfo
	EnergyCalibrations map[string]EnergyCalibration
	FWHMCalibrations   map[string]FWHMCalibration
	Measurements       []Measurement
}

// InstrumentInfo is a RadInstrumentInformation section. Fields maps each
// leaf child element name to its trimmed text.
type InstrumentInfo struct {
	ID     string
	Fields map[string]string
}

// DetectorInfo is a RadDetectorInformation section.
type DetectorInfo struct {
	ID     string
	Fields map[string]string
}

// EnergyCalibration is a polynomial channel-to-energy mapping.
type EnergyCalibration struct {
	ID         string
	Polynomial *calibration.Polynomial
}

// FWHMCalibration is collected for downstream consumers and never applied
// here. Any of the value lists may be empty.
type FWHMCalibration struct {
	ID           string
	Coefficients []float64
	EnergyValues []float64
	FWHMValues   []float64
}

// Measurement is a RadMeasurement.
type Measurement struct {
	ID         string
	ClassCodes []string
	StartTime  *time.Time
	RealTime   float64 // seconds
	Spectra    []Spectrum
}

// Spectrum is one spectrum within a measurement.
type Spectrum struct {
	ID       string
	LiveTime float64 // seconds
	// Counts holds every ChannelData block of the spectrum, concatenated in
	// document order.
	Counts []uint64
	// Compression is the encoding of the last ChannelData block read, reused
	// when the spectrum is written back.
	Compression    channeldata.Compression
	CalibrationRef string
	FWHMRef        string
	DetectorRef    string
}

// Channels returns the number of channels.
func (s *Spectrum) Channels() int {
	return len(s.Counts)
}

// TotalCounts sums all channel counts.
func (s *Spectrum) TotalCounts() uint64 {
	return lo.Sum(s.Counts)
}

func newDocument() *Document {
	return &Document{
		Instruments:        make(map[string]InstrumentInfo),
		Detectors:          make(map[string]DetectorInfo),
		EnergyCalibrations: make(map[string]EnergyCalibration),
		FWHMCalibrations:   make(map[string]FWHMCalibration),
	}
}

// SpectrumCount returns the number of spectra across all measurements.
func (d *Document) SpectrumCount() int {
	n := 0
	for i := range d.Measurements {
		n += len(d.Measurements[i].Spectra)
	}
	return n
}

// Calibration resolves the energy calibration of s, if any.
func (d *Document) Calibration(s *Spectrum) (*calibration.Polynomial, bool) {
	if s.CalibrationRef == "" {
		return nil, false
	}
	cal, ok := d.EnergyCalibrations[s.CalibrationRef]
	if !ok || cal.Polynomial == nil {
		return nil, false
	}
	return cal.Polynomial, true
}

// Energies returns the Channels()+1 channel boundary energies of s, or false
// when s is uncalibrated. The result is computed on every call.
func (d *Document) Energies(s *Spectrum) ([]float64, bool) {
	p, ok := d.Calibration(s)
	if !ok {
		return nil, false
	}
	return p.Edges(s.Channels()), true
}

// BinWidths returns the Channels() energy bin widths of s, or false when s
// is uncalibrated.
func (d *Document) BinWidths(s *Spectrum) ([]float64, bool) {
	p, ok := d.Calibration(s)
	if !ok {
		return nil, false
	}
	return p.BinWidths(s.Channels()), true
}

// Centers returns the midpoint energy of each channel of s, or false when s
// is uncalibrated.
func (d *Document) Centers(s *Spectrum) ([]float64, bool) {
	p, ok := d.Calibration(s)
	if !ok {
		return nil, false
	}
	return p.Centers(s.Channels()), true
}

// FindSpectrum returns the first spectrum with the given id.
func (d *Document) FindSpectrum(id string) (*Measurement, *Spectrum, bool) {
	for i := range d.Measurements {
		m := &d.Measurements[i]
		for j := range m.Spectra {
			if m.Spectra[j].ID == id {
				return m, &m.Spectra[j], true
			}
		}
	}
	return nil, nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
