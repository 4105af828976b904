package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/FocuswithJustin/n42kit/core/n42"
)

type docSummary struct {
	Source             string               `json:"source"`
	Instruments        []string             `json:"instruments"`
	Detectors          []string             `json:"detectors"`
	EnergyCalibrations []string             `json:"energy_calibrations"`
	FWHMCalibrations   []string             `json:"fwhm_calibrations"`
	Measurements       []measurementSummary `json:"measurements"`
}

type measurementSummary struct {
	ID         string            `json:"id"`
	ClassCodes []string          `json:"class_codes"`
	StartTime  *time.Time        `json:"start_time,omitempty"`
	RealTime   float64           `json:"real_time_s"`
	Spectra    []spectrumSummary `json:"spectra"`
}

type spectrumSummary struct {
	ID          string  `json:"id"`
	Channels    int     `json:"channels"`
	TotalCounts uint64  `json:"total_counts"`
	LiveTime    float64 `json:"live_time_s"`
	Compression string  `json:"compression,omitempty"`
	Calibration string  `json:"calibration,omitempty"`
	Calibrated  bool    `json:"calibrated"`
	Degree      int     `json:"calibration_degree,omitempty"`
	// MinEnergy and MaxEnergy bound the calibrated range.
	MinEnergy float64 `json:"min_energy,omitempty"`
	MaxEnergy float64 `json:"max_energy,omitempty"`
}

func summarize(source string, doc *n42.Document) docSummary {
	s := docSummary{
		Source:             source,
		Instruments:        sortedIDs(doc.Instruments),
		Detectors:          sortedIDs(doc.Detectors),
		EnergyCalibrations: sortedIDs(doc.EnergyCalibrations),
		FWHMCalibrations:   sortedIDs(doc.FWHMCalibrations),
	}
	for i := range doc.Measurements {
		m := &doc.Measurements[i]
		ms := measurementSummary{
			ID:         m.ID,
			ClassCodes: m.ClassCodes,
			StartTime:  m.StartTime,
			RealTime:   m.RealTime,
		}
		for j := range m.Spectra {
			sp := &m.Spectra[j]
			ss := spectrumSummary{
				ID:          sp.ID,
				Channels:    sp.Channels(),
				TotalCounts: sp.TotalCounts(),
				LiveTime:    sp.LiveTime,
				Compression: sp.Compression.String(),
				Calibration: sp.CalibrationRef,
			}
			if p, ok := doc.Calibration(sp); ok {
				edges := p.Edges(sp.Channels())
				ss.Calibrated = true
				ss.Degree = p.Degree()
				ss.MinEnergy = lo.Min(edges)
				ss.MaxEnergy = lo.Max(edges)
			}
			ms.Spectra = append(ms.Spectra, ss)
		}
		s.Measurements = append(s.Measurements, ms)
	}
	return s
}

func sortedIDs[V any](m map[string]V) []string {
	ids := lo.Keys(m)
	slices.Sort(ids)
	return ids
}

func printSummary(w io.Writer, s docSummary) {
	fmt.Fprintln(w, s.Source)
	fmt.Fprintf(w, "  instruments: %d  detectors: %d  energy calibrations: %d  fwhm calibrations: %d\n",
		len(s.Instruments), len(s.Detectors), len(s.EnergyCalibrations), len(s.FWHMCalibrations))
	for _, m := range s.Measurements {
		start := "no start time"
		if m.StartTime != nil {
			start = m.StartTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %s [%s] %s real %gs\n", m.ID, strings.Join(m.ClassCodes, ","), start, m.RealTime)
		for _, sp := range m.Spectra {
			cal := "uncalibrated"
			if sp.Calibrated {
				cal = fmt.Sprintf("%s (degree %d) %.1f-%.1f keV", sp.Calibration, sp.Degree, sp.MinEnergy, sp.MaxEnergy)
			}
			fmt.Fprintf(w, "    %s  %d channels  %s counts  live %gs  %s\n",
				sp.ID, sp.Channels, humanize.Comma(int64(sp.TotalCounts)), sp.LiveTime, cal)
		}
	}
}
