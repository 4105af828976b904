package n42

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/n42kit/core/channeldata"
	"github.com/FocuswithJustin/n42kit/core/duration"
	"github.com/FocuswithJustin/n42kit/core/encoding"
	"github.com/FocuswithJustin/n42kit/core/errors"
)

// WriteOptions configures Write.
type WriteOptions struct {
	// Compression, when set, overrides each spectrum's own compression.
	Compression *channeldata.Compression
	// Indent defaults to two spaces.
	Indent string
}

// Marshal renders doc as N42 XML.
func Marshal(doc *Document, opts *WriteOptions) ([]byte, error) {
	var o WriteOptions
	if opts != nil {
		o = *opts
	}
	if o.Indent == "" {
		o.Indent = "  "
	}

	w := &docWriter{opts: o}
	if err := w.document(doc); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// Write renders doc as N42 XML to out.
func Write(out io.Writer, doc *Document, opts *WriteOptions) error {
	data, err := Marshal(doc, opts)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return errors.NewIO("write", "", err)
	}
	return nil
}

type docWriter struct {
	buf  bytes.Buffer
	opts WriteOptions
}

func (w *docWriter) line(depth int, s string) {
	w.buf.WriteString(strings.Repeat(w.opts.Indent, depth))
	w.buf.WriteString(s)
	w.buf.WriteByte('\n')
}

func (w *docWriter) leaf(depth int, name, text string) {
	w.line(depth, "<"+name+">"+encoding.EscapeXMLText(text)+"</"+name+">")
}

func attr(name, value string) string {
	if value == "" {
		return ""
	}
	return " " + name + `="` + encoding.EscapeXMLAttr(value) + `"`
}

func (w *docWriter) document(doc *Document) error {
	w.buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	w.line(0, "<"+ElemRoot+attr("xmlns", Namespace)+">")

	for _, id := range sortedKeys(doc.Instruments) {
		w.fields(1, ElemInstrumentInformation, id, doc.Instruments[id].Fields)
	}
	for _, id := range sortedKeys(doc.Detectors) {
		w.fields(1, ElemDetectorInformation, id, doc.Detectors[id].Fields)
	}
	for _, id := range sortedKeys(doc.EnergyCalibrations) {
		cal := doc.EnergyCalibrations[id]
		if cal.Polynomial == nil {
			return &errors.CalibrationError{ID: id, Message: "no coefficients"}
		}
		w.line(1, "<"+ElemEnergyCalibration+attr(AttrID, id)+">")
		w.leaf(2, ElemCoefficientValues, formatFloats(cal.Polynomial.Coefficients()))
		w.line(1, "</"+ElemEnergyCalibration+">")
	}
	for _, id := range sortedKeys(doc.FWHMCalibrations) {
		cal := doc.FWHMCalibrations[id]
		w.line(1, "<"+ElemFWHMCalibration+attr(AttrID, id)+">")
		if len(cal.Coefficients) > 0 {
			w.leaf(2, ElemCoefficientValues, formatFloats(cal.Coefficients))
		}
		if len(cal.EnergyValues) > 0 {
			w.leaf(2, ElemEnergyValues, formatFloats(cal.EnergyValues))
		}
		if len(cal.FWHMValues) > 0 {
			w.leaf(2, ElemFWHMValues, formatFloats(cal.FWHMValues))
		}
		w.line(1, "</"+ElemFWHMCalibration+">")
	}

	for i := range doc.Measurements {
		if err := w.measurement(&doc.Measurements[i]); err != nil {
			return err
		}
	}

	w.line(0, "</"+ElemRoot+">")
	return nil
}

func (w *docWriter) fields(depth int, element, id string, fields map[string]string) {
	if len(fields) == 0 {
		w.line(depth, "<"+element+attr(AttrID, id)+"/>")
		return
	}
	w.line(depth, "<"+element+attr(AttrID, id)+">")
	for _, name := range sortedKeys(fields) {
		w.leaf(depth+1, name, fields[name])
	}
	w.line(depth, "</"+element+">")
}

func (w *docWriter) measurement(m *Measurement) error {
	w.line(1, "<"+ElemMeasurement+attr(AttrID, m.ID)+">")
	for _, code := range m.ClassCodes {
		w.leaf(2, ElemClassCode, code)
	}
	if m.StartTime != nil {
		w.leaf(2, ElemStartDateTime, m.StartTime.Format(time.RFC3339Nano))
	}
	w.leaf(2, ElemRealTimeDuration, duration.Format(m.RealTime))

	for i := range m.Spectra {
		s := &m.Spectra[i]
		c := s.Compression
		if w.opts.Compression != nil {
			c = *w.opts.Compression
		}
		text, err := channeldata.EncodeString(s.Counts, c)
		if err != nil {
			return errors.Wrapf(err, "spectrum %s", s.ID)
		}

		w.line(2, "<"+ElemSpectrum+attr(AttrID, s.ID)+
			attr(AttrDetectorRef, s.DetectorRef)+
			attr(AttrEnergyCalibrationRef, s.CalibrationRef)+
			attr(AttrFWHMCalibrationRef, s.FWHMRef)+">")
		w.leaf(3, ElemLiveTimeDuration, duration.Format(s.LiveTime))
		if len(s.Counts) > 0 {
			w.line(3, "<"+ElemChannelData+attr(AttrCompressionCode, c.String())+">"+text+"</"+ElemChannelData+">")
		}
		w.line(2, "</"+ElemSpectrum+">")
	}

	w.line(1, "</"+ElemMeasurement+">")
	return nil
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
