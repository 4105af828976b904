package n42

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"

	"github.com/FocuswithJustin/n42kit/core/calibration"
	"github.com/FocuswithJustin/n42kit/core/channeldata"
	"github.com/FocuswithJustin/n42kit/core/duration"
	"github.com/FocuswithJustin/n42kit/core/encoding"
	"github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/schema"
	"github.com/FocuswithJustin/n42kit/core/xml"
	"github.com/FocuswithJustin/n42kit/internal/logging"
)

// TimeParser converts StartDateTime text into a timestamp.
type TimeParser func(string) (time.Time, error)

// DefaultTimeParser accepts the free-form timestamps found in N42 files.
// Zone-less values are taken as UTC.
func DefaultTimeParser(s string) (time.Time, error) {
	return dateparse.ParseIn(s, time.UTC)
}

// Options configures a read. The zero value reads without schema validation
// using DefaultTimeParser and the package logger.
type Options struct {
	// Validator, when set, runs after the root check and before indexing.
	Validator schema.Validator
	// TimeParser overrides DefaultTimeParser.
	TimeParser TimeParser
	// Logger overrides logging.GetLogger().
	Logger *slog.Logger
	// Source labels log lines, usually the file path.
	Source string
	// MaxChannels bounds the decoded length of one spectrum.
	// Zero means DefaultMaxChannels.
	MaxChannels uint64
}

// DefaultMaxChannels is the per-spectrum channel bound used when
// Options.MaxChannels is zero.
const DefaultMaxChannels = 1 << 24

// Stage is a step of the document walk.
type Stage int

const (
	StageStart Stage = iota
	StageRootValidated
	StageInstrumentsIndexed
	StageDetectorsIndexed
	StageEnergyCalibrationsIndexed
	StageFWHMCalibrationsIndexed
	StageMeasurementsWalked
	StageDone
)

var stageNames = [...]string{
	"Start",
	"RootValidated",
	"InstrumentsIndexed",
	"DetectorsIndexed",
	"EnergyCalibrationsIndexed",
	"FWHMCalibrationsIndexed",
	"MeasurementsWalked",
	"Done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}

// CheckExtension rejects paths whose extension is not Extension.
func CheckExtension(path string) error {
	ext := filepath.Ext(path)
	if !strings.EqualFold(ext, Extension) {
		return &errors.ExtensionError{Path: path, Got: ext, Expected: Extension}
	}
	return nil
}

// ReadFile checks the extension of path, then reads and parses it.
func ReadFile(path string, opts *Options) (*Document, error) {
	if err := CheckExtension(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}

	o := withDefaults(opts)
	if o.Source == "" {
		o.Source = path
	}
	start := time.Now()
	doc, err := ReadBytes(data, &o)
	if err != nil {
		logging.ParseFailed(path, err)
		return nil, err
	}
	logging.DocumentParsed(path, len(doc.Measurements), doc.SpectrumCount(), time.Since(start))
	return doc, nil
}

// Read parses a document from r.
func Read(r io.Reader, opts *Options) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIO("read", "", err)
	}
	return ReadBytes(data, opts)
}

// ReadBytes sanitizes and parses raw document bytes.
func ReadBytes(data []byte, opts *Options) (*Document, error) {
	o := withDefaults(opts)
	if !encoding.IsClean(data) {
		clean := encoding.StripNonASCII(data)
		o.Logger.Debug("n42 non-ASCII bytes removed", "source", o.Source, "removed", len(data)-len(clean))
		data = clean
	}
	tree, err := xml.Parse(data)
	if err != nil {
		return nil, err
	}
	return FromXML(tree, &o)
}

// FromXML walks a parsed tree. On any violation it returns a nil Document
// and the first error in document order.
func FromXML(tree *xml.Document, opts *Options) (*Document, error) {
	r := &reader{opts: withDefaults(opts), doc: newDocument()}
	if r.opts.Source != "" {
		r.log = r.opts.Logger.With("source", r.opts.Source)
	} else {
		r.log = r.opts.Logger
	}
	if err := r.walk(tree); err != nil {
		r.log.Debug("n42 parse aborted", "stage", r.stage.String(), "error", err)
		return nil, err
	}
	return r.doc, nil
}

func withDefaults(opts *Options) Options {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.TimeParser == nil {
		o.TimeParser = DefaultTimeParser
	}
	if o.Logger == nil {
		o.Logger = logging.GetLogger()
	}
	if o.MaxChannels == 0 {
		o.MaxChannels = DefaultMaxChannels
	}
	return o
}

type reader struct {
	opts  Options
	log   *slog.Logger
	doc   *Document
	stage Stage
}

func (r *reader) advance(s Stage) {
	r.stage = s
	r.log.Debug("n42 stage", "stage", s.String())
}

func (r *reader) walk(tree *xml.Document) error {
	root := tree.Root()
	if root == nil {
		return &errors.StructureError{Element: ElemRoot, Message: "document has no root element"}
	}
	if !root.Is(Namespace, ElemRoot) {
		return &errors.StructureError{
			Element: ElemRoot,
			Message: "unexpected root " + root.QualifiedName(),
		}
	}
	r.advance(StageRootValidated)

	if r.opts.Validator != nil {
		if err := r.opts.Validator.Validate(tree); err != nil {
			return errors.Wrap(err, "schema validation")
		}
	}

	for _, n := range root.ChildrenNamed(Namespace, ElemInstrumentInformation) {
		info := InstrumentInfo{ID: n.Attr(AttrID), Fields: leafFields(n)}
		r.index(ElemInstrumentInformation, info.ID, hasKey(r.doc.Instruments, info.ID))
		r.doc.Instruments[info.ID] = info
	}
	r.advance(StageInstrumentsIndexed)

	for _, n := range root.ChildrenNamed(Namespace, ElemDetectorInformation) {
		info := DetectorInfo{ID: n.Attr(AttrID), Fields: leafFields(n)}
		r.index(ElemDetectorInformation, info.ID, hasKey(r.doc.Detectors, info.ID))
		r.doc.Detectors[info.ID] = info
	}
	r.advance(StageDetectorsIndexed)

	for _, n := range root.ChildrenNamed(Namespace, ElemEnergyCalibration) {
		cal, err := r.energyCalibration(n)
		if err != nil {
			return err
		}
		r.index(ElemEnergyCalibration, cal.ID, hasKey(r.doc.EnergyCalibrations, cal.ID))
		r.doc.EnergyCalibrations[cal.ID] = cal
	}
	r.advance(StageEnergyCalibrationsIndexed)

	for _, n := range root.ChildrenNamed(Namespace, ElemFWHMCalibration) {
		cal, err := r.fwhmCalibration(n)
		if err != nil {
			return err
		}
		r.index(ElemFWHMCalibration, cal.ID, hasKey(r.doc.FWHMCalibrations, cal.ID))
		r.doc.FWHMCalibrations[cal.ID] = cal
	}
	r.advance(StageFWHMCalibrationsIndexed)

	for _, n := range root.ChildrenNamed(Namespace, ElemMeasurement) {
		m, err := r.measurement(n)
		if err != nil {
			return err
		}
		r.doc.Measurements = append(r.doc.Measurements, m)
	}
	r.advance(StageMeasurementsWalked)

	r.advance(StageDone)
	return nil
}

// index records an indexed section. Duplicate ids are overwritten, last wins.
func (r *reader) index(element, id string, duplicate bool) {
	if duplicate {
		r.log.Debug("n42 duplicate id overwritten", "element", element, "id", id)
		return
	}
	r.log.Debug("n42 indexed", "element", element, "id", id)
}

func hasKey[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}

func (r *reader) energyCalibration(n *xml.Node) (EnergyCalibration, error) {
	id := n.Attr(AttrID)
	label := ElemEnergyCalibration + " " + id

	coeffs, err := floatsOf(n, label, ElemCoefficientValues)
	if err != nil {
		return EnergyCalibration{}, err
	}
	p, err := calibration.New(coeffs)
	if err != nil {
		var ce *errors.CalibrationError
		if errors.As(err, &ce) {
			ce.ID = id
		}
		return EnergyCalibration{}, err
	}
	return EnergyCalibration{ID: id, Polynomial: p}, nil
}

func (r *reader) fwhmCalibration(n *xml.Node) (FWHMCalibration, error) {
	id := n.Attr(AttrID)
	label := ElemFWHMCalibration + " " + id

	cal := FWHMCalibration{ID: id}
	var err error
	if cal.Coefficients, err = floatsOf(n, label, ElemCoefficientValues); err != nil {
		return cal, err
	}
	if cal.EnergyValues, err = floatsOf(n, label, ElemEnergyValues); err != nil {
		return cal, err
	}
	if cal.FWHMValues, err = floatsOf(n, label, ElemFWHMValues); err != nil {
		return cal, err
	}
	return cal, nil
}

func (r *reader) measurement(n *xml.Node) (Measurement, error) {
	m := Measurement{ID: n.Attr(AttrID)}
	label := ElemMeasurement + " " + m.ID

	codes, err := children(n, label, ElemClassCode)
	if err != nil {
		return m, err
	}
	m.ClassCodes = lo.Map(codes, func(c *xml.Node, _ int) string { return c.TrimmedText() })

	startNode, err := child(n, label, ElemStartDateTime)
	if err != nil {
		return m, err
	}
	if startNode != nil {
		text := startNode.TrimmedText()
		ts, err := r.opts.TimeParser(text)
		if err != nil {
			return m, &errors.FormatError{Kind: "timestamp", Value: text, Err: err}
		}
		m.StartTime = &ts
		r.log.Debug("n42 start time", "measurement", m.ID, "start", ts)
	} else {
		r.log.Debug("n42 start time absent", "measurement", m.ID)
	}

	realNode, err := child(n, label, ElemRealTimeDuration)
	if err != nil {
		return m, err
	}
	if m.RealTime, err = duration.Parse(realNode.Text()); err != nil {
		return m, errors.Wrapf(err, "%s %s", label, ElemRealTimeDuration)
	}
	r.log.Debug("n42 real time", "measurement", m.ID, "seconds", m.RealTime)

	spectra, err := children(n, label, ElemSpectrum)
	if err != nil {
		return m, err
	}
	m.Spectra = make([]Spectrum, 0, len(spectra))
	for _, sn := range spectra {
		s, err := r.spectrum(sn, label)
		if err != nil {
			return m, err
		}
		m.Spectra = append(m.Spectra, s)
	}
	return m, nil
}

func (r *reader) spectrum(n *xml.Node, parent string) (Spectrum, error) {
	s := Spectrum{
		ID:             n.Attr(AttrID),
		CalibrationRef: strings.TrimSpace(n.Attr(AttrEnergyCalibrationRef)),
		FWHMRef:        strings.TrimSpace(n.Attr(AttrFWHMCalibrationRef)),
		DetectorRef:    strings.TrimSpace(n.Attr(AttrDetectorRef)),
		Counts:         []uint64{},
	}
	label := parent + " " + ElemSpectrum + " " + s.ID

	liveNode, err := child(n, label, ElemLiveTimeDuration)
	if err != nil {
		return s, err
	}
	if s.LiveTime, err = duration.Parse(liveNode.Text()); err != nil {
		return s, errors.Wrapf(err, "%s %s", label, ElemLiveTimeDuration)
	}

	blocks, err := children(n, label, ElemChannelData)
	if err != nil {
		return s, err
	}
	for _, b := range blocks {
		c := channeldata.ParseCompression(b.Attr(AttrCompressionCode))
		counts, err := channeldata.DecodeLimit(b.Text(), c, r.opts.MaxChannels-uint64(len(s.Counts)))
		if err != nil {
			return s, errors.Wrapf(err, "%s %s", label, ElemChannelData)
		}
		s.Counts = append(s.Counts, counts...)
		s.Compression = c
	}

	if s.CalibrationRef != "" && !hasKey(r.doc.EnergyCalibrations, s.CalibrationRef) {
		r.log.Debug("n42 calibration reference unresolved", "spectrum", s.ID, "ref", s.CalibrationRef)
	}
	r.log.Debug("n42 spectrum", "spectrum", s.ID, "live_time", s.LiveTime, "channels", len(s.Counts))
	return s, nil
}

// leafFields collects child elements without element children as name→text.
func leafFields(n *xml.Node) map[string]string {
	fields := make(map[string]string)
	for _, c := range n.Children() {
		if len(c.Children()) == 0 {
			fields[c.LocalName()] = c.TrimmedText()
		}
	}
	return fields
}

// floatsOf parses the whitespace-separated reals of a FirstOfMany child.
// An absent child yields an empty slice.
func floatsOf(n *xml.Node, parent, element string) ([]float64, error) {
	c, err := child(n, parent, element)
	if err != nil || c == nil {
		return []float64{}, err
	}
	tokens := strings.Fields(c.Text())
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, errors.Wrap(&errors.FormatError{Kind: element, Value: tok, Err: err}, parent)
		}
		values[i] = v
	}
	return values, nil
}
