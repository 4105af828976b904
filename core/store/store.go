// Package store persists parsed N42 documents in SQLite.
//
// Each saved document gets a UUID. Spectrum counts are kept as their
// CountedZeroes token stream, which is far smaller than the expanded
// channel list for typical gamma spectra. The compression a spectrum was
// read with is recorded separately so it survives a round trip.
package store

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/n42kit/core/calibration"
	"github.com/FocuswithJustin/n42kit/core/channeldata"
	"github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/n42"
	"github.com/FocuswithJustin/n42kit/core/sqlite"
	"github.com/FocuswithJustin/n42kit/internal/logging"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	digest TEXT UNIQUE,
	ingested_at TEXT NOT NULL,
	measurements INTEGER NOT NULL,
	spectra INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sections (
	document_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	PRIMARY KEY (document_id, kind, id)
);
CREATE TABLE IF NOT EXISTS section_fields (
	document_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	section_id TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS calibrations (
	document_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	coefficients TEXT NOT NULL,
	energy_values TEXT NOT NULL,
	fwhm_values TEXT NOT NULL,
	PRIMARY KEY (document_id, kind, id)
);
CREATE TABLE IF NOT EXISTS measurements (
	document_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	start_time TEXT,
	real_time REAL NOT NULL,
	PRIMARY KEY (document_id, seq)
);
CREATE TABLE IF NOT EXISTS class_codes (
	document_id TEXT NOT NULL,
	measurement_seq INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	code TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS spectra (
	document_id TEXT NOT NULL,
	measurement_seq INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	live_time REAL NOT NULL,
	compression TEXT NOT NULL,
	channels INTEGER NOT NULL,
	counts TEXT NOT NULL,
	calibration_ref TEXT NOT NULL,
	fwhm_ref TEXT NOT NULL,
	detector_ref TEXT NOT NULL,
	PRIMARY KEY (document_id, measurement_seq, seq)
);
CREATE INDEX IF NOT EXISTS spectra_id ON spectra (id);
`

// childTables lists every table keyed by document_id, in deletion order.
var childTables = []string{"spectra", "class_codes", "measurements", "calibrations", "section_fields", "sections"}

const (
	kindInstrument = "instrument"
	kindDetector   = "detector"
	kindEnergy     = "energy"
	kindFWHM       = "fwhm"
)

// Store is a SQLite-backed document store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Record describes one saved document.
type Record struct {
	ID           string    `json:"id" yaml:"id"`
	Source       string    `json:"source" yaml:"source"`
	Digest       string    `json:"digest,omitempty" yaml:"digest,omitempty"`
	IngestedAt   time.Time `json:"ingested_at" yaml:"ingested_at"`
	Measurements int       `json:"measurements" yaml:"measurements"`
	Spectra      int       `json:"spectra" yaml:"spectra"`
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	// SQLite allows one writer; a single connection serializes ingest workers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create schema in %s", path)
	}
	logging.Debug("store opened", "path", path, "driver", sqlite.DriverType())
	return &Store{db: db, path: path}, nil
}

// OpenReadOnly opens an existing database without creating it or its schema.
// Writes through the returned Store fail.
func OpenReadOnly(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("database", path)
		}
		return nil, errors.NewIO("stat", path, err)
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewIO("open", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores doc and returns its new document id. digest may be empty when
// the raw file was not archived; a non-empty digest must be unique.
func (s *Store) Save(ctx context.Context, doc *n42.Document, source, digest string) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin save")
	}
	defer tx.Rollback()

	var dig sql.NullString
	if digest != "" {
		dig = sql.NullString{String: digest, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, source, digest, ingested_at, measurements, spectra) VALUES (?, ?, ?, ?, ?, ?)`,
		id, source, dig, time.Now().UTC().Format(time.RFC3339Nano), len(doc.Measurements), doc.SpectrumCount()); err != nil {
		return "", errors.Wrapf(err, "insert document %s", source)
	}

	w := &saver{ctx: ctx, tx: tx, docID: id}
	for _, info := range doc.Instruments {
		w.section(kindInstrument, info.ID, info.Fields)
	}
	for _, info := range doc.Detectors {
		w.section(kindDetector, info.ID, info.Fields)
	}
	for _, cal := range doc.EnergyCalibrations {
		var coeffs []float64
		if cal.Polynomial != nil {
			coeffs = cal.Polynomial.Coefficients()
		}
		w.calibration(kindEnergy, cal.ID, coeffs, nil, nil)
	}
	for _, cal := range doc.FWHMCalibrations {
		w.calibration(kindFWHM, cal.ID, cal.Coefficients, cal.EnergyValues, cal.FWHMValues)
	}
	for i := range doc.Measurements {
		w.measurement(i, &doc.Measurements[i])
	}
	if w.err != nil {
		return "", w.err
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit save")
	}
	return id, nil
}

// saver accumulates the first error of a multi-statement save.
type saver struct {
	ctx   context.Context
	tx    *sql.Tx
	docID string
	err   error
}

func (w *saver) exec(query string, args ...any) {
	if w.err != nil {
		return
	}
	if _, err := w.tx.ExecContext(w.ctx, query, args...); err != nil {
		w.err = errors.Wrapf(err, "save document %s", w.docID)
	}
}

func (w *saver) section(kind, id string, fields map[string]string) {
	w.exec(`INSERT INTO sections (document_id, kind, id) VALUES (?, ?, ?)`, w.docID, kind, id)
	for name, value := range fields {
		w.exec(`INSERT INTO section_fields (document_id, kind, section_id, name, value) VALUES (?, ?, ?, ?, ?)`,
			w.docID, kind, id, name, value)
	}
}

func (w *saver) calibration(kind, id string, coeffs, energies, fwhms []float64) {
	w.exec(`INSERT INTO calibrations (document_id, kind, id, coefficients, energy_values, fwhm_values) VALUES (?, ?, ?, ?, ?, ?)`,
		w.docID, kind, id, joinFloats(coeffs), joinFloats(energies), joinFloats(fwhms))
}

func (w *saver) measurement(seq int, m *n42.Measurement) {
	var start sql.NullString
	if m.StartTime != nil {
		start = sql.NullString{String: m.StartTime.Format(time.RFC3339Nano), Valid: true}
	}
	w.exec(`INSERT INTO measurements (document_id, seq, id, start_time, real_time) VALUES (?, ?, ?, ?, ?)`,
		w.docID, seq, m.ID, start, m.RealTime)
	for i, code := range m.ClassCodes {
		w.exec(`INSERT INTO class_codes (document_id, measurement_seq, seq, code) VALUES (?, ?, ?, ?)`,
			w.docID, seq, i, code)
	}
	for i := range m.Spectra {
		sp := &m.Spectra[i]
		counts, err := channeldata.EncodeString(sp.Counts, channeldata.CountedZeroes)
		if err != nil && w.err == nil {
			w.err = errors.Wrapf(err, "spectrum %s", sp.ID)
		}
		w.exec(`INSERT INTO spectra (document_id, measurement_seq, seq, id, live_time, compression, channels, counts,
			calibration_ref, fwhm_ref, detector_ref) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.docID, seq, i, sp.ID, sp.LiveTime, sp.Compression.String(), len(sp.Counts), counts,
			sp.CalibrationRef, sp.FWHMRef, sp.DetectorRef)
	}
}

const recordColumns = `id, source, digest, ingested_at, measurements, spectra`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r      Record
		digest sql.NullString
		at     string
	)
	if err := row.Scan(&r.ID, &r.Source, &digest, &at, &r.Measurements, &r.Spectra); err != nil {
		return r, err
	}
	r.Digest = digest.String
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return r, errors.Wrapf(err, "document %s ingested_at", r.ID)
	}
	r.IngestedAt = t
	return r, nil
}

// Get returns the record for a document id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM documents WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return r, errors.NewNotFound("document", id)
	}
	return r, err
}

// FindByDigest returns the record of the document archived under digest.
func (s *Store) FindByDigest(ctx context.Context, digest string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM documents WHERE digest = ?`, digest)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return r, errors.NewNotFound("document with digest", digest)
	}
	return r, err
}

// List returns every record, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM documents ORDER BY ingested_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list documents")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a document and everything it owns.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete document %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("document", id)
	}
	for _, table := range childTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE document_id = ?`, id); err != nil {
			return errors.Wrapf(err, "delete document %s from %s", id, table)
		}
	}
	return tx.Commit()
}

// Load rebuilds the document saved under id.
func (s *Store) Load(ctx context.Context, id string) (*n42.Document, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	doc := &n42.Document{
		Instruments:        make(map[string]n42.InstrumentInfo),
		Detectors:          make(map[string]n42.DetectorInfo),
		EnergyCalibrations: make(map[string]n42.EnergyCalibration),
		FWHMCalibrations:   make(map[string]n42.FWHMCalibration),
	}
	l := &loader{ctx: ctx, db: s.db, docID: id, doc: doc}
	for _, step := range []func() error{l.sections, l.calibrations, l.measurements, l.classCodes, l.spectra} {
		if err := step(); err != nil {
			return nil, errors.Wrapf(err, "load document %s", id)
		}
	}
	return doc, nil
}

type loader struct {
	ctx   context.Context
	db    *sql.DB
	docID string
	doc   *n42.Document
}

// each runs query for the document and calls fn for every row.
func (l *loader) each(query string, fn func(*sql.Rows) error) error {
	rows, err := l.db.QueryContext(l.ctx, query, l.docID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (l *loader) sections() error {
	err := l.each(`SELECT kind, id FROM sections WHERE document_id = ?`, func(rows *sql.Rows) error {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return err
		}
		switch kind {
		case kindInstrument:
			l.doc.Instruments[id] = n42.InstrumentInfo{ID: id, Fields: map[string]string{}}
		case kindDetector:
			l.doc.Detectors[id] = n42.DetectorInfo{ID: id, Fields: map[string]string{}}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return l.each(`SELECT kind, section_id, name, value FROM section_fields WHERE document_id = ?`, func(rows *sql.Rows) error {
		var kind, id, name, value string
		if err := rows.Scan(&kind, &id, &name, &value); err != nil {
			return err
		}
		switch kind {
		case kindInstrument:
			if info, ok := l.doc.Instruments[id]; ok {
				info.Fields[name] = value
			}
		case kindDetector:
			if info, ok := l.doc.Detectors[id]; ok {
				info.Fields[name] = value
			}
		}
		return nil
	})
}

func (l *loader) calibrations() error {
	return l.each(`SELECT kind, id, coefficients, energy_values, fwhm_values FROM calibrations WHERE document_id = ?`, func(rows *sql.Rows) error {
		var kind, id, coeffs, energies, fwhms string
		if err := rows.Scan(&kind, &id, &coeffs, &energies, &fwhms); err != nil {
			return err
		}
		c, err := splitFloats(coeffs)
		if err != nil {
			return err
		}
		switch kind {
		case kindEnergy:
			p, err := calibration.New(c)
			if err != nil {
				return err
			}
			l.doc.EnergyCalibrations[id] = n42.EnergyCalibration{ID: id, Polynomial: p}
		case kindFWHM:
			cal := n42.FWHMCalibration{ID: id, Coefficients: c}
			if cal.EnergyValues, err = splitFloats(energies); err != nil {
				return err
			}
			if cal.FWHMValues, err = splitFloats(fwhms); err != nil {
				return err
			}
			l.doc.FWHMCalibrations[id] = cal
		}
		return nil
	})
}

func (l *loader) measurements() error {
	return l.each(`SELECT id, start_time, real_time FROM measurements WHERE document_id = ? ORDER BY seq`, func(rows *sql.Rows) error {
		var (
			m     n42.Measurement
			start sql.NullString
		)
		if err := rows.Scan(&m.ID, &start, &m.RealTime); err != nil {
			return err
		}
		if start.Valid {
			t, err := time.Parse(time.RFC3339Nano, start.String)
			if err != nil {
				return err
			}
			m.StartTime = &t
		}
		m.ClassCodes = []string{}
		m.Spectra = []n42.Spectrum{}
		l.doc.Measurements = append(l.doc.Measurements, m)
		return nil
	})
}

// measurementAt bounds-checks a measurement_seq column value.
func (l *loader) measurementAt(seq int) (*n42.Measurement, error) {
	if seq < 0 || seq >= len(l.doc.Measurements) {
		return nil, errors.NewValidation("measurement_seq", "out of range: "+strconv.Itoa(seq))
	}
	return &l.doc.Measurements[seq], nil
}

func (l *loader) classCodes() error {
	return l.each(`SELECT measurement_seq, code FROM class_codes WHERE document_id = ? ORDER BY measurement_seq, seq`, func(rows *sql.Rows) error {
		var (
			seq  int
			code string
		)
		if err := rows.Scan(&seq, &code); err != nil {
			return err
		}
		m, err := l.measurementAt(seq)
		if err != nil {
			return err
		}
		m.ClassCodes = append(m.ClassCodes, code)
		return nil
	})
}

func (l *loader) spectra() error {
	return l.each(`SELECT measurement_seq, id, live_time, compression, channels, counts, calibration_ref, fwhm_ref, detector_ref
		FROM spectra WHERE document_id = ? ORDER BY measurement_seq, seq`, func(rows *sql.Rows) error {
		var (
			seq, channels       int
			compression, counts string
			sp                  n42.Spectrum
		)
		if err := rows.Scan(&seq, &sp.ID, &sp.LiveTime, &compression, &channels, &counts,
			&sp.CalibrationRef, &sp.FWHMRef, &sp.DetectorRef); err != nil {
			return err
		}
		m, err := l.measurementAt(seq)
		if err != nil {
			return err
		}
		if sp.Counts, err = channeldata.Decode(counts, channeldata.CountedZeroes); err != nil {
			return errors.Wrapf(err, "spectrum %s", sp.ID)
		}
		if len(sp.Counts) != channels {
			return &errors.DecodeError{Position: len(sp.Counts), Message: "spectrum " + sp.ID + " expected " + strconv.Itoa(channels) + " channels"}
		}
		sp.Compression = channeldata.ParseCompression(compression)
		m.Spectra = append(m.Spectra, sp)
		return nil
	})
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func splitFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, &errors.FormatError{Kind: "stored float", Value: f, Err: err}
		}
		values[i] = v
	}
	return values, nil
}
