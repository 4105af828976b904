package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"

	n42errors "github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/n42"
	"github.com/FocuswithJustin/n42kit/core/store"
	"github.com/FocuswithJustin/n42kit/internal/config"
)

const samplePath = "../../core/n42/testdata/sample.n42"

// newTestEnv returns an env rooted in a temp dir and its output buffer.
func newTestEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "n42.db")
	cfg.ArchiveDir = filepath.Join(dir, "archive")
	cfg.Workers = 2
	out := &bytes.Buffer{}
	return &env{cfg: cfg, out: out, in: strings.NewReader("")}, out
}

func copySample(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(samplePath)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func storedIDs(t *testing.T, e *env) []store.Record {
	t.Helper()
	st, err := store.Open(context.Background(), e.cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	records, err := st.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func TestParseCmd(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&ParseCmd{Paths: []string{samplePath}}).Run(e); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"instruments: 1  detectors: 1  energy calibrations: 2",
		"RadMeasurement-1 [Foreground] 2003-11-23T06:45:19Z real 60s",
		"RadMeasurement-1-Spectrum-1  14 channels  104 counts  live 59.61s  EnergyCalibration-1 (degree 2)",
		"RadMeasurement-2-Spectrum-1  5 channels  7 counts  live 298.2s  uncalibrated",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestParseCmdJSON(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&ParseCmd{Paths: []string{samplePath}, JSON: true}).Run(e); err != nil {
		t.Fatal(err)
	}
	var summaries []docSummary
	if err := json.Unmarshal(out.Bytes(), &summaries); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(summaries) != 1 || len(summaries[0].Measurements) != 2 {
		t.Fatalf("summaries = %+v", summaries)
	}
	sp := summaries[0].Measurements[0].Spectra[0]
	if !sp.Calibrated || sp.Compression != "CountedZeroes" || sp.MaxEnergy <= sp.MinEnergy {
		t.Errorf("spectrum summary = %+v", sp)
	}
}

func TestParseCmdRejects(t *testing.T) {
	e, _ := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "bad.n42")
	if err := os.WriteFile(path, []byte(`<RadInstrumentData xmlns="`+n42.Namespace+`"><RadMeasurement id="M"/></RadInstrumentData>`), 0644); err != nil {
		t.Fatal(err)
	}
	err := (&ParseCmd{Paths: []string{path}}).Run(e)
	if !errors.Is(err, n42errors.ErrStructure) {
		t.Errorf("error = %v, want ErrStructure", err)
	}
}

func TestValidateCmd(t *testing.T) {
	e, out := newTestEnv(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "empty.n42")
	if err := os.WriteFile(bad, []byte(`<RadInstrumentData xmlns="`+n42.Namespace+`"/>`), 0644); err != nil {
		t.Fatal(err)
	}

	err := (&ValidateCmd{Paths: []string{samplePath, bad}}).Run(e)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "OK   "+samplePath) || !strings.Contains(got, "FAIL "+bad) {
		t.Errorf("output:\n%s", got)
	}
}

func TestEnergiesCmd(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&EnergiesCmd{Path: samplePath, Spectrum: "RadMeasurement-1-Spectrum-2"}).Run(e); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 9 {
		t.Fatalf("lines = %d, want header + 8 channels:\n%s", len(lines), out)
	}
	if fields := strings.Fields(lines[1]); len(fields) != 6 || fields[1] != "-1.5000" || fields[2] != "-1.1250" || fields[4] != "0.7500" {
		t.Errorf("first channel = %q", lines[1])
	}

	e, _ = newTestEnv(t)
	err := (&EnergiesCmd{Path: samplePath, Spectrum: "RadMeasurement-2-Spectrum-1"}).Run(e)
	if err == nil || !strings.Contains(err.Error(), "no energy calibration") {
		t.Errorf("uncalibrated error = %v", err)
	}
	err = (&EnergiesCmd{Path: samplePath, Spectrum: "missing"}).Run(e)
	if !errors.Is(err, n42errors.ErrNotFound) {
		t.Errorf("missing spectrum error = %v", err)
	}
}

func TestIngestListShowExport(t *testing.T) {
	e, out := newTestEnv(t)
	dir := t.TempDir()
	a := copySample(t, dir, "a.n42")
	b := copySample(t, dir, "b.n42")
	xmlPath := copySample(t, dir, "c.xml")

	err := (&IngestCmd{Paths: []string{a, b, xmlPath}}).Run(e)
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("ingest error = %v", err)
	}
	got := out.String()
	if strings.Count(got, "STORED")+strings.Count(got, "SKIP") != 2 || !strings.Contains(got, "FAIL    "+xmlPath) {
		t.Errorf("ingest output:\n%s", got)
	}

	records := storedIDs(t, e)
	if len(records) != 1 {
		t.Fatalf("identical files stored %d times", len(records))
	}
	id := records[0].ID

	out.Reset()
	if err := (&ListCmd{}).Run(e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), id) || !strings.Contains(out.String(), "Total: 1 documents") {
		t.Errorf("list output missing %s:\n%s", id, out)
	}

	out.Reset()
	if err := (&ShowCmd{ID: id}).Run(e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "blake3 "+records[0].Digest) || !strings.Contains(out.String(), "RadMeasurement-2") {
		t.Errorf("show output:\n%s", out)
	}

	exported := filepath.Join(dir, "export.n42")
	if err := (&ExportCmd{ID: id, Out: exported}).Run(e); err != nil {
		t.Fatal(err)
	}
	doc, err := n42.ReadFile(exported, nil)
	if err != nil {
		t.Fatalf("exported file unreadable: %v", err)
	}
	if doc.SpectrumCount() != 3 {
		t.Errorf("exported spectra = %d", doc.SpectrumCount())
	}

	original := filepath.Join(dir, "original.n42")
	if err := (&ExportCmd{ID: id, Out: original, Original: true, XZ: true}).Run(e); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(original + ".xz")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	xr, err := xz.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(xr); err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(samplePath)
	if !bytes.Equal(raw.Bytes(), want) {
		t.Error("original export differs from source bytes")
	}
}

func TestExportCompression(t *testing.T) {
	e, _ := newTestEnv(t)
	path := copySample(t, t.TempDir(), "a.n42")
	if err := (&IngestCmd{Paths: []string{path}}).Run(e); err != nil {
		t.Fatal(err)
	}
	id := storedIDs(t, e)[0].ID

	out := filepath.Join(t.TempDir(), "plain.n42")
	if err := (&ExportCmd{ID: id, Out: out, Compression: "None"}).Run(e); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("CountedZeroes")) {
		t.Error("--compression None ignored")
	}

	if err := (&ExportCmd{ID: id, Out: out, Compression: "gzip"}).Run(e); !errors.Is(err, n42errors.ErrInvalidInput) {
		t.Errorf("bad compression error = %v", err)
	}

	e.cfg.DefaultCompression = "CountedZeroes"
	if err := (&ExportCmd{ID: id, Out: out}).Run(e); err != nil {
		t.Fatal(err)
	}
	data, err = os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := bytes.Count(data, []byte(`compressionCode="CountedZeroes"`)); got != 3 {
		t.Errorf("CountedZeroes blocks = %d, want 3", got)
	}
}

func TestShowMissing(t *testing.T) {
	e, _ := newTestEnv(t)
	if err := (&ShowCmd{ID: "nope"}).Run(e); !errors.Is(err, n42errors.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListEmpty(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&ListCmd{}).Run(e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No documents in "+e.cfg.DBPath) {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(e.cfg.DBPath); !os.IsNotExist(err) {
		t.Errorf("list created %s", e.cfg.DBPath)
	}
}

func TestCodecCmds(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&CodecEncodeCmd{Counts: []string{"0", "0", "0", "12", "30", "0", "4"}}).Run(e); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "0 3 12 30 0 1 4" {
		t.Errorf("encode = %q", got)
	}

	out.Reset()
	e.in = strings.NewReader("0 3 12 30\n0 1 4\n")
	if err := (&CodecDecodeCmd{}).Run(e); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "0 0 0 12 30 0 4" {
		t.Errorf("decode = %q", got)
	}

	if err := (&CodecDecodeCmd{Tokens: []string{"5", "0"}}).Run(e); !errors.Is(err, n42errors.ErrDecode) {
		t.Errorf("dangling zero error = %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	e, out := newTestEnv(t)
	if err := (&VersionCmd{}).Run(e); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "n42 version "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestCLILoadOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "n42.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_path: from-file.db\nworkers: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cli := &CLI{Config: cfgPath, Archive: filepath.Join(dir, "blobs"), Validate: true, LogLevel: "error"}
	cfg, err := cli.load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "from-file.db" || cfg.ArchiveDir != filepath.Join(dir, "blobs") || !cfg.SchemaCheck || cfg.Workers != 4 {
		t.Errorf("config = %+v", cfg)
	}

	cli = &CLI{LogFormat: "xml"}
	if _, err := cli.load(); err == nil {
		t.Error("bad log format accepted")
	}
}
