// Command n42 reads, validates, archives and exports ANSI N42.42 radiation
// measurement files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/n42kit/core/archive"
	"github.com/FocuswithJustin/n42kit/core/channeldata"
	"github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/n42"
	"github.com/FocuswithJustin/n42kit/core/schema"
	"github.com/FocuswithJustin/n42kit/core/sqlite"
	"github.com/FocuswithJustin/n42kit/core/store"
	"github.com/FocuswithJustin/n42kit/internal/config"
	"github.com/FocuswithJustin/n42kit/internal/logging"
	"github.com/FocuswithJustin/n42kit/internal/validation"
	"github.com/FocuswithJustin/n42kit/internal/workerpool"
)

const version = "0.1.0"

// CLI defines the command-line interface for n42.
type CLI struct {
	// Global flags override values from the config file.
	Config    string `short:"c" help:"YAML configuration file" type:"path" env:"N42_CONFIG"`
	DB        string `name:"db" help:"SQLite database path (overrides db_path)" type:"path"`
	Archive   string `help:"Blob archive directory (overrides archive_dir)" type:"path"`
	LogLevel  string `help:"Log level: debug, info, warn, error (overrides log_level)"`
	LogFormat string `help:"Log format: json or text (overrides log_format)"`
	Validate  bool   `help:"Check documents against the N42.42-2011 schema profile"`
	Workers   int    `help:"Concurrent ingest workers (overrides workers)"`

	Parse    ParseCmd    `cmd:"" help:"Parse files and print a summary"`
	Check    ValidateCmd `cmd:"" name:"validate" help:"Check files against the schema profile"`
	Energies EnergiesCmd `cmd:"" help:"Print channel energies of a spectrum"`
	Ingest   IngestCmd   `cmd:"" help:"Archive and store files"`
	List     ListCmd     `cmd:"" help:"List stored documents"`
	Show     ShowCmd     `cmd:"" help:"Summarize a stored document"`
	Export   ExportCmd   `cmd:"" help:"Write a stored document as N42 XML"`
	Codec    CodecGroup  `cmd:"" help:"Convert ChannelData token streams"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// CodecGroup contains channel-data conversions.
type CodecGroup struct {
	Encode CodecEncodeCmd `cmd:"" help:"Compress counts to CountedZeroes"`
	Decode CodecDecodeCmd `cmd:"" help:"Expand CountedZeroes to counts"`
}

// env carries resolved configuration and I/O to every command.
type env struct {
	cfg *config.Config
	out io.Writer
	in  io.Reader
}

// load resolves the configuration file and flag overrides, then initializes
// logging.
func (c *CLI) load() (*config.Config, error) {
	cfg, err := config.LoadOptional(c.Config)
	if err != nil {
		return nil, err
	}
	if c.DB != "" {
		cfg.DBPath = c.DB
	}
	if c.Archive != "" {
		cfg.ArchiveDir = c.Archive
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}
	if c.Validate {
		cfg.SchemaCheck = true
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	format, _ := logging.ParseFormat(cfg.LogFormat)
	logging.InitLogger(level, format)
	return cfg, nil
}

// readOptions builds reader options from the configuration.
func (e *env) readOptions(validate bool) (*n42.Options, error) {
	opts := &n42.Options{}
	if validate || e.cfg.SchemaCheck {
		v, err := schema.Default()
		if err != nil {
			return nil, errors.Wrap(err, "load schema profile")
		}
		opts.Validator = v
	}
	return opts, nil
}

func (e *env) openStore(ctx context.Context) (*store.Store, error) {
	if dir := filepath.Dir(e.cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.NewIO("create", dir, err)
		}
	}
	return store.Open(ctx, e.cfg.DBPath)
}

func (e *env) openStoreReadOnly(ctx context.Context) (*store.Store, error) {
	return store.OpenReadOnly(ctx, e.cfg.DBPath)
}

func (e *env) openArchive() (*archive.Store, error) {
	return archive.NewStore(e.cfg.ArchiveDir)
}

// ParseCmd parses files and prints their summaries.
type ParseCmd struct {
	Paths []string `arg:"" help:"N42 files to parse" type:"existingfile"`
	JSON  bool     `help:"Print summaries as JSON"`
}

func (c *ParseCmd) Run(e *env) error {
	opts, err := e.readOptions(false)
	if err != nil {
		return err
	}

	summaries := make([]docSummary, 0, len(c.Paths))
	for _, path := range c.Paths {
		doc, err := n42.ReadFile(path, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		summaries = append(summaries, summarize(path, doc))
	}

	if c.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	for _, s := range summaries {
		printSummary(e.out, s)
	}
	return nil
}

// ValidateCmd checks files against the schema profile and the reader rules.
type ValidateCmd struct {
	Paths []string `arg:"" help:"N42 files to check" type:"existingfile"`
}

func (c *ValidateCmd) Run(e *env) error {
	opts, err := e.readOptions(true)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range c.Paths {
		if _, err := n42.ReadFile(path, opts); err != nil {
			failed++
			fmt.Fprintf(e.out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(e.out, "OK   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(c.Paths))
	}
	return nil
}

// EnergiesCmd prints the calibrated channel boundaries of one spectrum.
type EnergiesCmd struct {
	Path     string `arg:"" help:"N42 file" type:"existingfile"`
	Spectrum string `short:"s" help:"Spectrum id (default: first spectrum)"`
}

func (c *EnergiesCmd) Run(e *env) error {
	opts, err := e.readOptions(false)
	if err != nil {
		return err
	}
	doc, err := n42.ReadFile(c.Path, opts)
	if err != nil {
		return err
	}

	sp, err := pickSpectrum(doc, c.Spectrum)
	if err != nil {
		return err
	}
	edges, ok := doc.Energies(sp)
	if !ok {
		return fmt.Errorf("spectrum %s has no energy calibration", sp.ID)
	}
	widths, _ := doc.BinWidths(sp)
	centers, _ := doc.Centers(sp)

	fmt.Fprintf(e.out, "%8s %12s %12s %12s %10s %10s\n", "channel", "low", "center", "high", "width", "counts")
	for i, count := range sp.Counts {
		fmt.Fprintf(e.out, "%8d %12.4f %12.4f %12.4f %10.4f %10d\n", i, edges[i], centers[i], edges[i+1], widths[i], count)
	}
	return nil
}

func pickSpectrum(doc *n42.Document, id string) (*n42.Spectrum, error) {
	if id != "" {
		_, sp, ok := doc.FindSpectrum(id)
		if !ok {
			return nil, errors.NewNotFound("spectrum", id)
		}
		return sp, nil
	}
	for i := range doc.Measurements {
		if len(doc.Measurements[i].Spectra) > 0 {
			return &doc.Measurements[i].Spectra[0], nil
		}
	}
	return nil, errors.NewNotFound("spectrum", "")
}

// IngestCmd archives raw files and stores their parsed documents.
type IngestCmd struct {
	Paths []string `arg:"" help:"N42 files to ingest" type:"existingfile"`
}

type ingestResult struct {
	path    string
	id      string
	digest  string
	size    int64
	stored  int64
	skipped bool
	err     error
}

func (c *IngestCmd) Run(e *env) error {
	ctx := logging.WithRunID(context.Background(), uuid.NewString())

	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	ar, err := e.openArchive()
	if err != nil {
		return err
	}
	opts, err := e.readOptions(false)
	if err != nil {
		return err
	}

	logging.InfoContext(ctx, "ingest started", "files", len(c.Paths), "workers", workerpool.Size(e.cfg.WorkerCount(), len(c.Paths)))
	results := workerpool.Map(ctx, e.cfg.WorkerCount(), c.Paths, func(ctx context.Context, path string) ingestResult {
		return ingestOne(ctx, st, ar, *opts, path)
	})

	failed := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			logging.ErrorContext(ctx, "ingest failed", "path", r.path, "error", r.err)
			fmt.Fprintf(e.out, "FAIL    %s: %v\n", r.path, r.err)
		case r.skipped:
			fmt.Fprintf(e.out, "SKIP    %s already stored as %s\n", r.path, r.id)
		default:
			fmt.Fprintf(e.out, "STORED  %s as %s (%s, %s archived)\n", r.path, r.id,
				humanize.Bytes(uint64(r.size)), humanize.Bytes(uint64(r.stored)))
		}
	}
	if failed > 0 {
		logging.WarnContext(ctx, "ingest finished with failures", "files", len(results), "failed", failed)
		return fmt.Errorf("%d of %d files failed to ingest", failed, len(results))
	}
	logging.InfoContext(ctx, "ingest finished", "files", len(results))
	return nil
}

func ingestOne(ctx context.Context, st *store.Store, ar *archive.Store, opts n42.Options, path string) ingestResult {
	r := ingestResult{path: path}
	if r.err = n42.CheckExtension(path); r.err != nil {
		return r
	}
	if _, r.err = validation.CheckFile(path); r.err != nil {
		return r
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.err = errors.NewIO("read", path, err)
		return r
	}
	if r.err = validation.SniffXML(data); r.err != nil {
		return r
	}
	r.size = int64(len(data))
	r.digest = archive.Digest(data)

	if rec, err := st.FindByDigest(ctx, r.digest); err == nil {
		logging.DebugContext(ctx, "ingest skipped duplicate", "path", path, "document_id", rec.ID)
		r.id, r.skipped = rec.ID, true
		return r
	} else if !errors.Is(err, errors.ErrNotFound) {
		r.err = err
		return r
	}

	opts.Source = path
	opts.Logger = logging.LoggerFromContext(ctx)
	doc, err := n42.ReadBytes(data, &opts)
	if err != nil {
		logging.ParseFailed(path, err)
		r.err = err
		return r
	}

	if _, r.stored, r.err = ar.Put(data); r.err != nil {
		return r
	}
	if r.id, err = st.Save(ctx, doc, path, r.digest); err != nil {
		// A concurrent worker may have stored identical content first.
		if rec, ferr := st.FindByDigest(ctx, r.digest); ferr == nil {
			logging.DebugContext(ctx, "ingest lost race to identical content", "path", path, "document_id", rec.ID)
			r.id, r.skipped = rec.ID, true
			return r
		}
		r.err = err
		return r
	}
	logging.IngestEvent(ctx, path, r.id, r.digest, r.size, "archived_bytes", r.stored)
	return r
}

// ListCmd lists stored documents.
type ListCmd struct {
	JSON bool `help:"Print records as JSON"`
}

func (c *ListCmd) Run(e *env) error {
	ctx := context.Background()
	st, err := e.openStoreReadOnly(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		fmt.Fprintf(e.out, "No documents in %s\n", e.cfg.DBPath)
		return nil
	}
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintf(e.out, "No documents in %s\n", st.Path())
		return nil
	}

	fmt.Fprintf(e.out, "%-36s %-16s %5s %8s  %s\n", "ID", "INGESTED", "MEAS", "SPECTRA", "SOURCE")
	for _, r := range records {
		fmt.Fprintf(e.out, "%-36s %-16s %5d %8d  %s\n", r.ID, humanize.Time(r.IngestedAt), r.Measurements, r.Spectra, r.Source)
	}
	fmt.Fprintf(e.out, "\nTotal: %d documents\n", len(records))
	return nil
}

// ShowCmd prints a stored document summary.
type ShowCmd struct {
	ID   string `arg:"" help:"Document id"`
	JSON bool   `help:"Print the summary as JSON"`
}

func (c *ShowCmd) Run(e *env) error {
	ctx := context.Background()
	st, err := e.openStoreReadOnly(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	doc, err := st.Load(ctx, c.ID)
	if err != nil {
		return err
	}

	s := summarize(rec.Source, doc)
	if c.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Record  store.Record `json:"record"`
			Summary docSummary   `json:"summary"`
		}{rec, s})
	}
	fmt.Fprintf(e.out, "document %s\n  ingested %s (%s)\n", rec.ID, rec.IngestedAt.Format(time.RFC3339), humanize.Time(rec.IngestedAt))
	if rec.Digest != "" {
		fmt.Fprintf(e.out, "  blake3 %s\n", rec.Digest)
	}
	printSummary(e.out, s)
	return nil
}

// ExportCmd writes a stored document back to N42 XML.
type ExportCmd struct {
	ID          string `arg:"" help:"Document id"`
	Out         string `short:"o" required:"" help:"Output path (.n42, or .n42.xz with --xz)" type:"path"`
	XZ          bool   `name:"xz" help:"Compress the output with xz"`
	Original    bool   `help:"Export the archived source bytes instead of re-serializing"`
	Compression string `help:"Force ChannelData compression: None or CountedZeroes (overrides default_compression)"`
}

func (c *ExportCmd) Run(e *env) error {
	ctx := context.Background()
	st, err := e.openStoreReadOnly(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := c.render(ctx, e, st)
	if err != nil {
		return err
	}

	out := c.Out
	if c.XZ && !strings.HasSuffix(out, ".xz") {
		out += ".xz"
	}
	if err := validation.ValidatePath(out); err != nil {
		return err
	}
	if err := writeOutput(out, data, c.XZ); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Exported %s to %s\n", c.ID, out)
	return nil
}

func (c *ExportCmd) render(ctx context.Context, e *env, st *store.Store) ([]byte, error) {
	if c.Original {
		rec, err := st.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if rec.Digest == "" {
			return nil, fmt.Errorf("document %s has no archived source", c.ID)
		}
		ar, err := e.openArchive()
		if err != nil {
			return nil, err
		}
		return ar.Get(rec.Digest)
	}

	doc, err := st.Load(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	opts := &n42.WriteOptions{}
	switch c.Compression {
	case "":
		if comp, ok := e.cfg.Compression(); ok {
			opts.Compression = &comp
		}
	case "None", channeldata.CountedZeroesCode:
		comp := channeldata.ParseCompression(c.Compression)
		opts.Compression = &comp
	default:
		return nil, errors.NewValidation("compression", "use None or CountedZeroes, got "+c.Compression)
	}
	return n42.Marshal(doc, opts)
}

// writeOutput writes data to path, xz-compressed when compress is set.
func writeOutput(path string, data []byte, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("create", path, err)
	}
	var w io.Writer = f
	var xw *xz.Writer
	if compress {
		if xw, err = xz.NewWriter(f); err != nil {
			f.Close()
			return fmt.Errorf("xz writer: %w", err)
		}
		w = xw
	}
	if _, err := w.Write(data); err != nil {
		f.Close()
		return errors.NewIO("write", path, err)
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			f.Close()
			return errors.NewIO("compress", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return errors.NewIO("close", path, err)
	}
	return nil
}

// CodecEncodeCmd compresses counts to a CountedZeroes token stream.
type CodecEncodeCmd struct {
	Counts []string `arg:"" optional:"" help:"Counts (read from stdin when omitted)"`
}

func (c *CodecEncodeCmd) Run(e *env) error {
	text, err := tokensOrStdin(c.Counts, e.in)
	if err != nil {
		return err
	}
	counts, err := channeldata.Decode(text, channeldata.None)
	if err != nil {
		return err
	}
	encoded, err := channeldata.EncodeString(counts, channeldata.CountedZeroes)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, encoded)
	return nil
}

// CodecDecodeCmd expands a CountedZeroes token stream to counts.
type CodecDecodeCmd struct {
	Tokens []string `arg:"" optional:"" help:"CountedZeroes tokens (read from stdin when omitted)"`
}

func (c *CodecDecodeCmd) Run(e *env) error {
	text, err := tokensOrStdin(c.Tokens, e.in)
	if err != nil {
		return err
	}
	counts, err := channeldata.Decode(text, channeldata.CountedZeroes)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, channeldata.Format(counts))
	return nil
}

func tokensOrStdin(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", errors.NewIO("read", "stdin", err)
	}
	return string(data), nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	info := sqlite.GetInfo()
	fmt.Fprintf(e.out, "n42 version %s (sqlite driver %s, %s)\n", version, info.DriverName, info.DriverType)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("n42"),
		kong.Description("ANSI N42.42 radiation measurement file tool"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	cfg, err := cli.load()
	ctx.FatalIfErrorf(err)

	err = ctx.Run(&env{cfg: cfg, out: os.Stdout, in: os.Stdin})
	ctx.FatalIfErrorf(err)
}
