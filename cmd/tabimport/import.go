package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/source"
	"github.com/JonMunkholm/tabimport/internal/store/yamlfile"
)

// importFlags are shared by import and preview.
type importFlags struct {
	kind     string
	file     string
	sheet    string
	source   string
	existing string
	projects string
	out      string
	mappings string
	region   string
	mapping  []string
	remap    bool
	enrich   bool
	distance int
	json     bool
}

func (f *importFlags) register(cmd *cobra.Command, withOut bool) {
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "", "Record kind (project, lead, ticket, purchase)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "CSV or XLSX file to import")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Workbook sheet to read (default: first)")
	cmd.Flags().StringVar(&f.source, "source", "", "Name the field mapping is saved under (default: file name)")
	cmd.Flags().StringVarP(&f.existing, "existing", "e", "", "JSON file with the current collection")
	cmd.Flags().StringVar(&f.projects, "projects", "", "JSON file with projects to resolve project names against")
	cmd.Flags().StringVarP(&f.mappings, "mappings", "m", "", "YAML file of saved field mappings")
	cmd.Flags().StringVar(&f.region, "region", "", "Keep only rows of this region (overrides the kind's filter)")
	cmd.Flags().StringSliceVar(&f.mapping, "map", nil, "Explicit field=column choices, repeatable")
	cmd.Flags().BoolVar(&f.remap, "remap", false, "Re-run auto-mapping over the saved mapping")
	cmd.Flags().BoolVar(&f.enrich, "enrich", false, "Merge duplicates by natural key instead of skipping them")
	cmd.Flags().IntVar(&f.distance, "max-distance", core.DefaultMaxDistance, "Fingerprint edit distance treated as the same record (-1 disables)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the result as JSON")
	if withOut {
		cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write the merged collection here (default: the --existing file)")
	}
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
}

func newImportCommand() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a file and write the merged collection",
		Example: `  tabimport import -k ticket -f cambios.xlsx -e tickets.json
  tabimport import -k project -f obras.csv -e projects.json -o merged.json --region MEX
  tabimport import -k lead -f leads.csv -m mappings.yaml --map email=Correo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, importer, err := flags.build()
			if err != nil {
				return err
			}
			defer closeSource(req.Source)

			res, err := importer.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := flags.out
			if out == "" {
				out = flags.existing
			}
			if out != "" {
				if err := writeRecords(out, res.Records); err != nil {
					return err
				}
			}
			return printResult(cmd.OutOrStdout(), res, flags.json)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newPreviewCommand() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what an import would change without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, importer, err := flags.build()
			if err != nil {
				return err
			}
			defer closeSource(req.Source)

			preview, err := importer.Preview(cmd.Context(), req)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd.OutOrStdout(), preview)
			}
			return printPreview(cmd.OutOrStdout(), preview)
		},
	}
	flags.register(cmd, false)
	return cmd
}

// build opens the file and loads the collection named by the flags.
func (f *importFlags) build() (core.ImportRequest, *core.Importer, error) {
	kind, err := core.ParseKind(f.kind)
	if err != nil {
		return core.ImportRequest{}, nil, err
	}
	mapping, err := parseFieldMapping(f.mapping)
	if err != nil {
		return core.ImportRequest{}, nil, err
	}

	existing, err := readRecords(kind, f.existing)
	if err != nil {
		return core.ImportRequest{}, nil, err
	}
	projects := existing
	if kind != core.KindProject {
		if projects, err = readRecords(core.KindProject, f.projects); err != nil {
			return core.ImportRequest{}, nil, err
		}
	}

	src, err := openFile(f.file, f.sheet)
	if err != nil {
		return core.ImportRequest{}, nil, err
	}

	policy := core.DefaultMergePolicy()
	policy.MaxDistance = f.distance
	if f.enrich {
		policy.Enrich = map[core.Kind]bool{kind: true}
	}
	opts := []core.Option{core.WithPolicy(policy)}
	if f.mappings != "" {
		opts = append(opts, core.WithMappingStore(yamlfile.New(f.mappings)))
	}

	req := core.ImportRequest{
		Kind:          kind,
		Source:        src,
		MappingSource: f.source,
		Mapping:       mapping,
		Remap:         f.remap,
		Existing:      existing,
		Projects:      core.ProjectRefs(projects),
		FilterTarget:  f.region,
	}
	return req, core.NewImporter(opts...), nil
}

// fileSource is a spreadsheet read from disk.
type fileSource struct {
	*source.File
	f *os.File
}

func openFile(path, sheet string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}
	// Local files are not bound by the upload limit.
	file := source.NewFile(filepath.Base(path), f, source.WithMaxBytes(0), source.WithSheet(sheet))
	return &fileSource{File: file, f: f}, nil
}

func closeSource(src core.RowSource) {
	if s, ok := src.(*fileSource); ok {
		_ = s.f.Close()
	}
}

// readRecords loads a JSON collection. A missing file is an empty one.
func readRecords(kind core.Kind, path string) ([]core.Record, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return core.DecodeRecords(kind, data)
}

// writeRecords replaces path with records, through a temp file.
func writeRecords(path string, records []core.Record) error {
	data, err := core.EncodeRecords(records)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tabimport-*.json")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// parseFieldMapping reads field=column pairs.
func parseFieldMapping(pairs []string) (core.FieldMapping, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := core.FieldMapping{}
	for _, p := range pairs {
		field, column, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("invalid --map %q, want field=column", p)
		}
		m[strings.TrimSpace(field)] = strings.TrimSpace(column)
	}
	return m, nil
}

func printResult(w io.Writer, res *core.ImportResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "%s: %s\n", res.Source, res.Summary())
	fmt.Fprintf(w, "  rows %d, skipped %d, filtered %d, blank %d, degraded values %d\n",
		res.TotalRows, res.Skipped, res.Filtered, res.Blank, res.Degraded)
	if res.WriteFailed > 0 {
		fmt.Fprintf(w, "  %d records could not be written\n", res.WriteFailed)
	}
	return nil
}

func printPreview(w io.Writer, p *core.PreviewResult) error {
	if err := printResult(w, p.Result, false); err != nil {
		return err
	}
	if len(p.Unset) > 0 {
		fmt.Fprintf(w, "  unmapped fields: %s\n", strings.Join(p.Unset, ", "))
	}
	for _, rec := range p.NewSamples {
		fmt.Fprintf(w, "  + %s\n", rec.Base().ID)
	}
	for _, rec := range p.UpdateSamples {
		fmt.Fprintf(w, "  ~ %s\n", rec.Base().ID)
	}
	for _, msg := range p.ErrorSamples {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
