package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/store/yamlfile"
)

func newAutoMapCommand() *cobra.Command {
	var (
		kindFlag     string
		fileFlag     string
		sheetFlag    string
		sourceFlag   string
		mappingsFlag string
		forceFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "automap",
		Short: "Propose and save a field mapping for a file's headers",
		Long: `automap matches the file's headers against each field's known column
names. Fields already in the saved mapping keep their column unless --force
is given.`,
		Example: `  tabimport automap -k project -f obras.xlsx -m mappings.yaml
  tabimport automap -k ticket -f cambios.csv -m mappings.yaml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := core.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			def, err := core.Definition(kind)
			if err != nil {
				return err
			}

			src, err := openFile(fileFlag, sheetFlag)
			if err != nil {
				return err
			}
			defer closeSource(src)

			set, err := src.Read(cmd.Context())
			if err != nil {
				return err
			}

			name := sourceFlag
			if name == "" {
				name = filepath.Base(fileFlag)
			}
			key := core.MappingKey{Kind: kind, Source: name}
			store := yamlfile.New(mappingsFlag)

			var existing core.FieldMapping
			saved, err := store.Load(cmd.Context(), key)
			switch {
			case err == nil:
				existing = saved.Fields
			case !errors.Is(err, core.ErrMappingNotFound):
				return err
			}

			mapping := core.NewColumnResolver(set.Columns).AutoMap(def, existing, forceFlag)
			err = store.Save(cmd.Context(), core.StoredMapping{
				Key:       key,
				Fields:    mapping,
				Headers:   set.Columns,
				UpdatedAt: core.Now(),
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tCOLUMN")
			for _, f := range def.Fields {
				col := mapping[f.Name]
				if col == "" {
					col = "-"
				}
				fmt.Fprintf(w, "%s\t%s\n", f.Name, col)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", key, store.Path())
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Record kind")
	cmd.Flags().StringVarP(&fileFlag, "file", "f", "", "CSV or XLSX file whose headers to map")
	cmd.Flags().StringVar(&sheetFlag, "sheet", "", "Workbook sheet to read (default: first)")
	cmd.Flags().StringVar(&sourceFlag, "source", "", "Name the mapping is saved under (default: file name)")
	cmd.Flags().StringVarP(&mappingsFlag, "mappings", "m", "mappings.yaml", "YAML file of saved field mappings")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite fields that already have a column")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newKindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the record kinds and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, def := range core.All() {
				fmt.Fprintf(w, "%s\t%s\n", def.Kind, def.Label)
				for _, f := range def.Fields {
					req := ""
					if f.Required {
						req = "required"
					}
					fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Name, f.Label, req)
				}
			}
			return w.Flush()
		},
	}
}
