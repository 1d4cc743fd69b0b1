package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ehr/specialty/internal/domain/specialty"
)

// packCmd groups offline tooling that works directly on a pack root and
// needs no database.
func packCmd() *cobra.Command {
	v := viper.New()
	v.SetDefault("PACK_ROOT", "./specialty-packs")
	_ = v.BindEnv("PACK_ROOT")

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Inspect and validate specialty packs on disk",
	}
	cmd.PersistentFlags().String("root", "", "Pack root directory (defaults to PACK_ROOT)")
	_ = v.BindPFlag("PACK_ROOT", cmd.PersistentFlags().Lookup("root"))

	newLoader := func(root string) *specialty.Loader {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		return specialty.NewLoader(os.DirFS(root), specialty.NewPackCache(), logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a pack version directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePackDir(cmd.Context(), cmd.OutOrStdout(), args[0], newLoader)
		},
	})

	inspectCmd := &cobra.Command{
		Use:   "inspect <slug> [version]",
		Short: "Print a compiled pack",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			loader := newLoader(v.GetString("PACK_ROOT"))

			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			if version == "" {
				latest, err := specialty.NewCatalog(loader).Latest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				version = latest
			}

			pack, err := loader.Load(cmd.Context(), args[0], version)
			if err != nil {
				printInvalid(cmd.ErrOrStderr(), err)
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, pack)
		},
	}
	inspectCmd.Flags().String("format", "json", "Output format: json or yaml")
	cmd.AddCommand(inspectCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list [query]",
		Short: "List packs on disk, optionally fuzzy-filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			entries, err := specialty.NewCatalog(newLoader(v.GetString("PACK_ROOT"))).Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), entries)
		},
	})

	return cmd
}

// validatePackDir checks the manifest in dir. When dir sits at
// <root>/<slug>/<version>, the whole pack is also compiled so that missing or
// broken artifacts are reported.
func validatePackDir(ctx context.Context, w io.Writer, dir string, newLoader func(string) *specialty.Loader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(abs, specialty.ManifestFile))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	m, err := specialty.ParseManifest(data)
	if err != nil {
		printInvalid(w, err)
		return err
	}

	version := filepath.Base(abs)
	slug := filepath.Base(filepath.Dir(abs))
	if specialty.ValidSlug(slug) && specialty.ValidVersion(version) {
		pack, err := newLoader(filepath.Dir(filepath.Dir(abs))).Load(ctx, slug, version)
		if err != nil {
			printInvalid(w, err)
			return err
		}
		fmt.Fprintf(w, "%s: valid (%d templates, dependencies %v)\n", pack.Key(), len(pack.Templates), pack.Dependencies)
		return nil
	}

	fmt.Fprintf(w, "%s: manifest valid\n", m.Key())
	return nil
}

func printInvalid(w io.Writer, err error) {
	var mie *specialty.ManifestInvalidError
	if !errors.As(err, &mie) {
		return
	}
	fmt.Fprintf(w, "%s@%s: %d violation(s)\n", mie.Slug, mie.Version, len(mie.Violations))
	for _, v := range mie.Violations {
		fmt.Fprintf(w, "  - %s\n", v.String())
	}
}

// writeFormatted renders v as indented JSON or as YAML. YAML goes through a
// generic JSON round trip so raw JSON artifacts render as structures.
func writeFormatted(w io.Writer, format string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml", "yml":
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func writeCatalog(w io.Writer, entries []specialty.CatalogEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tLATEST\tVERSIONS\tCATEGORY\tNAME")
	for _, e := range entries {
		name := e.Name
		if e.Error != "" {
			name = "error: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Slug, e.Latest, len(e.Versions), e.Category, name)
	}
	return tw.Flush()
}
