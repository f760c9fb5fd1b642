package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/engine"
	"github.com/tuannm99/sealdb/internal/sql/planner"
)

func newInitCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Create a new encrypted database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil {
				return usageErrorf("%s already exists", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			db, err := g.open(path, engine.CreateIfMissing)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s (page size %d, id %s)\n",
				path, db.Header.PageSize, db.Header.DatabaseID)
			if cerr := db.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func newInfoCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show header fields, page counts and file sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return g.withDB(path, func(db *engine.Database) error {
				ctx := cmd.Context()
				meta, err := db.Meta(ctx)
				if err != nil {
					return err
				}
				free, err := db.FreePages(ctx)
				if err != nil {
					return err
				}
				tables, err := db.Tables(ctx)
				if err != nil {
					return err
				}
				stats := db.Stats()
				h := db.Header

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "database id\t%s\n", h.DatabaseID)
				fmt.Fprintf(w, "format version\t%d\n", h.Version)
				fmt.Fprintf(w, "page size\t%s\n", humanize.IBytes(uint64(h.PageSize)))
				fmt.Fprintf(w, "kdf\targon2id m=%s t=%d p=%d\n",
					humanize.IBytes(uint64(h.ArgonMemory)*1024), h.ArgonIterations, h.ArgonParallel)
				fmt.Fprintf(w, "pages\t%s (%s free)\n", humanize.Comma(int64(meta.PageCount)), humanize.Comma(int64(free)))
				fmt.Fprintf(w, "file size\t%s\n", humanize.IBytes(fileSize(path)))
				fmt.Fprintf(w, "wal size\t%s\n", humanize.IBytes(fileSize(path+engine.WALSuffix)))
				fmt.Fprintf(w, "tables\t%d\n", len(tables))
				fmt.Fprintf(w, "schema version\t%d\n", meta.SchemaVersion)
				fmt.Fprintf(w, "foreign keys\t%t\n", meta.ForeignKeys())
				fmt.Fprintf(w, "commit seq\t%d\n", stats.CommitSeq)
				return w.Flush()
			})
		},
	}
}

func newVerifyCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Decrypt every page and report integrity failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(args[0], func(db *engine.Database) error {
				bad, err := db.Verify(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(bad) == 0 {
					_, err := fmt.Fprintln(out, "ok")
					return err
				}
				ids := make([]string, len(bad))
				for i, id := range bad {
					ids[i] = strconv.FormatUint(uint64(id), 10)
				}
				fmt.Fprintf(out, "%d page(s) failed: %s\n", len(bad), strings.Join(ids, ", "))
				return &ExitError{Code: ExitCodeIntegrity, Err: fmt.Errorf("%w: %d page(s)", dberr.ErrIntegrity, len(bad))}
			})
		},
	}
}

func newCheckpointCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <path>",
		Short: "Copy committed pages from the log into the database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(args[0], func(db *engine.Database) error {
				if err := db.Checkpoint(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "wal size %s\n", humanize.IBytes(uint64(db.Stats().WALBytes)))
				return err
			})
		},
	}
}

func newSchemaVersionCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema-version <path> [n]",
		Short: "Print or set the schema version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				set bool
				n   int64
			)
			if len(args) == 2 {
				v, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return usageErrorf("schema version must be an integer: %q", args[1])
				}
				set, n = true, v
			}
			return g.withDB(args[0], func(db *engine.Database) error {
				if set {
					if err := db.SetSchemaVersion(cmd.Context(), n); err != nil {
						return err
					}
				}
				meta, err := db.Meta(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), meta.SchemaVersion)
				return err
			})
		},
	}
}

func newTablesCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <path>",
		Short: "List tables and their columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(args[0], func(db *engine.Database) error {
				tables, err := db.Tables(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range tables {
					cols := make([]string, len(t.Schema.Cols))
					for i, c := range t.Schema.Cols {
						def := c.Name + " " + c.Type.String()
						switch {
						case c.PrimaryKey:
							def += " PRIMARY KEY"
						case c.Unique:
							def += " UNIQUE"
						}
						if !c.Nullable && !c.PrimaryKey {
							def += " NOT NULL"
						}
						if c.References != nil {
							def += fmt.Sprintf(" REFERENCES %s(%s)", c.References.Table, c.References.Column)
						}
						cols[i] = def
					}
					if _, err := fmt.Fprintf(out, "%s (%s)\n", t.Name, strings.Join(cols, ", ")); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDumpCommand(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dump <path> <table>",
		Short: "Print the rows of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(args[0], func(db *engine.Database) error {
				res, err := db.Select(cmd.Context(), &planner.SelectPlan{
					TableName: args[1],
					OrderBy:   []planner.OrderBy{{Column: "rowid"}},
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "rowid\t%s\n", strings.Join(res.Columns, "\t"))
				for i, row := range res.Rows {
					cells := make([]string, len(row))
					for j, v := range row {
						cells[j] = v.String()
					}
					fmt.Fprintf(w, "%d\t%s\n", res.RowIDs[i], strings.Join(cells, "\t"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 = all)")
	return cmd
}

func newPageCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "page <path> <id>",
		Short: "Decrypt one page and print its decoded slot directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return usageErrorf("page id must be an unsigned integer: %q", args[1])
			}
			return g.withDB(args[0], func(db *engine.Database) error {
				return db.DumpPage(cmd.Context(), uint32(id), cmd.OutOrStdout())
			})
		},
	}
}
