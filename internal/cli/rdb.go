package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/datakit/internal/rdb"
	"github.com/roach88/datakit/internal/value"
)

type rdbOptions struct {
	root *RootOptions
	name string
}

// QueryOutput is a materialized query result. NULL cells are nil.
type QueryOutput struct {
	Columns []string    `json:"columns"`
	Rows    [][]*string `json:"rows"`
}

func (q QueryOutput) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(q.Columns, "\t"))
	for _, row := range q.Rows {
		sb.WriteString("\n")
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("\t")
			}
			if cell == nil {
				sb.WriteString("NULL")
			} else {
				sb.WriteString(*cell)
			}
		}
	}
	fmt.Fprintf(&sb, "\n(%d rows)", len(q.Rows))
	return sb.String()
}

// FileOutput reports a backup or restore.
type FileOutput struct {
	Op    string `json:"op"`
	File  string `json:"file"`
	Bytes int64  `json:"bytes"`
}

func (f FileOutput) String() string {
	return fmt.Sprintf("%s %s (%s)", f.Op, f.File, humanize.Bytes(uint64(f.Bytes)))
}

// NewRDBCommand creates the rdb command group.
func NewRDBCommand(root *RootOptions) *cobra.Command {
	opts := &rdbOptions{root: root}

	cmd := &cobra.Command{
		Use:   "rdb",
		Short: "Work with relational stores",
		Long: `Work with relational stores in the configured databases directory.

Stores declared in the config file open with their declared version,
security level and encryption; any other name opens at S1.`,
	}
	cmd.PersistentFlags().StringVar(&opts.name, "name", "datakit.db", "store name")

	exec := &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Execute a statement that returns no rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				if _, err := s.ExecuteSQL(args[0], bindArgs(args[1:])...).Await(ctx); err != nil {
					return nil, err
				}
				return "ok", nil
			})
		},
	}

	query := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a query and print its rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				rs, err := s.QuerySQL(args[0], bindArgs(args[1:])...).Await(ctx)
				if err != nil {
					return nil, err
				}
				defer rs.Close()
				return collect(rs)
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the store's schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				return s.GetVersion().Await(ctx)
			})
		},
	}

	setVersion := &cobra.Command{
		Use:   "set-version <n>",
		Short: "Set the store's schema version",
		Long: `Set the store's schema version. Values outside the 32-bit range keep
their low 32 bits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid version", err)
			}
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				if _, err := s.SetVersion(n).Await(ctx); err != nil {
					return nil, err
				}
				return s.GetVersion().Await(ctx)
			})
		},
	}

	backup := &cobra.Command{
		Use:   "backup <file>",
		Short: "Copy the store to file",
		Long: `Copy the store to file. A bare file name is placed next to the store;
an existing file is replaced only if the copy succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				if _, err := s.Backup(args[0]).Await(ctx); err != nil {
					return nil, err
				}
				return fileOutput("backup", s, args[0])
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the store's contents with file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *rdb.Store) (any, error) {
				if _, err := s.Restore(args[0]).Await(ctx); err != nil {
					return nil, err
				}
				return fileOutput("restore", s, args[0])
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the store and its companion files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := rdb.NewManager(opts.root.Config.DatabasesDir(), opts.root.Config.RDBOptions()...)
			if _, err := m.DeleteStore(opts.name).Await(cmd.Context()); err != nil {
				return opts.root.fail(cmd, err)
			}
			return opts.root.formatter(cmd).Success(fmt.Sprintf("deleted %s", opts.name))
		},
	}

	cmd.AddCommand(exec, query, version, setVersion, backup, restore, del)
	return cmd
}

func (o *rdbOptions) run(cmd *cobra.Command, fn func(ctx context.Context, s *rdb.Store) (any, error)) error {
	cfg := o.root.Config
	storeCfg, err := cfg.StoreFor(o.name).RDB()
	if err != nil {
		return o.root.fail(cmd, err)
	}
	m := rdb.NewManager(cfg.DatabasesDir(), cfg.RDBOptions()...)
	defer m.Close()

	ctx := cmd.Context()
	s, err := m.GetStore(storeCfg).Await(ctx)
	if err != nil {
		return o.root.fail(cmd, err)
	}
	o.root.formatter(cmd).VerboseLog("store %s (driver %s)", s.Path(), m.Driver())

	data, err := fn(ctx, s)
	if err != nil {
		return o.root.fail(cmd, err)
	}
	return o.root.formatter(cmd).Success(data)
}

// bindArgs passes command line arguments as text parameters.
func bindArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func collect(rs *rdb.ResultSet) (QueryOutput, error) {
	out := QueryOutput{Columns: rs.ColumnNames(), Rows: [][]*string{}}
	for rs.GoToNextRow() {
		row := make([]*string, rs.ColumnCount())
		for i := range row {
			v, err := rs.GetValue(i)
			if err != nil {
				return QueryOutput{}, err
			}
			if v != nil {
				text := value.Format(v)
				row[i] = &text
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func fileOutput(op string, s *rdb.Store, file string) (FileOutput, error) {
	path := file
	if op == "backup" && filepath.Base(file) == file {
		path = filepath.Join(filepath.Dir(s.Path()), file)
	}
	if op == "restore" {
		path = s.Path()
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileOutput{}, err
	}
	return FileOutput{Op: op, File: file, Bytes: info.Size()}, nil
}
