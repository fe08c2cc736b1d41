package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/datakit/internal/preferences"
	"github.com/roach88/datakit/internal/value"
)

type prefsOptions struct {
	root *RootOptions
	name string
	kind string
}

// PrefEntry is one key of a preferences store as printed by the CLI.
type PrefEntry struct {
	Key   string `json:"key"`
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func (e PrefEntry) String() string {
	if !e.Found {
		return fmt.Sprintf("%s not set", e.Key)
	}
	return fmt.Sprintf("%s = %s:%s", e.Key, e.Kind, e.Value)
}

// PrefList is the output of prefs list, sorted by key.
type PrefList []PrefEntry

func (l PrefList) String() string {
	if len(l) == 0 {
		return "(empty)"
	}
	lines := make([]string, len(l))
	for i, e := range l {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// NewPrefsCommand creates the prefs command group.
func NewPrefsCommand(root *RootOptions) *cobra.Command {
	opts := &prefsOptions{root: root}

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and write a preferences store",
	}
	cmd.PersistentFlags().StringVar(&opts.name, "name", "default", "preferences store name")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, p *preferences.Preferences) (any, error) {
				v, err := p.Get(args[0], nil).Await(ctx)
				if err != nil {
					return nil, err
				}
				return entry(args[0], v), nil
			})
		},
	}

	put := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a typed value under key and flush",
		Long: `Store a typed value under key and flush the store to disk.

--type selects the value kind: int32, int64, float64, bool, string or blob.
Blob values are given as standard base64.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := value.ParseKind(opts.kind)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --type", err)
			}
			v, err := value.Parse(kind, args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid value", err)
			}
			return opts.run(cmd, func(ctx context.Context, p *preferences.Preferences) (any, error) {
				if _, err := p.Put(args[0], v).Await(ctx); err != nil {
					return nil, err
				}
				if _, err := p.Flush().Await(ctx); err != nil {
					return nil, err
				}
				return entry(args[0], v), nil
			})
		},
	}
	put.Flags().StringVar(&opts.kind, "type", "string", "value kind")

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove key and flush",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, p *preferences.Preferences) (any, error) {
				if _, err := p.Delete(args[0]).Await(ctx); err != nil {
					return nil, err
				}
				if _, err := p.Flush().Await(ctx); err != nil {
					return nil, err
				}
				return fmt.Sprintf("deleted %s", args[0]), nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key and flush",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, p *preferences.Preferences) (any, error) {
				if _, err := p.Clear().Await(ctx); err != nil {
					return nil, err
				}
				if _, err := p.Flush().Await(ctx); err != nil {
					return nil, err
				}
				return fmt.Sprintf("cleared %s", p.Name()), nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every key and value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, p *preferences.Preferences) (any, error) {
				all, err := p.GetAll().Await(ctx)
				if err != nil {
					return nil, err
				}
				keys := make([]string, 0, len(all))
				for k := range all {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				out := make(PrefList, 0, len(keys))
				for _, k := range keys {
					out = append(out, entry(k, all[k]))
				}
				return out, nil
			})
		},
	}

	cmd.AddCommand(get, put, del, clearCmd, list)
	return cmd
}

func (o *prefsOptions) run(cmd *cobra.Command, fn func(ctx context.Context, p *preferences.Preferences) (any, error)) error {
	cfg := o.root.Config
	m := preferences.NewManager(afero.NewOsFs(), cfg.PreferencesDir(), cfg.PreferencesOptions()...)
	defer m.Close()

	p, err := m.GetPreferences(o.name)
	if err != nil {
		return o.root.fail(cmd, err)
	}
	o.root.formatter(cmd).VerboseLog("preferences %s in %s", o.name, m.Dir())

	data, err := fn(cmd.Context(), p)
	if err != nil {
		return o.root.fail(cmd, err)
	}
	return o.root.formatter(cmd).Success(data)
}

func entry(key string, v value.Value) PrefEntry {
	if v == nil {
		return PrefEntry{Key: key}
	}
	return PrefEntry{Key: key, Kind: v.Kind().String(), Value: value.Format(v), Found: true}
}
