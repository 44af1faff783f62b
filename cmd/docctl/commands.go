package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/internal/config"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds the flags shared by every command and the store they open.
type app struct {
	storePath string
	docID     string
	obj       string
	cfg       config.Config
	st        *store.Store
}

// run executes the command line args, writing output to out. The store is
// closed even when the command fails.
func run(args []string, out io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "docctl",
		Short:        "Inspect and edit documents in a change store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.storePath, "store", "", "change store directory (default $EGDOC_STORE_PATH)")
	flags.StringVarP(&a.docID, "doc", "d", "default", "document id")
	flags.StringVarP(&a.obj, "obj", "o", "_root", "object id")

	root.AddCommand(
		a.docsCmd(),
		a.headsCmd(),
		a.historyCmd(),
		a.dumpCmd(),
		a.getCmd(),
		a.putCmd(),
		a.mktextCmd(),
		a.textCmd(),
		a.spliceCmd(),
		a.rmCmd(),
	)
	return root
}

func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.storePath != "" {
		cfg.StorePath = a.storePath
		cfg.StoreInMemory = false
	}
	st, err := store.Open(cfg.Store())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.cfg, a.st = cfg, st
	return nil
}

func (a *app) close() error {
	if a.st == nil {
		return nil
	}
	err := a.st.Close()
	a.st = nil
	return err
}

// load reads the selected document; a missing document is empty.
func (a *app) load(ctx context.Context) (*doc.Document, error) {
	actor, err := a.cfg.ActorId()
	if err != nil {
		return nil, err
	}
	d, err := a.st.Load(ctx, a.docID, actor)
	if errors.Is(err, store.ErrNoDocument) {
		return doc.NewWithActor(actor), nil
	}
	return d, err
}

// edit runs fn in a transaction on the selected document and stores the
// resulting change.
func (a *app) edit(ctx context.Context, message string, fn func(tx *doc.Transaction) error) (*doc.Document, error) {
	d, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	tx := d.Transaction()
	defer tx.Close()
	if err := fn(tx); err != nil {
		return nil, err
	}
	if _, err := tx.CommitWith(doc.CommitOptions{Message: message, Time: time.Now()}); err != nil {
		return nil, err
	}
	n, err := a.st.Save(ctx, a.docID, d)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[docctl]stored %d changes of %s", n, a.docID)
	return d, nil
}

func (a *app) object() (doc.ExId, error) {
	return types.ParseExId(a.obj)
}

// prop reads a property of the selected object: an index for lists and
// text, a key otherwise.
func prop(d *doc.Document, obj doc.ExId, s string) (doc.Prop, error) {
	t, ok := d.ObjectType(obj)
	if ok && t.IsSequence() {
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", s, err)
		}
		return doc.Index(i), nil
	}
	return doc.Key(s), nil
}

// parseScalar reads s as a value of the named type.
func parseScalar(typ, s string) (doc.ScalarValue, error) {
	var (
		v   doc.ScalarValue
		err error
	)
	switch typ {
	case "str":
		v = types.Str(s)
	case "null":
		v = types.Null()
	case "bool":
		var b bool
		b, err = strconv.ParseBool(s)
		v = types.Bool(b)
	case "int":
		var i int64
		i, err = strconv.ParseInt(s, 10, 64)
		v = types.Int(i)
	case "uint":
		var u uint64
		u, err = strconv.ParseUint(s, 10, 64)
		v = types.Uint(u)
	case "f64":
		var f float64
		f, err = strconv.ParseFloat(s, 64)
		v = types.F64(f)
	case "counter":
		var i int64
		i, err = strconv.ParseInt(s, 10, 64)
		v = types.Counter(i)
	case "timestamp":
		var i int64
		i, err = strconv.ParseInt(s, 10, 64)
		v = types.Timestamp(i)
	default:
		return v, fmt.Errorf("unknown value type %q", typ)
	}
	if err != nil {
		return v, fmt.Errorf("%s value %q: %w", typ, s, err)
	}
	return v, nil
}

func printHeads(w io.Writer, d *doc.Document) {
	for _, h := range d.Heads() {
		fmt.Fprintln(w, h)
	}
}

func (a *app) docsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.st.Documents(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func (a *app) headsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heads",
		Short: "Print the heads of a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			printHeads(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

type changeInfo struct {
	Hash    string   `yaml:"hash"`
	Actor   string   `yaml:"actor"`
	Seq     uint64   `yaml:"seq"`
	StartOp uint64   `yaml:"start_op"`
	Ops     int      `yaml:"ops"`
	Time    string   `yaml:"time,omitempty"`
	Message string   `yaml:"message,omitempty"`
	Deps    []string `yaml:"deps,omitempty"`
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the changes of a document in applied order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			infos := []changeInfo{}
			for _, c := range d.Changes() {
				info := changeInfo{
					Hash:    c.Hash().String(),
					Actor:   c.Actor.String(),
					Seq:     c.Seq,
					StartOp: c.StartOp,
					Ops:     len(c.Ops),
					Message: c.Message,
				}
				if c.Time != 0 {
					info.Time = time.Unix(c.Time, 0).UTC().Format(time.RFC3339)
				}
				for _, dep := range c.Deps {
					info.Deps = append(info.Deps, dep.String())
				}
				infos = append(infos, info)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(infos)
		},
	}
}

func (a *app) dumpCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the content of an object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			obj, err := a.object()
			if err != nil {
				return err
			}
			content, err := d.Materialize(obj)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(w)
				defer enc.Close()
				return enc.Encode(content)
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(content)
			case "litter":
				_, err := fmt.Fprintln(w, litter.Sdump(content))
				return err
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml, json or litter")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "get <key|index>",
		Short: "Print the value at a key of a map or an index of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			obj, err := a.object()
			if err != nil {
				return err
			}
			p, err := prop(d, obj, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if all {
				vals, err := d.GetAll(obj, p)
				if err != nil {
					return err
				}
				for _, v := range vals {
					fmt.Fprintf(w, "%s\t%s\n", v.Id, v.Value)
				}
				return nil
			}
			v, id, found, err := d.Get(obj, p)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: %w", args[0], doc.ErrNotFound)
			}
			if v.IsObject() {
				fmt.Fprintf(w, "%s %s\n", v, id)
				return nil
			}
			fmt.Fprintln(w, v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "conflicts", false, "print every concurrent value with its op id")
	return cmd
}

func (a *app) putCmd() *cobra.Command {
	var typ, message string
	cmd := &cobra.Command{
		Use:   "put <key|index> <value>",
		Short: "Write a scalar at a key of a map or an index of a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseScalar(typ, args[1])
			if err != nil {
				return err
			}
			obj, err := a.object()
			if err != nil {
				return err
			}
			d, err := a.edit(cmd.Context(), message, func(tx *doc.Transaction) error {
				t, _ := tx.ObjectType(obj)
				if !t.IsSequence() {
					return tx.Put(obj, doc.Key(args[0]), v)
				}
				i, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("index %q: %w", args[0], err)
				}
				return tx.Put(obj, doc.Index(i), v)
			})
			if err != nil {
				return err
			}
			printHeads(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "str", "value type: str, int, uint, f64, bool, counter, timestamp or null")
	cmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	return cmd
}

func (a *app) mktextCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "mktext <key>",
		Short: "Create an empty text object at a key and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := a.object()
			if err != nil {
				return err
			}
			var text doc.ExId
			if _, err := a.edit(cmd.Context(), message, func(tx *doc.Transaction) error {
				text, err = tx.PutObject(obj, doc.Key(args[0]), doc.ObjText)
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	return cmd
}

func (a *app) textCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text",
		Short: "Print a text object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			obj, err := a.object()
			if err != nil {
				return err
			}
			s, err := d.Text(obj)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func (a *app) spliceCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "splice <pos> <del> [text]",
		Short: "Delete and insert characters of a text object",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("pos %q: %w", args[0], err)
			}
			del, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("del %q: %w", args[1], err)
			}
			var text string
			if len(args) == 3 {
				text = args[2]
			}
			obj, err := a.object()
			if err != nil {
				return err
			}
			var out string
			if _, err := a.edit(cmd.Context(), message, func(tx *doc.Transaction) error {
				if err := tx.SpliceText(obj, pos, del, text); err != nil {
					return err
				}
				out, err = tx.Text(obj)
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm",
		Short: "Delete a document and its history from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.st.Has(cmd.Context(), a.docID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", a.docID, store.ErrNoDocument)
			}
			return a.st.Delete(cmd.Context(), a.docID)
		},
	}
}
