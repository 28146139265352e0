package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/taintflow/internal/taint/engine"
	"github.com/kolkov/taintflow/taint"
)

var (
	demoWorkers int

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run the lineage scenarios against a live engine",
		Long: `demo drives a live engine through the operations a rewritten program
performs and prints the origins each result carries: an uninstrumented
call, attribute reads, collection mutation and concurrent model calls.`,
		Args: cobra.NoArgs,
		RunE: runDemo,
	}
)

func init() {
	demoCmd.Flags().IntVarP(&demoWorkers, "workers", "w", 4, "Concurrent model calls")
}

// fakeModel stands in for an intercepted LLM client: every completion gets
// a fresh origin joined with the origins in flight.
type fakeModel struct {
	e  *taint.Engine
	mu sync.Mutex
	n  int
}

func (m *fakeModel) Complete(ctx context.Context, prompt string) (*demoReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.n++
	id := taint.Origin(fmt.Sprintf("llm-%d", m.n))
	m.mu.Unlock()

	inputs := m.e.Active(ctx)
	m.e.Logger().Debug("completion", zap.Stringer("origin", id), zap.Stringer("inputs", inputs))
	r := &demoReply{Text: "answer(" + prompt + ")", Model: "fake"}
	m.e.Record(r, inputs.Add(id))
	return r, nil
}

type demoReply struct {
	Text  string
	Model string
}

func runDemo(cmd *cobra.Command, args []string) error {
	if demoWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	e, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer e.Close()
	if !e.Enabled() {
		e.Enable()
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	steps := []struct {
		name string
		run  func(context.Context, *taint.Engine, io.Writer) error
	}{
		{"uninstrumented call", demoConcat},
		{"attributes", demoAttributes},
		{"collections", demoCollections},
		{"concurrent model calls", demoConcurrent},
	}
	for _, s := range steps {
		fmt.Fprintf(out, "== %s\n", s.name)
		if err := s.run(ctx, e, out); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return e.Summary().Write(out)
}

func demoConcat(ctx context.Context, e *taint.Engine, out io.Writer) error {
	concat := func(a, b string) string { return a + b }
	a := e.Record("42", taint.Of("n1"))
	b, err := e.Call1(ctx, taint.Call{Fn: concat, Args: []any{a, " suffix"}})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "concat(%q, %q) = %q  origins %v\n", "42", " suffix", taint.Unwrap(b), e.OriginOf(b))
	return nil
}

func demoAttributes(ctx context.Context, e *taint.Engine, out io.Writer) error {
	r := &demoReply{Model: "m-1"}
	e.Record(r, taint.Of("llm-a"))
	if err := e.Set(r, "Text", e.Record("hello", taint.Of("tool-b"))); err != nil {
		return err
	}
	for _, name := range []string{"Text", "Model"} {
		v, err := e.Get(r, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reply.%s = %q  origins %v\n", name, taint.Unwrap(v), e.OriginOf(v))
	}
	return nil
}

func demoCollections(ctx context.Context, e *taint.Engine, out io.Writer) error {
	lst := e.Record([]string{}, taint.Set{})
	if err := e.Append(lst, e.Record("x", taint.Of("n1"))); err != nil {
		return err
	}
	if err := e.Append(lst, e.Record("y", taint.Of("n2"))); err != nil {
		return err
	}
	if err := e.Sort(lst, func(a, b any) bool { return a.(string) > b.(string) }); err != nil {
		return err
	}
	sets, err := e.Origins(lst)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sorted %v  origins %v\n", taint.Unwrap(lst), sets)
	return nil
}

func demoConcurrent(ctx context.Context, e *taint.Engine, out io.Writer) error {
	model := &fakeModel{e: e}
	results := make([]string, demoWorkers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < demoWorkers; i++ {
		g.Go(func() error {
			prompt := e.Record(fmt.Sprintf("q%d", i), taint.Of(taint.Origin(fmt.Sprintf("user-%d", i))))
			res, err := e.Call1(gctx, taint.Call{Receiver: model, Method: "Complete", Args: []any{nil, prompt}})
			if err != nil {
				return err
			}
			results[i] = fmt.Sprintf("%s  origins %v", taint.Unwrap(res).(*demoReply).Text, e.OriginOf(res))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Join(results, "\n"))
	return nil
}
