package taint_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/kolkov/taintflow/taint"
)

func newEngine() *taint.Engine {
	cfg := taint.DefaultConfig()
	cfg.Logging.Level = "error"
	e, err := taint.NewWithConfig(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Example demonstrates a value keeping its origins through an
// uninstrumented call.
func Example() {
	e := newEngine()
	defer e.Close()

	prompt := e.Record("hello", taint.Of("llm-1"))
	upper, err := e.Call1(context.Background(), taint.Call{
		Fn:   strings.ToUpper,
		Args: []any{prompt},
	})
	if err != nil {
		panic(err)
	}

	fmt.Println(upper, e.OriginOf(upper))

	// Output:
	// HELLO {llm-1}
}

// Example_aggregation shows a crossing unioning receiver and argument
// origins.
func Example_aggregation() {
	e := newEngine()
	defer e.Close()

	var sb strings.Builder
	e.Record(&sb, taint.Of("A"))
	arg := e.Record("text", taint.Of("B"))

	res, err := e.Call(context.Background(), taint.Call{Receiver: &sb, Method: "WriteString", Args: []any{arg}})
	if err != nil {
		panic(err)
	}

	fmt.Println(res[0], e.OriginOf(res[0]))
	fmt.Println(sb.String())

	// Output:
	// 4 {A, B}
	// text
}

// Example_interceptor shows how an interceptor reads the in-flight origins.
func Example_interceptor() {
	e := newEngine()
	defer e.Close()

	complete := func(ctx context.Context, prompt string) string {
		fmt.Println("in flight:", e.Active(ctx))
		return "answer to " + prompt
	}

	q := e.Record("q", taint.Of("user-input"))
	res, _ := e.Call1(context.Background(), taint.Call{Fn: complete, Args: []any{nil, q}})

	fmt.Println(res, e.OriginOf(res))
	fmt.Println("after:", e.Active(context.Background()))

	// Output:
	// in flight: {user-input}
	// answer to q {user-input}
	// after: {}
}

// Example_collections shows provenance following elements through a sort.
func Example_collections() {
	e := newEngine()
	defer e.Close()

	list := e.Record([]string{}, taint.Set{})
	_ = e.Append(list, e.Record("x", taint.Of("n1")))
	_ = e.Append(list, e.Record("y", taint.Of("n2")))
	_ = e.Sort(list, func(a, b any) bool { return a.(string) > b.(string) })

	for i := range 2 {
		v, _ := e.Item(list, i)
		fmt.Println(v, e.OriginOf(v))
	}

	// Output:
	// y {n2}
	// x {n1}
}

// Example_attributes shows the attribute fallback chain.
func Example_attributes() {
	e := newEngine()
	defer e.Close()

	type reply struct {
		Text  string
		Model string
	}
	r := &reply{Model: "m"}
	e.Record(r, taint.Of("llm-1"))
	_ = e.Set(r, "Text", e.Record("hi", taint.Of("tool-7")))

	text, _ := e.Get(r, "Text")
	model, _ := e.Get(r, "Model")
	fmt.Println(text, e.OriginOf(text))
	fmt.Println(model, e.OriginOf(model))

	// Output:
	// hi {tool-7}
	// m {llm-1}
}
