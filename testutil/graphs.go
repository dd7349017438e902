package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/duragraph"
)

// HelloWorldGraph compiles the two-node greeting graph: greet reads
// "name" and writes "greeting", farewell writes "farewell".
func HelloWorldGraph(t *testing.T) *duragraph.Graph {
	t.Helper()

	graph, err := duragraph.NewGraph("hello-world").
		AddNode("greet", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			name := state.GetString("name", "World")
			return state.Set("greeting", "Hello, "+name+"!"), nil
		}).
		AddNode("farewell", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return state.Set("farewell", "Goodbye!"), nil
		}).
		AddEdge("greet", "farewell").
		AddEdge("farewell", duragraph.END).
		SetEntry("greet").
		Compile()
	if err != nil {
		t.Fatalf("compile hello-world graph: %v", err)
	}
	return graph
}

// FailingGraph compiles a graph whose second node always fails with the
// given message.
func FailingGraph(t *testing.T, message string) *duragraph.Graph {
	t.Helper()

	graph, err := duragraph.NewGraph("failing").
		AddNode("ok", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return state.Set("ok", true), nil
		}).
		AddNode("bad", func(_ context.Context, state duragraph.State) (duragraph.State, error) {
			return nil, errors.New(message)
		}).
		AddEdge("ok", "bad").
		SetEntry("ok").
		Compile()
	if err != nil {
		t.Fatalf("compile failing graph: %v", err)
	}
	return graph
}

// LinearGraph compiles a chain of nodes, each recording its visit under
// its own name in the state.
func LinearGraph(t *testing.T, name string, nodes ...string) *duragraph.Graph {
	t.Helper()

	b := duragraph.NewGraph(name)
	for i, node := range nodes {
		b.AddNode(node, markVisited(node))
		if i > 0 {
			b.AddEdge(nodes[i-1], node)
		}
	}
	if len(nodes) > 0 {
		b.AddEdge(nodes[len(nodes)-1], duragraph.END)
		b.SetEntry(nodes[0])
	}

	graph, err := b.Compile()
	if err != nil {
		t.Fatalf("compile %s graph: %v", name, err)
	}
	return graph
}

func markVisited(node string) duragraph.NodeFunc {
	return func(_ context.Context, state duragraph.State) (duragraph.State, error) {
		return state.Set(node, true), nil
	}
}
