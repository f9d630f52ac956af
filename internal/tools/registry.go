// Package tools implements the Tool Adapters: request_files,
// search_project, web_search, web_browse, the project-intelligence quartet
// (detailed_map/find_symbol/index_project/lint_project), the terminal
// registry, and mcp_call. Parallel fan-out is goroutine-per-call with a
// WaitGroup join, order preserved by index.
package tools

import (
	"context"
	"sync"
)

// Call is one named tool invocation.
type Call struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Result is one tool's output, paired back with its Call's Name.
type Result struct {
	Name   string
	Output string
	Err    error
}

// ExecuteParallel runs every call concurrently and joins all results before
// returning, preserving input order regardless of completion order.
func ExecuteParallel(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, call := range calls {
		go func(i int, call Call) {
			defer wg.Done()
			output, err := call.Run(ctx)
			results[i] = Result{Name: call.Name, Output: output, Err: err}
		}(i, call)
	}

	wg.Wait()
	return results
}
