// Package manus is the runtime core of an autonomous task-execution
// platform. It converts a user request into a hierarchical plan of ordered
// steps and drives each step through a ReAct-style agent that iteratively
// calls a language model and invokes tools until the step completes.
//
// A tool invocation may itself spawn a sub-plan, producing a tree of
// executions that is tracked through the recorder package and surfaced to
// clients via the ui package. Worker pools are indexed by plan depth so
// recursive sub-plans never starve their ancestors, and all cancellation is
// cooperative: components poll the interruption manager at safe points
// instead of relying on goroutine cancellation alone.
//
// Basic usage:
//
//	engine, err := manus.New(manus.Config{
//		DB:    pool,
//		Model: llm.NewAnthropicModel(client, "claude-sonnet-4-5"),
//	}, manus.WithAgents(myAgents...))
//	if err != nil {
//		log.Fatal(err)
//	}
//	plan, err := engine.ExecutePlan(ctx, manus.PlanRequest{
//		Title:       "Summarize the report",
//		UserRequest: "Summarize quarterly.pdf",
//		Steps:       []string{"[DEFAULT_AGENT] Read and summarize quarterly.pdf"},
//	})
package manus
