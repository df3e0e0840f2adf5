package temporal

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fortressi/paysaga"
)

// Registrar is the registration surface shared by worker.Worker and the
// test workflow environment.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the workflow and every activity in registry to r. Activity
// errors are translated into ApplicationErrors on the way out.
func Register(r Registrar, wf *Workflow, registry *paysaga.ActivityRegistry) {
	r.RegisterWorkflowWithOptions(wf.Run, workflow.RegisterOptions{Name: WorkflowName})
	registry.Each(func(h *paysaga.ActivityHandler, invoker paysaga.Invoker) {
		r.RegisterActivityWithOptions(h.Func(ErrorMiddleware(h.Name, invoker)),
			activity.RegisterOptions{Name: string(h.Name)})
	})
}

// NewWorker creates a worker on taskQueue with the payment workflow and its
// activities registered.
func NewWorker(c client.Client, taskQueue string, wf *Workflow, registry *paysaga.ActivityRegistry, opts worker.Options) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, opts)
	Register(w, wf, registry)
	return w
}
