package matrix

import (
	"fmt"

	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/workspace"
)

// Job is one entry of the verification matrix. It is created once per run and never
// modified; accessors hand out copies.
type Job struct {
	spec workspace.JobSpec
}

// NewJob snapshots spec into a job.
func NewJob(spec workspace.JobSpec) Job {
	return Job{spec: copySpec(spec)}
}

// AdHocJob creates a job for a single intent, e.g. `xverify build`.
func AdHocJob(intent selector.Intent, target string, args []string) Job {
	return NewJob(workspace.JobSpec{
		Name:    string(intent),
		Command: string(intent),
		Target:  target,
		Args:    args,
	})
}

func (j Job) Name() string {
	return j.spec.Name
}

func (j Job) Command() string {
	return j.spec.Command
}

// Spec returns a copy of the job's declaration.
func (j Job) Spec() workspace.JobSpec {
	return copySpec(j.spec)
}

// Args returns a copy of the extra arguments passed to the tool.
func (j Job) Args() []string {
	return copyStrings(j.spec.Args)
}

func (j Job) String() string {
	return fmt.Sprintf("<Job %s: %s>", j.spec.Name, j.spec.Command)
}

// JobsFromWorkspace turns the declared jobs into matrix jobs. names selects jobs by name,
// trigger selects them by CI event; with neither, every declared job is returned.
func JobsFromWorkspace(ws *workspace.Workspace, trigger string, names []string) ([]Job, error) {
	specs := []workspace.JobSpec{}
	switch {
	case len(names) > 0:
		for _, name := range names {
			spec, ok := ws.Job(name)
			if !ok {
				return nil, fmt.Errorf("job %s is not declared", name)
			}

			if trigger != "" && !spec.HasTrigger(trigger) {
				return nil, fmt.Errorf("job %s does not run on %s", name, trigger)
			}
			specs = append(specs, spec)
		}
	case trigger != "":
		specs = ws.JobsFor(trigger)
	default:
		specs = ws.Jobs
	}

	jobs := make([]Job, len(specs))
	for idx, spec := range specs {
		jobs[idx] = NewJob(spec)
	}

	return jobs, nil
}

func copySpec(spec workspace.JobSpec) workspace.JobSpec {
	spec.Args = copyStrings(spec.Args)
	spec.Features = copyStrings(spec.Features)
	spec.Include = copyStrings(spec.Include)
	spec.Exclude = copyStrings(spec.Exclude)
	spec.Triggers = copyStrings(spec.Triggers)
	return spec
}

func copyStrings(items []string) []string {
	if items == nil {
		return nil
	}

	result := make([]string, len(items))
	copy(result, items)
	return result
}
