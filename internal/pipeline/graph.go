package pipeline

import "github.com/joeblew999/plat-mailforge/internal/task"

// Task names.
const (
	TaskClean      = "clean"
	TaskPages      = "pages"
	TaskResetPages = "reset-pages"
	TaskStyles     = "styles"
	TaskImages     = "images"
	TaskInline     = "inline"
	TaskPreview    = "preview"
	TaskReload     = "reload"
	TaskServe      = "serve"
	TaskWatch      = "watch"
	TaskPublish    = "publish"

	TaskBuild          = "build"
	TaskDefault        = "default"
	TaskLitmus         = "litmus"
	TaskZip            = "zip"
	TaskUpdateTemplate = "update-template"
	TaskSimulate       = "simulate"
	TaskValidate       = "validate"
	TaskSend           = "send"
)

// forcesProduction lists the tasks that always publish production output.
func forcesProduction(name string) bool {
	return name == TaskLitmus || name == TaskUpdateTemplate
}

func (p *Pipeline) buildGraph() (*task.Graph, error) {
	return task.New(
		task.Task{Name: TaskClean, Run: p.clean},
		task.Task{Name: TaskPages, Run: p.pages},
		task.Task{Name: TaskResetPages, Run: p.resetPages},
		task.Task{Name: TaskStyles, Run: p.styles},
		task.Task{Name: TaskImages, Run: p.images},
		task.Task{Name: TaskInline, Run: p.inline},
		task.Task{Name: TaskPreview, Run: p.copyPreview},
		task.Task{Name: TaskReload, Run: p.reload},
		task.Task{Name: TaskServe, Run: p.serve},
		task.Task{Name: TaskWatch, Run: p.watch},
		task.Task{Name: TaskPublish, Run: p.publish},

		task.Task{
			Name: TaskBuild,
			Deps: []string{TaskClean, TaskPages, TaskStyles, TaskImages, TaskInline, TaskPreview},
		},
		task.Task{Name: TaskDefault, Deps: []string{TaskBuild, TaskServe, TaskWatch}},
		task.Task{Name: TaskLitmus, Deps: []string{TaskBuild, TaskPublish}, Run: p.litmus},
		task.Task{Name: TaskZip, Deps: []string{TaskBuild}, Run: p.zip},
		task.Task{Name: TaskUpdateTemplate, Deps: []string{TaskBuild, TaskPublish}, Run: p.updateTemplate},
		task.Task{Name: TaskSimulate, Deps: []string{TaskBuild}, Run: p.simulate},
		task.Task{Name: TaskValidate, Deps: []string{TaskBuild}, Run: p.validate},
		task.Task{Name: TaskSend, Deps: []string{TaskBuild}, Run: p.send},
	)
}
