package flow

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	dispute "github.com/goliatone/go-dispute"
)

const maxStackBytes = 8096

// runStep invokes exec, turning a panic into an ErrStepPanic so the run is
// routed to handle_error instead of taking the process down.
func runStep(ctx context.Context, exec StepExecutor, in StepInput) (out StepOutput, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		stack := make([]byte, maxStackBytes)
		stack = stack[:runtime.Stack(stack, false)]
		if in.Logger != nil {
			in.Logger.Error("recovered from panic in step %s: %v\n%s", in.RC.Step, r, cleanStackTrace(stack))
		}
		out = StepOutput{}
		err = dispute.NewError(dispute.ErrStepPanic, fmt.Sprintf("step %s panicked: %v", in.RC.Step, r), nil, map[string]any{
			"step":  string(in.RC.Step),
			"panic": fmt.Sprintf("%T", r),
		})
	}()
	return exec(ctx, in)
}

// cleanStackTrace drops the frames above the panic call.
func cleanStackTrace(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			if i+2 < len(lines) {
				lines = lines[i+2:]
			}
			break
		}
	}
	return strings.Join(lines, "\n")
}
