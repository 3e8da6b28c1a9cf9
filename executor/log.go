package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/munistream/engine/observability"
	"github.com/munistream/engine/workflow"
)

// taskLogSink is the per-task LogSink handed to operators through
// workflow.TaskContext (spec §4.1 rule 4, §6 "Operator runtime services").
// Logs are observable via the configured Observer but never touch the data
// plane.
type taskLogSink struct {
	ctx        context.Context
	observer   observability.Observer
	instanceID string
	taskID     string
	logger     *slog.Logger
}

func newTaskLogSink(ctx context.Context, observer observability.Observer, instanceID, taskID string) *taskLogSink {
	return &taskLogSink{ctx: ctx, observer: observer, instanceID: instanceID, taskID: taskID, logger: slog.Default()}
}

func (s *taskLogSink) emit(level observability.Level, msg string, details map[string]any) {
	data := map[string]any{"message": msg}
	for k, v := range details {
		data[k] = v
	}
	s.observer.OnEvent(s.ctx, observability.Event{
		Type:      "task.log",
		Level:     level,
		Timestamp: time.Now(),
		Source:    s.taskID,
		Data:      data,
	})
	s.logger.Log(s.ctx, level.SlogLevel(), msg,
		slog.String("instance_id", s.instanceID),
		slog.String("task_id", s.taskID),
	)
}

func (s *taskLogSink) LogInfo(msg string, details map[string]any) {
	s.emit(observability.LevelInfo, msg, details)
}

func (s *taskLogSink) LogWarning(msg string, details map[string]any) {
	s.emit(observability.LevelWarning, msg, details)
}

func (s *taskLogSink) LogError(msg string, details map[string]any) {
	s.emit(observability.LevelError, msg, details)
}

var _ workflow.LogSink = (*taskLogSink)(nil)
