package router

import (
	"fmt"
	"strings"
)

// Task is a logical capability routed to an ordered list of providers.
type Task string

const (
	TaskNormalize Task = "normalize"
	TaskSplit     Task = "split"
	TaskRetrieve  Task = "retrieve"
	TaskRerank    Task = "rerank"
	TaskClassify  Task = "classify"
	TaskValidate  Task = "validate"
	TaskExplain   Task = "explain"
)

// Tasks lists every routed task in pipeline order.
var Tasks = []Task{TaskNormalize, TaskSplit, TaskRetrieve, TaskRerank, TaskClassify, TaskValidate, TaskExplain}

// ParseTask resolves a task name case-insensitively.
func ParseTask(s string) (Task, error) {
	name := Task(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range Tasks {
		if t == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task %q", s)
}
