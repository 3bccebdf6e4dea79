package service

import "github.com/ignatij/seqflow/pkg/models"

// Observer is notified of execution progress. Implementations must not block
// for long and their failures never affect the run.
type Observer interface {
	ExecutionStarted(exec models.Execution)
	StepFinished(exec models.Execution, step models.Step, result models.StepResult)
	ExecutionFinished(exec models.Execution)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) ExecutionStarted(exec models.Execution) {
	for _, obs := range o {
		obs.ExecutionStarted(exec)
	}
}

func (o Observers) StepFinished(exec models.Execution, step models.Step, result models.StepResult) {
	for _, obs := range o {
		obs.StepFinished(exec, step, result)
	}
}

func (o Observers) ExecutionFinished(exec models.Execution) {
	for _, obs := range o {
		obs.ExecutionFinished(exec)
	}
}
