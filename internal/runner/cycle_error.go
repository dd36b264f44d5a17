package runner

// CycleError reports a failed step of one check cycle. The loop logs it at
// warn level and carries on with the next tick.
type CycleError struct {
	Step string
	Err  error
}

func (e *CycleError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func cycleStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return &CycleError{Step: step, Err: err}
}
