package scout

import "errors"

var (
	errScheduleRequired  = errors.New("scout: schedule requires an interval or a cron expression")
	errScheduleAmbiguous = errors.New("scout: schedule cannot set both interval and cron")
	errNameRequired      = errors.New("scout: name is required")
	errExecuteRequired   = errors.New("scout: execute is required")
	errAlreadyRegistered = errors.New("scout: name already registered")
)
