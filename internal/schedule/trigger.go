package schedule

import "time"

// Trigger is invoked by the scheduler with the wall-clock tick time.
type Trigger func(tick time.Time)
