package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard 5-field expressions, an optional leading seconds
// field and descriptors such as @hourly.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

func Validate(cronExpr string) error {
	_, err := Parse(cronExpr)
	return err
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	nextTime := schedule.Next(refTime)
	prevTime := previous(schedule, refTime)

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}

// previous returns the latest activation at or before refTime within a year,
// or the zero time.
func previous(schedule cron.Schedule, refTime time.Time) time.Time {
	for i := 1; i <= 366*24; i++ {
		candidate := schedule.Next(refTime.Add(-time.Duration(i) * time.Hour))
		if candidate.IsZero() || candidate.After(refTime) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.IsZero() || next.After(refTime) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}
