package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five field expressions, an optional leading seconds
// field and descriptors such as "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitempty"`

	TimeSinceLast time.Duration `json:"time_since_last,omitempty"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// Parse validates a cron expression with Parser.
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the previous and next firing of expr around refTime.
// The previous firing is searched hour by hour up to one year back.
func GetTriggerInfo(expr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	for i := range 366 * 24 {
		probe := refTime.Add(-time.Duration(i+1) * time.Hour)
		candidate := schedule.Next(probe)
		if candidate.After(refTime) {
			continue
		}
		// walk forward to the latest firing not after refTime
		for {
			next := schedule.Next(candidate)
			if next.After(refTime) {
				break
			}
			candidate = next
		}
		info.Last = candidate
		info.TimeSinceLast = refTime.Sub(candidate)
		break
	}

	return info, nil
}
