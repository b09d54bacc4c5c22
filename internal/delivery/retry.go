package delivery

import "time"

// DefaultRetrySchedule holds the wait before each attempt of one request.
var DefaultRetrySchedule = []time.Duration{
	0,
	10 * time.Second,
	40 * time.Second,
}

// ExtraAttemptStep is added to the previous wait for every attempt beyond the
// configured schedule.
const ExtraAttemptStep = 30 * time.Second

// ScheduleFor returns the waits for n attempts, extending base by
// ExtraAttemptStep per attempt when n exceeds its length.
func ScheduleFor(n int, base []time.Duration) []time.Duration {
	if n <= 0 {
		return nil
	}
	if len(base) == 0 {
		base = DefaultRetrySchedule
	}

	out := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		switch {
		case i < len(base):
			out[i] = base[i]
		case i == 0:
			out[i] = 0
		default:
			out[i] = out[i-1] + ExtraAttemptStep
		}
	}
	return out
}

// TotalDelay is the sum of the waits in schedule.
func TotalDelay(schedule []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range schedule {
		total += d
	}
	return total
}
