package payments

import "time"

const day = 24 * time.Hour

type EscrowSummary struct {
	DaysLeft   int  `json:"daysLeftInEscrow"`
	CanRelease bool `json:"canRelease"`
}

// SummarizeEscrow is the one place the days-left figure is computed:
// ceil((releaseDate - now) / 86400s), floored at 0. Only held funds count down.
func SummarizeEscrow(status EscrowStatus, releaseDate *time.Time, now time.Time) EscrowSummary {
	out := EscrowSummary{CanRelease: status == EscrowHeld}
	if status != EscrowHeld || releaseDate == nil {
		return out
	}
	left := releaseDate.Sub(now)
	if left <= 0 {
		return out
	}
	days := int(left / day)
	if left%day != 0 {
		days++
	}
	out.DaysLeft = days
	return out
}
