package session

// Score recomputes the integrity score from the full event log. It is a pure
// function: deductions are independent per event and order-insensitive, so
// deleting or reordering events can never leave a stale score. The result is
// always within [0, 100].
func Score(events []Event) int {
	score := 100
	for _, ev := range events {
		score -= deduction(ev)
	}
	if score < 0 {
		return 0
	}
	return score
}

func deduction(ev Event) int {
	switch ev.Type {
	case FaceNotDetected:
		if ev.DurationSeconds > 10 {
			return 15
		}
		return 5
	case MultipleFaces:
		return 20
	case LookingAway:
		if ev.DurationSeconds > 5 {
			return 10
		}
		return 3
	case PhoneDetected:
		return 25
	case BookDetected, DeviceDetected:
		return 15
	case EyesClosed:
		if ev.DurationSeconds > 30 {
			return 10
		}
		return 0
	case AudioDetected:
		return 8
	default:
		return 0
	}
}

// Summarize recomputes the violation counters from the full event log.
// TotalViolations counts every event, session_start and session_end
// included; upstream has always reported it that way and downstream
// consumers expect the inflated figure, so it stays until product says
// otherwise.
func Summarize(events []Event) Summary {
	var sum Summary
	for _, ev := range events {
		sum.TotalViolations++
		switch ev.Type {
		case LookingAway, EyesClosed:
			sum.FocusLostEvents++
		case PhoneDetected, BookDetected, DeviceDetected:
			sum.UnauthorizedItems++
		case MultipleFaces:
			sum.MultipleFaceEvents++
		case FaceNotDetected:
			sum.NoFaceEvents++
		}
	}
	return sum
}
