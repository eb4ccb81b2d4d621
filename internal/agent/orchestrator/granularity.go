package orchestrator

// Granularity bounds how many steps the planner may keep per round. A failed
// round halves the cap and SuccessStreak clean rounds in a row raise it by
// one. A zero Initial leaves the planner's own cap untouched.
type Granularity struct {
	Initial       int
	Min           int
	Max           int
	SuccessStreak int
}

func (g Granularity) withDefaults() Granularity {
	if g.Initial <= 0 {
		return Granularity{}
	}
	if g.Min <= 0 {
		g.Min = 1
	}
	if g.Max < g.Initial {
		g.Max = g.Initial
	}
	if g.Min > g.Initial {
		g.Min = g.Initial
	}
	if g.SuccessStreak <= 0 {
		g.SuccessStreak = 2
	}
	return g
}

func (g Granularity) enabled() bool {
	return g.Initial > 0
}

// granularityPolicy tracks the success streak of one task.
type granularityPolicy struct {
	config Granularity
	streak int
}

// next returns the cap for the following round.
func (p *granularityPolicy) next(current int, roundFailed bool) int {
	if !p.config.enabled() {
		return current
	}
	if roundFailed {
		p.streak = 0
		return max(current/2, p.config.Min)
	}
	p.streak++
	if p.streak < p.config.SuccessStreak {
		return current
	}
	p.streak = 0
	return min(current+1, p.config.Max)
}
