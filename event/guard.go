package event

// GuardLevel is a paid membership tier. Lower non-zero values rank higher.
type GuardLevel int

const (
	GuardNone     GuardLevel = 0
	GuardGovernor GuardLevel = 1 // 总督
	GuardAdmiral  GuardLevel = 2 // 提督
	GuardCaptain  GuardLevel = 3 // 舰长
)

var guardNames = map[GuardLevel]string{
	GuardNone:     "用户",
	GuardGovernor: "总督",
	GuardAdmiral:  "提督",
	GuardCaptain:  "舰长",
}

// Name returns the display name of the tier, falling back to the regular viewer name.
func (g GuardLevel) Name() string {
	if n, ok := guardNames[g]; ok {
		return n
	}
	return guardNames[GuardNone]
}

// IsGuard reports whether the level is an actual membership tier.
func (g GuardLevel) IsGuard() bool {
	return g >= GuardGovernor && g <= GuardCaptain
}

// Emitter receives decoded events from a source. Implementations must not block for long.
type Emitter func(Event)
