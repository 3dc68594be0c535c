package event

// Relation is the follow graph summary of a viewer.
type Relation struct {
	Follower  int64
	Following int64
}

// Profile is the public account info of a viewer. Sex is the platform's
// own wording ("男", "女", "保密") or empty when unknown.
type Profile struct {
	Sex   string
	Level int
}
