package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file (TOML, YAML or JSON)" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Remote  string `long:"remote" description:"Talk to a tone-server gRPC gateway at host:port instead of the local store"`
	Key     string `long:"key" env:"TONE_INTERNAL_KEY" description:"Internal key sent to --remote"`
	Verbose bool   `long:"verbose" description:"Log to stderr"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ClassifyCommand classifies text without recording it.
type ClassifyCommand struct {
	Text         string `long:"text" description:"Text to classify (required)"`
	DefaultLabel string `long:"default-label" description:"Label used when nothing matches"`

	env *env
}

// RecordCommand classifies text, records the events and flushes them to
// the local store.
type RecordCommand struct {
	Text string `long:"text" description:"Text to classify and record (required)"`
	App  string `long:"app" description:"Host app context stored with the interaction"`

	env *env
}

// StatusCommand shows the shared store metadata.
type StatusCommand struct {
	env *env
}

// PullCommand prints everything pending without removing it.
type PullCommand struct {
	Ack bool `long:"ack" description:"Acknowledge the pulled items after printing them"`

	env *env
}

// ClearCommand removes everything pending.
type ClearCommand struct {
	Force bool `long:"force" description:"Required; pending events are deleted without delivery"`

	env *env
}

// AckCommand removes pending items up to a cursor.
type AckCommand struct {
	Cursor map[string]int64 `long:"cursor" description:"key:seq pair, repeatable (e.g. pending_tone_data:42)"`

	env *env
}

// KeygenCommand generates an internal key and its bcrypt hash.
type KeygenCommand struct {
	env *env
}
