package daemon

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/message"
	"github.com/mailbridge/mailbridge/internal/store"
)

// Preprocessor examines external mail before it reaches the external
// handler. Returning false vetoes the mail, which is then treated
// according to the unknown-mail strategy. All configured preprocessors
// must approve a mail.
type Preprocessor interface {
	Name() string
	Preprocess(ctx context.Context, mail *message.Mail, owner *store.FolderOwner) bool
}

// Factory builds a named preprocessor.
type Factory func(log *zap.Logger) Preprocessor

var registry = map[string]Factory{}

// Register makes a preprocessor available under the given name.
// Typically called from an init function.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// RegisteredNames lists all registered preprocessor names, sorted.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named preprocessors in order. Unknown names
// are logged and skipped so a stale configuration entry cannot keep the
// daemon from running.
func Build(names []string, log *zap.Logger) []Preprocessor {
	var pre []Preprocessor
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			log.Warn("skipping unknown preprocessor",
				zap.String("name", name),
				zap.Strings("registered", RegisteredNames()))
			continue
		}
		pre = append(pre, factory(log))
	}
	return pre
}

func init() {
	Register("require-owner", func(log *zap.Logger) Preprocessor {
		return &requireOwner{log: log}
	})
}

// requireOwner vetoes external mail whose sender has no bound folder
// owner, so only known correspondents reach the external handler.
type requireOwner struct {
	log *zap.Logger
}

func (p *requireOwner) Name() string { return "require-owner" }

func (p *requireOwner) Preprocess(_ context.Context, mail *message.Mail, owner *store.FolderOwner) bool {
	if owner == nil || !owner.Bound {
		p.log.Debug("sender has no bound folder owner",
			zap.String("mail", mail.ID()),
			zap.Strings("from", mail.From()))
		return false
	}
	return true
}
