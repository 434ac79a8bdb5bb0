package daemon_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/daemon"
	"github.com/mailbridge/mailbridge/internal/message"
	"github.com/mailbridge/mailbridge/internal/store"
)

func TestBuildSkipsUnknownNames(t *testing.T) {
	pre := daemon.Build([]string{"no-such-preprocessor", "require-owner"}, zap.NewNop())
	require.Len(t, pre, 1)
	assert.Equal(t, "require-owner", pre[0].Name())
}

func TestRequireOwnerVetoesUnboundSenders(t *testing.T) {
	pre := daemon.Build([]string{"require-owner"}, zap.NewNop())
	require.Len(t, pre, 1)

	mail := message.NewMail(plainMail("<x1>", "stranger@example.org"))

	assert.False(t, pre[0].Preprocess(context.Background(), mail, nil))
	assert.False(t, pre[0].Preprocess(context.Background(), mail,
		&store.FolderOwner{Address: "stranger@example.org", Folder: "f", Bound: false}))
	assert.True(t, pre[0].Preprocess(context.Background(), mail,
		&store.FolderOwner{Address: "stranger@example.org", Folder: "f", Bound: true}))
}

func TestRegisteredNamesIncludesBuiltins(t *testing.T) {
	assert.Contains(t, daemon.RegisteredNames(), "require-owner")
}
