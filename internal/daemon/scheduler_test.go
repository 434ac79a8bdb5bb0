package daemon_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mailbridge/mailbridge/internal/daemon"
	"github.com/mailbridge/mailbridge/internal/message"
	"github.com/mailbridge/mailbridge/internal/store"
)

func TestSchedulerRunsInitialCycle(t *testing.T) {
	dialer, journal, replies := newEnv(plainMail("<i1>", "a@example.org"))

	done := make(chan string, 1)
	handlers := daemon.Handlers{
		External: func(_ context.Context, mail *message.Mail, _ *store.FolderOwner) error {
			done <- mail.ID()
			return nil
		},
	}

	d := daemon.New(testConfig(), newManager(dialer), journal,
		handlers, replies, nil, zap.NewNop())

	sched := daemon.NewScheduler(d, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	select {
	case id := <-done:
		if id != "<i1>" {
			t.Fatalf("unexpected mail %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}
}

func TestSchedulerRestartsAfterStop(t *testing.T) {
	dialer, journal, replies := newEnv()

	d := daemon.New(testConfig(), newManager(dialer), journal,
		daemon.Handlers{}, replies, nil, zap.NewNop())

	sched := daemon.NewScheduler(d, time.Hour, zap.NewNop())
	ctx := context.Background()

	sched.Start(ctx)
	sched.Stop()
	first := journal.commits
	if first == 0 {
		t.Fatal("no cycle ran before stop")
	}

	sched.Start(ctx)
	sched.Stop()
	if journal.commits <= first {
		t.Fatalf("no cycle ran after restart: %d commits before, %d after",
			first, journal.commits)
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	dialer, journal, replies := newEnv()

	d := daemon.New(testConfig(), newManager(dialer), journal,
		daemon.Handlers{}, replies, nil, zap.NewNop())

	sched := daemon.NewScheduler(d, time.Hour, zap.NewNop())
	sched.Start(context.Background())
	sched.Stop()
	sched.Stop()
}
