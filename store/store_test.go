package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-archiver/chatlog"
	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/recorder"
	"github.com/onnwee/stream-archiver/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), testutil.PostgresDSN(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := RunMigrations(s.DB); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	version, dirty, err := MigrationVersion(s.DB)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Fatalf("version=%d dirty=%v", version, dirty)
	}
	for _, table := range []string{"recordings", "chat_messages"} {
		var exists bool
		err := s.DB.QueryRow(`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil || !exists {
			t.Fatalf("table %s missing (err=%v)", table, err)
		}
	}
}

func TestRecordingLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := &recorder.Handle{
		ID:         uuid.NewString(),
		Key:        platform.ChannelKey{Platform: "twitch", Channel: "foo"},
		Title:      "hello",
		OutputPath: "/output/x.mp4",
		StartedAt:  time.Now().Add(time.Hour), // newest row in a shared database
	}
	s.RecordingStarted(ctx, h)
	if err := s.SaveChatMessage(ctx, chatlog.Message{RecordingID: h.ID, User: "viewer", Text: "hi", Time: time.Now(), Offset: 1.5}); err != nil {
		t.Fatalf("SaveChatMessage() error = %v", err)
	}
	s.RecordingStopped(ctx, h)

	recs, err := s.RecentRecordings(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRecordings() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ID != h.ID {
		t.Fatalf("RecentRecordings() = %+v, want %s first", recs, h.ID)
	}
	if recs[0].EndedAt == nil || recs[0].Title != "hello" || recs[0].ExitError != "" {
		t.Fatalf("recording row = %+v", recs[0])
	}
	if n, err := s.ChatMessageCount(ctx, h.ID); err != nil || n != 1 {
		t.Fatalf("ChatMessageCount() = %d, %v", n, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
