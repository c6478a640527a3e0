package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "learnforge.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestProfileRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	missing, err := repo.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for uncached profile, got %+v", missing)
	}

	profile := &domain.UserProfile{
		UID:           "user-1",
		Email:         "ada@example.com",
		Name:          "Ada",
		LearningStyle: "visual",
		CreatedAt:     time.Unix(1700000000, 0),
	}
	if err := repo.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	got, err := repo.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got == nil || got.Email != "ada@example.com" || got.LearningStyle != "visual" {
		t.Errorf("unexpected profile: %+v", got)
	}
	if got.AvatarURL != "" {
		t.Errorf("expected empty avatar URL, got %q", got.AvatarURL)
	}
	if got.CreatedAt.Unix() != 1700000000 {
		t.Errorf("created_at not preserved: %v", got.CreatedAt)
	}

	profile.Name = "Ada L."
	if err := repo.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("second UpsertProfile failed: %v", err)
	}
	got, err = repo.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProfile after update failed: %v", err)
	}
	if got.Name != "Ada L." {
		t.Errorf("expected updated name, got %q", got.Name)
	}
}

func TestMissionRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	mission := &domain.Mission{
		MissionID:   "mission-1",
		Title:       "Build a CLI",
		Description: "From scratch",
		Skills:      []string{"go", "terminal"},
		Checkpoints: []domain.Checkpoint{
			{ID: "cp-1", Title: "Scaffold", Order: 1},
			{ID: "cp-2", Title: "Ship", Order: 2},
		},
		CreatedAt: time.Unix(1700000000, 0),
	}
	if err := repo.UpsertMission(ctx, mission); err != nil {
		t.Fatalf("UpsertMission failed: %v", err)
	}

	got, err := repo.GetMission(ctx, "mission-1")
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if got == nil || got.Title != "Build a CLI" {
		t.Fatalf("unexpected mission: %+v", got)
	}
	if len(got.Skills) != 2 || len(got.Checkpoints) != 2 {
		t.Errorf("nested fields not preserved: %+v", got)
	}
	if got.Checkpoints[1].ID != "cp-2" {
		t.Errorf("checkpoint order not preserved: %+v", got.Checkpoints)
	}

	missing, err := repo.GetMission(ctx, "nope")
	if err != nil {
		t.Fatalf("GetMission for missing id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for uncached mission, got %+v", missing)
	}
}

func TestReplaceEnrolledMissions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first := []domain.EnrolledMission{
		{MissionID: "m1", Title: "First", Progress: 20, EnrolledAt: time.Unix(1000, 0)},
		{MissionID: "m2", Title: "Second", Progress: 80, CompletedCheckpoints: []string{"cp-1"}, EnrolledAt: time.Unix(2000, 0)},
	}
	if err := repo.ReplaceEnrolledMissions(ctx, first); err != nil {
		t.Fatalf("ReplaceEnrolledMissions failed: %v", err)
	}

	got, err := repo.ListEnrolledMissions(ctx, 0)
	if err != nil {
		t.Fatalf("ListEnrolledMissions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 missions, got %d", len(got))
	}
	if got[0].MissionID != "m2" {
		t.Errorf("expected most recent enrollment first, got %+v", got)
	}
	if len(got[0].CompletedCheckpoints) != 1 {
		t.Errorf("completed checkpoints not preserved: %+v", got[0])
	}

	second := []domain.EnrolledMission{
		{MissionID: "m3", Title: "Third", Progress: 0, EnrolledAt: time.Unix(3000, 0)},
	}
	if err := repo.ReplaceEnrolledMissions(ctx, second); err != nil {
		t.Fatalf("second ReplaceEnrolledMissions failed: %v", err)
	}

	got, err = repo.ListEnrolledMissions(ctx, 0)
	if err != nil {
		t.Fatalf("ListEnrolledMissions after replace failed: %v", err)
	}
	if len(got) != 1 || got[0].MissionID != "m3" {
		t.Errorf("replace must drop previous rows, got %+v", got)
	}
}

func TestListEnrolledMissionsLimit(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	missions := []domain.EnrolledMission{
		{MissionID: "m1", Title: "A", EnrolledAt: time.Unix(1000, 0)},
		{MissionID: "m2", Title: "B", EnrolledAt: time.Unix(2000, 0)},
		{MissionID: "m3", Title: "C", EnrolledAt: time.Unix(3000, 0)},
	}
	if err := repo.ReplaceEnrolledMissions(ctx, missions); err != nil {
		t.Fatalf("ReplaceEnrolledMissions failed: %v", err)
	}

	got, err := repo.ListEnrolledMissions(ctx, 2)
	if err != nil {
		t.Fatalf("ListEnrolledMissions failed: %v", err)
	}
	if len(got) != 2 || got[0].MissionID != "m3" || got[1].MissionID != "m2" {
		t.Errorf("unexpected limited listing: %+v", got)
	}
}

func TestCheckpointStateUpsert(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	missing, err := repo.GetCheckpointState(ctx, "mission-1")
	if err != nil {
		t.Fatalf("GetCheckpointState failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unseen mission, got %+v", missing)
	}

	if err := repo.SaveCheckpointState(ctx, "mission-1", &domain.CheckpointProgress{
		Completed: []string{"cp-1"},
		Progress:  25,
	}); err != nil {
		t.Fatalf("SaveCheckpointState failed: %v", err)
	}
	if err := repo.SaveCheckpointState(ctx, "mission-1", &domain.CheckpointProgress{
		Completed: []string{"cp-1", "cp-2"},
		Progress:  50,
	}); err != nil {
		t.Fatalf("second SaveCheckpointState failed: %v", err)
	}

	got, err := repo.GetCheckpointState(ctx, "mission-1")
	if err != nil {
		t.Fatalf("GetCheckpointState failed: %v", err)
	}
	if got.Progress != 50 || len(got.Completed) != 2 {
		t.Errorf("expected latest state to win, got %+v", got)
	}
}

func TestTranscriptRecentOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		msg := domain.ChatMessage{
			Origin:    domain.OriginUser,
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.AppendTranscript(ctx, "agent:s1", msg); err != nil {
			t.Fatalf("AppendTranscript failed: %v", err)
		}
	}
	if err := repo.AppendTranscript(ctx, "ally:m1", domain.ChatMessage{
		Origin: domain.OriginAgent, Text: "other", Timestamp: base,
	}); err != nil {
		t.Fatalf("AppendTranscript for second key failed: %v", err)
	}

	got, err := repo.RecentTranscript(ctx, "agent:s1", 3)
	if err != nil {
		t.Fatalf("RecentTranscript failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Text != "three" || got[2].Text != "five" {
		t.Errorf("expected chronological tail, got %+v", got)
	}

	all, err := repo.RecentTranscript(ctx, "agent:s1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript without limit failed: %v", err)
	}
	if len(all) != 5 || all[0].Text != "one" {
		t.Errorf("expected full chronological transcript, got %+v", all)
	}
}

func TestReplaceTranscript(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for _, text := range []string{"local-1", "local-2"} {
		if err := repo.AppendTranscript(ctx, "agent:s1", domain.ChatMessage{
			Origin: domain.OriginUser, Text: text, Timestamp: base,
		}); err != nil {
			t.Fatalf("AppendTranscript failed: %v", err)
		}
	}
	if err := repo.AppendTranscript(ctx, "ally:m1", domain.ChatMessage{
		Origin: domain.OriginAgent, Text: "other", Timestamp: base,
	}); err != nil {
		t.Fatalf("AppendTranscript for second key failed: %v", err)
	}

	replay := []domain.ChatMessage{
		{Origin: domain.OriginUser, Text: "server-1", Timestamp: base.Add(time.Second)},
		{Origin: domain.OriginAgent, Text: "server-2", Timestamp: base.Add(2 * time.Second)},
		{Origin: domain.OriginAgent, Text: "server-3", Timestamp: base.Add(3 * time.Second)},
	}
	if err := repo.ReplaceTranscript(ctx, "agent:s1", replay); err != nil {
		t.Fatalf("ReplaceTranscript failed: %v", err)
	}

	got, err := repo.RecentTranscript(ctx, "agent:s1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after replace, got %d", len(got))
	}
	for i, want := range []string{"server-1", "server-2", "server-3"} {
		if got[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, want)
		}
	}

	other, err := repo.RecentTranscript(ctx, "ally:m1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript for second key failed: %v", err)
	}
	if len(other) != 1 || other[0].Text != "other" {
		t.Errorf("expected the other conversation untouched, got %+v", other)
	}

	if err := repo.ReplaceTranscript(ctx, "agent:s1", nil); err != nil {
		t.Fatalf("ReplaceTranscript with empty history failed: %v", err)
	}
	emptied, err := repo.RecentTranscript(ctx, "agent:s1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript after empty replace failed: %v", err)
	}
	if len(emptied) != 0 {
		t.Errorf("expected an emptied transcript, got %+v", emptied)
	}
}

func TestPruneTranscripts(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	old := domain.ChatMessage{Origin: domain.OriginUser, Text: "stale", Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := domain.ChatMessage{Origin: domain.OriginUser, Text: "recent", Timestamp: time.Now()}
	if err := repo.AppendTranscript(ctx, "agent:s1", old); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}
	if err := repo.AppendTranscript(ctx, "agent:s1", fresh); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}

	pruned, err := repo.PruneTranscripts(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTranscripts failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned row, got %d", pruned)
	}

	left, err := repo.RecentTranscript(ctx, "agent:s1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript failed: %v", err)
	}
	if len(left) != 1 || left[0].Text != "recent" {
		t.Errorf("expected only the recent message to remain, got %+v", left)
	}
}

func TestClearUserData(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.UpsertProfile(ctx, &domain.UserProfile{UID: "u1", Email: "a@b.c", Name: "A", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	if err := repo.UpsertMission(ctx, &domain.Mission{MissionID: "m1", Title: "T", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertMission failed: %v", err)
	}
	if err := repo.SaveCheckpointState(ctx, "m1", &domain.CheckpointProgress{Progress: 10}); err != nil {
		t.Fatalf("SaveCheckpointState failed: %v", err)
	}
	if err := repo.AppendTranscript(ctx, "agent:s1", domain.ChatMessage{Origin: domain.OriginUser, Text: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}

	rows, err := repo.ClearUserData(ctx)
	if err != nil {
		t.Fatalf("ClearUserData failed: %v", err)
	}
	if rows < 4 {
		t.Errorf("expected at least 4 cleared rows, got %d", rows)
	}

	profile, err := repo.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile after clear failed: %v", err)
	}
	if profile != nil {
		t.Errorf("expected profile cleared, got %+v", profile)
	}
	transcript, err := repo.RecentTranscript(ctx, "agent:s1", 0)
	if err != nil {
		t.Fatalf("RecentTranscript after clear failed: %v", err)
	}
	if len(transcript) != 0 {
		t.Errorf("expected transcripts cleared, got %+v", transcript)
	}
}
