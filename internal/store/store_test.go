package store

import (
	"context"
	"testing"
	"time"

	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
)

const testUser = "5f0c3c52-7f0d-4a39-9d8e-0a3f5c1e2b11"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	mgr := localdb.NewManager(t.TempDir(), "stats", Schema, nil)
	if _, err := mgr.Open(context.Background(), testUser); err != nil {
		t.Fatalf("open partition failed: %v", err)
	}
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("close partition failed: %v", err)
		}
	})
	return New(mgr)
}

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func testSession(id int64, group string, startedAt time.Time) model.Session {
	user := testUser
	return model.Session{
		ID:           id,
		UserID:       &user,
		DatasetID:    "hsk1",
		PracticeType: model.PracticeStroke,
		GroupID:      group,
		StartedAt:    startedAt,
	}
}

func testAttempt(id, sessionID int64, word string, startedAt time.Time) model.WordAttempt {
	return model.WordAttempt{
		ID:        id,
		SessionID: sessionID,
		WordID:    word,
		StartedAt: startedAt,
		DoneAt:    startedAt.Add(4 * time.Second),
	}
}

func testCharLog(attemptID int64, index, errs int, startedAt time.Time) model.CharLog {
	return model.CharLog{
		AttemptID:  attemptID,
		CharIndex:  index,
		StartedAt:  startedAt,
		DoneAt:     startedAt.Add(time.Second),
		ErrorCount: errs,
	}
}

func TestSaveAndGetSession(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	session := testSession(-1, "g1", base)
	if err := st.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, ok, err := st.GetSessionByID(ctx, -1)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if got.GroupID != "g1" || got.UserID == nil || *got.UserID != testUser || !got.StartedAt.Equal(base) {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.DoneAt != nil || got.Synced {
		t.Fatalf("expected pending in-progress session, got %+v", got)
	}

	done := base.Add(time.Minute)
	got.DoneAt = &done
	if err := st.SaveSession(ctx, got); err != nil {
		t.Fatalf("SaveSession update failed: %v", err)
	}
	got, _, err = st.GetSessionByID(ctx, -1)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if got.DoneAt == nil || !got.DoneAt.Equal(done) {
		t.Fatalf("expected doneAt %v, got %v", done, got.DoneAt)
	}

	if _, ok, err := st.GetSessionByID(ctx, 99); err != nil || ok {
		t.Fatalf("expected missing session, ok=%v err=%v", ok, err)
	}
}

func TestIndexedReads(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	other := testSession(-2, "g1", base.Add(time.Hour))
	other.PracticeType = model.PracticePinyin
	for _, s := range []model.Session{testSession(-1, "g1", base), other} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	sessions, err := st.GetSessionsBy(ctx, "hsk1", model.PracticeStroke)
	if err != nil {
		t.Fatalf("GetSessionsBy failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != -1 {
		t.Fatalf("expected only the stroke session, got %+v", sessions)
	}

	a := testAttempt(-3, -1, "你好", base)
	logs := []model.CharLog{testCharLog(-3, 1, 0, base.Add(time.Second)), testCharLog(-3, 0, 1, base)}
	if err := st.SaveAttemptWithCharLogs(ctx, a, logs); err != nil {
		t.Fatalf("SaveAttemptWithCharLogs failed: %v", err)
	}
	if err := st.SaveCharLogs(ctx, []model.CharLog{testCharLog(-4, 0, 0, base)}); err != nil {
		t.Fatalf("SaveCharLogs failed: %v", err)
	}
	attempts, err := st.GetAttemptsBySession(ctx, -1)
	if err != nil {
		t.Fatalf("GetAttemptsBySession failed: %v", err)
	}
	if len(attempts) != 1 || attempts[0].WordID != "你好" {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
	got, err := st.GetCharLogsByAttempt(ctx, -3)
	if err != nil {
		t.Fatalf("GetCharLogsByAttempt failed: %v", err)
	}
	if len(got) != 2 || got[0].CharIndex != 0 || got[1].CharIndex != 1 {
		t.Fatalf("expected two logs in index order, got %+v", got)
	}
}

func TestSaveAttemptWithCharLogsRejectsForeignLogs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	a := testAttempt(-3, -1, "好", base)
	err := st.SaveAttemptWithCharLogs(ctx, a, []model.CharLog{testCharLog(-9, 0, 0, base)})
	if err == nil {
		t.Fatalf("expected mismatched char log to be rejected")
	}
	attempts, err := st.GetAttemptsBySession(ctx, -1)
	if err != nil {
		t.Fatalf("GetAttemptsBySession failed: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected no partial write, got %+v", attempts)
	}
}

func TestIsEmptyAndMinID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	empty, err := st.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("expected empty store, empty=%v err=%v", empty, err)
	}
	minID, err := st.GetMinID(ctx)
	if err != nil || minID != 0 {
		t.Fatalf("expected min id 0, got %d err=%v", minID, err)
	}

	if err := st.SaveSession(ctx, testSession(17, "g1", base)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if minID, _ = st.GetMinID(ctx); minID != 0 {
		t.Fatalf("expected positive ids to be ignored, got %d", minID)
	}
	if err := st.SaveSession(ctx, testSession(-4, "g1", base)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := st.SaveAttempt(ctx, testAttempt(-11, -4, "你", base)); err != nil {
		t.Fatalf("SaveAttempt failed: %v", err)
	}
	minID, err = st.GetMinID(ctx)
	if err != nil || minID != -11 {
		t.Fatalf("expected min id -11, got %d err=%v", minID, err)
	}
	if empty, _ = st.IsEmpty(ctx); empty {
		t.Fatalf("expected non-empty store")
	}
}

func TestPromoteSessionCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	session := testSession(-5, "g1", base)
	done := base.Add(time.Minute)
	session.DoneAt = &done
	if err := st.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	for _, a := range []model.WordAttempt{testAttempt(-6, -5, "你", base), testAttempt(-7, -5, "好", base.Add(time.Second))} {
		if err := st.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt failed: %v", err)
		}
	}

	moved, err := st.PromoteSession(ctx, session, 42)
	if err != nil || !moved {
		t.Fatalf("PromoteSession failed: moved=%v err=%v", moved, err)
	}
	if _, ok, _ := st.GetSessionByID(ctx, -5); ok {
		t.Fatalf("expected nothing left at the tentative id")
	}
	promoted, ok, err := st.GetSessionByID(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("expected session at 42, ok=%v err=%v", ok, err)
	}
	if !promoted.Synced || promoted.GroupID != "g1" {
		t.Fatalf("unexpected promoted session: %+v", promoted)
	}

	old, err := st.GetAttemptsBySession(ctx, -5)
	if err != nil || len(old) != 0 {
		t.Fatalf("expected no attempts at -5, got %+v err=%v", old, err)
	}
	moved2, err := st.GetAttemptsBySession(ctx, 42)
	if err != nil {
		t.Fatalf("GetAttemptsBySession failed: %v", err)
	}
	if len(moved2) != 2 || moved2[0].ID != -6 || moved2[1].ID != -7 {
		t.Fatalf("expected both attempts with their own ids, got %+v", moved2)
	}

	again, err := st.PromoteSession(ctx, session, 42)
	if err != nil || again {
		t.Fatalf("expected promoting a missing session to be a no-op, moved=%v err=%v", again, err)
	}
}

func TestPromoteSessionKeepsLaterEndPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	snapshot := testSession(-5, "g1", base)
	if err := st.SaveSession(ctx, snapshot); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	ended := snapshot
	done := base.Add(time.Minute)
	ended.DoneAt = &done
	if err := st.SaveSession(ctx, ended); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if _, err := st.PromoteSession(ctx, snapshot, 8); err != nil {
		t.Fatalf("PromoteSession failed: %v", err)
	}
	got, _, err := st.GetSessionByID(ctx, 8)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if got.Synced {
		t.Fatalf("expected session ended after the push to stay pending")
	}
	if got.DoneAt == nil || !got.DoneAt.Equal(done) {
		t.Fatalf("expected doneAt to survive promotion, got %v", got.DoneAt)
	}

	if marked, err := st.MarkSessionSynced(ctx, 8, nil); err != nil || marked {
		t.Fatalf("expected stale doneAt not to mark synced, marked=%v err=%v", marked, err)
	}
	if marked, err := st.MarkSessionSynced(ctx, 8, &done); err != nil || !marked {
		t.Fatalf("expected MarkSessionSynced to succeed, marked=%v err=%v", marked, err)
	}
}

func TestPromoteAttemptCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := testAttempt(-6, 42, "你好", base)
	logs := []model.CharLog{testCharLog(-6, 0, 2, base), testCharLog(-6, 1, 0, base.Add(time.Second))}
	if err := st.SaveAttemptWithCharLogs(ctx, a, logs); err != nil {
		t.Fatalf("SaveAttemptWithCharLogs failed: %v", err)
	}
	moved, err := st.PromoteAttempt(ctx, -6, 100)
	if err != nil || !moved {
		t.Fatalf("PromoteAttempt failed: moved=%v err=%v", moved, err)
	}
	if old, _ := st.GetCharLogsByAttempt(ctx, -6); len(old) != 0 {
		t.Fatalf("expected no char logs at -6, got %+v", old)
	}
	got, err := st.GetCharLogsByAttempt(ctx, 100)
	if err != nil {
		t.Fatalf("GetCharLogsByAttempt failed: %v", err)
	}
	if len(got) != 2 || got[0].ErrorCount != 2 || got[0].Synced {
		t.Fatalf("expected two pending logs moved to 100, got %+v", got)
	}
	attempts, _ := st.GetAttemptsBySession(ctx, 42)
	if len(attempts) != 1 || attempts[0].ID != 100 || !attempts[0].Synced {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}

	pending, err := st.GetPendingCharLogs(ctx)
	if err != nil {
		t.Fatalf("GetPendingCharLogs failed: %v", err)
	}
	keys := make([]model.CharKey, 0, len(pending))
	for _, l := range pending {
		keys = append(keys, l.Key())
	}
	if err := st.MarkCharLogsSynced(ctx, keys); err != nil {
		t.Fatalf("MarkCharLogsSynced failed: %v", err)
	}
	counts, err := st.PendingCounts(ctx)
	if err != nil {
		t.Fatalf("PendingCounts failed: %v", err)
	}
	if counts.Total() != 0 {
		t.Fatalf("expected nothing pending, got %+v", counts)
	}
}

func TestWordStatsScenario(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveSession(ctx, testSession(-1, "g1", base)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	a := testAttempt(-2, -1, "你好", base)
	logs := []model.CharLog{testCharLog(-2, 0, 2, base), testCharLog(-2, 1, 0, base.Add(time.Second))}
	if err := st.SaveAttemptWithCharLogs(ctx, a, logs); err != nil {
		t.Fatalf("SaveAttemptWithCharLogs failed: %v", err)
	}

	stats, err := st.GetWordStats(ctx, "hsk1", model.PracticeStroke)
	if err != nil {
		t.Fatalf("GetWordStats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected one stat row, got %+v", stats)
	}
	got := stats[0]
	if got.SuccessCount != 1 || got.ErrorCount != 2 || got.GroupID != "g1" || got.WordID != "你好" {
		t.Fatalf("unexpected stat: %+v", got)
	}
	if got.LastPracticedAt == nil || !got.LastPracticedAt.Equal(a.DoneAt) {
		t.Fatalf("expected lastPracticedAt %v, got %v", a.DoneAt, got.LastPracticedAt)
	}
}

func TestGroupStatsAndSummaries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	full := testSession(-1, "g1", base)
	done := base.Add(time.Minute)
	full.DoneAt = &done
	abandoned := testSession(-2, "g1", base.Add(2*time.Hour))
	other := testSession(-3, "g2", base.Add(time.Hour))
	for _, s := range []model.Session{full, abandoned, other} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	attempts := []model.WordAttempt{
		testAttempt(-10, -1, "你", base),
		testAttempt(-11, -2, "你", base.Add(2*time.Hour)),
		testAttempt(-12, -3, "好", base.Add(time.Hour)),
	}
	for _, a := range attempts {
		if err := st.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt failed: %v", err)
		}
	}

	group, err := st.GetGroupStats(ctx, "hsk1", model.PracticeStroke, "g1")
	if err != nil {
		t.Fatalf("GetGroupStats failed: %v", err)
	}
	if len(group) != 1 || group[0].SuccessCount != 2 {
		t.Fatalf("expected one word with two successes, got %+v", group)
	}

	summaries, err := st.GetGroupSessionSummaries(ctx, "hsk1", model.PracticeStroke)
	if err != nil {
		t.Fatalf("GetGroupSessionSummaries failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected two groups, got %+v", summaries)
	}
	g1 := summaries[0]
	if g1.GroupID != "g1" || g1.Total != 2 || g1.Full != 1 {
		t.Fatalf("unexpected g1 summary: %+v", g1)
	}
	if g1.LastFullSessionAt == nil || !g1.LastFullSessionAt.Equal(done) {
		t.Fatalf("expected last full %v, got %v", done, g1.LastFullSessionAt)
	}
	if g1.LastPracticedAt == nil || !g1.LastPracticedAt.Equal(abandoned.StartedAt) {
		t.Fatalf("expected last practiced %v, got %v", abandoned.StartedAt, g1.LastPracticedAt)
	}
	if summaries[1].Full != 0 || summaries[1].LastFullSessionAt != nil {
		t.Fatalf("expected g2 without full sessions, got %+v", summaries[1])
	}
}

func TestDailyActivity(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, s := range []model.Session{testSession(-1, "g1", base), testSession(-2, "g2", base)} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	attempts := []model.WordAttempt{
		testAttempt(-10, -1, "你", base),
		testAttempt(-11, -1, "好", base.Add(time.Minute)),
		testAttempt(-12, -2, "我", base.Add(time.Minute)),
		testAttempt(-13, -2, "是", base.Add(24*time.Hour)),
	}
	for _, a := range attempts {
		if err := st.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt failed: %v", err)
		}
	}
	days, err := st.GetDailyActivity(ctx, "hsk1", model.PracticeStroke, time.UTC)
	if err != nil {
		t.Fatalf("GetDailyActivity failed: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected two days, got %+v", days)
	}
	if days[0].Date != "2025-03-14" || days[0].Count != 3 || days[0].Sessions != 2 || days[0].DurationMs != 12000 {
		t.Fatalf("unexpected first day: %+v", days[0])
	}
	if days[1].Date != "2025-03-15" || days[1].Count != 1 || days[1].Sessions != 1 {
		t.Fatalf("unexpected second day: %+v", days[1])
	}
}

func TestBulkInsertMarksSynced(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.BulkInsertSessions(ctx, []model.Session{testSession(1, "g1", base)}); err != nil {
		t.Fatalf("BulkInsertSessions failed: %v", err)
	}
	if err := st.BulkInsertAttempts(ctx, []model.WordAttempt{testAttempt(2, 1, "你", base)}); err != nil {
		t.Fatalf("BulkInsertAttempts failed: %v", err)
	}
	if err := st.BulkInsertCharLogs(ctx, []model.CharLog{testCharLog(2, 0, 0, base)}); err != nil {
		t.Fatalf("BulkInsertCharLogs failed: %v", err)
	}
	counts, err := st.PendingCounts(ctx)
	if err != nil {
		t.Fatalf("PendingCounts failed: %v", err)
	}
	if counts.Total() != 0 {
		t.Fatalf("expected restored rows to be synced, got %+v", counts)
	}
}

func TestBulkInsertHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.BulkInsertHistory(ctx,
		[]model.Session{testSession(5, "g1", base)},
		[]model.WordAttempt{testAttempt(6, 5, "你好", base), testAttempt(7, 5, "谢谢", base)},
		[]model.CharLog{testCharLog(6, 0, 0, base), testCharLog(6, 1, 2, base), testCharLog(7, 0, 0, base)})
	if err != nil {
		t.Fatalf("BulkInsertHistory failed: %v", err)
	}
	attempts, err := st.GetAttemptsBySession(ctx, 5)
	if err != nil || len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %+v err=%v", attempts, err)
	}
	logs, err := st.GetCharLogsByAttempt(ctx, 6)
	if err != nil || len(logs) != 2 {
		t.Fatalf("expected 2 char logs, got %+v err=%v", logs, err)
	}
	counts, err := st.PendingCounts(ctx)
	if err != nil || counts.Total() != 0 {
		t.Fatalf("expected everything synced, got %+v err=%v", counts, err)
	}
}

func TestDeleteSyncedBefore(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := base.Add(200 * 24 * time.Hour)
	cutoff := now.Add(-90 * 24 * time.Hour)

	oldDone := base.Add(time.Minute)
	oldSynced := testSession(1, "g1", base)
	oldSynced.DoneAt = &oldDone
	oldSynced.Synced = true
	recent := testSession(2, "g1", now.Add(-time.Hour))
	recent.Synced = true
	oldPending := testSession(-3, "g1", base)
	oldWithPendingChild := testSession(4, "g2", base)
	oldWithPendingChild.Synced = true
	for _, s := range []model.Session{oldSynced, recent, oldPending, oldWithPendingChild} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	synced := func(a model.WordAttempt) model.WordAttempt { a.Synced = true; return a }
	attempts := []model.WordAttempt{
		synced(testAttempt(10, 1, "你", base)),
		synced(testAttempt(11, 1, "好", base)),
		synced(testAttempt(12, 2, "我", now.Add(-time.Hour))),
		testAttempt(-13, -3, "是", base),
		testAttempt(-14, 4, "的", base),
	}
	for _, a := range attempts {
		if err := st.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt failed: %v", err)
		}
	}
	syncedLog := func(l model.CharLog) model.CharLog { l.Synced = true; return l }
	logs := []model.CharLog{
		syncedLog(testCharLog(10, 0, 1, base)),
		syncedLog(testCharLog(11, 0, 0, base)),
		syncedLog(testCharLog(11, 1, 0, base)),
		syncedLog(testCharLog(12, 0, 0, now)),
	}
	if err := st.SaveCharLogs(ctx, logs); err != nil {
		t.Fatalf("SaveCharLogs failed: %v", err)
	}

	purged, err := st.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteSyncedBefore failed: %v", err)
	}
	if purged.Sessions != 1 || purged.Attempts != 2 || purged.CharLogs != 3 {
		t.Fatalf("unexpected purge counts: %+v", purged)
	}
	if _, ok, _ := st.GetSessionByID(ctx, 1); ok {
		t.Fatalf("expected old synced session to be deleted")
	}
	for _, id := range []int64{2, -3, 4} {
		if _, ok, _ := st.GetSessionByID(ctx, id); !ok {
			t.Fatalf("expected session %d to survive", id)
		}
	}
	if logs, _ := st.GetCharLogsByAttempt(ctx, 11); len(logs) != 0 {
		t.Fatalf("expected char logs of deleted attempts to be gone, got %+v", logs)
	}
	if logs, _ := st.GetCharLogsByAttempt(ctx, 12); len(logs) != 1 {
		t.Fatalf("expected recent char logs to survive, got %+v", logs)
	}
}
