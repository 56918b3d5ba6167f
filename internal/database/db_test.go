package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-while/go-nzbindex/internal/models"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEntry(number int64, msgID string) IngestEntry {
	return IngestEntry{
		Number: number,
		Article: models.Article{
			MessageID: msgID,
			Subject:   fmt.Sprintf("subject %s", msgID),
			Poster:    "poster@example.com",
			Posted:    time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC),
			Bytes:     1234,
		},
	}
}

func TestUpsertGroupsPreservesWatch(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertGroups([]string{"alt.binaries.tv", "alt.binaries.hdtv"}); err != nil {
		t.Fatalf("UpsertGroups: %v", err)
	}
	if _, err := db.SetWatch("alt.binaries.tv", true); err != nil {
		t.Fatalf("SetWatch: %v", err)
	}

	// a second LIST refresh must not clear the watch flag
	if err := db.UpsertGroups([]string{"alt.binaries.tv", "alt.binaries.hdtv", "comp.lang.go"}); err != nil {
		t.Fatalf("UpsertGroups: %v", err)
	}

	watched, err := db.Watched()
	if err != nil {
		t.Fatalf("Watched: %v", err)
	}
	if len(watched) != 1 || watched[0].Name != "alt.binaries.tv" {
		t.Fatalf("watched = %+v, want only alt.binaries.tv", watched)
	}

	n, err := db.GroupCount()
	if err != nil {
		t.Fatalf("GroupCount: %v", err)
	}
	if n != 3 {
		t.Errorf("group count = %d, want 3", n)
	}
}

func TestSetWatchReportsExistence(t *testing.T) {
	db := openTestDB(t)

	existed, err := db.SetWatch("alt.unknown", true)
	if err != nil {
		t.Fatalf("SetWatch: %v", err)
	}
	if existed {
		t.Errorf("SetWatch on unknown group reported existed=true")
	}

	if err := db.UpsertGroup("alt.known"); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	existed, err = db.SetWatch("alt.known", true)
	if err != nil {
		t.Fatalf("SetWatch: %v", err)
	}
	if !existed {
		t.Errorf("SetWatch on known group reported existed=false")
	}
}

func TestIngestBatchIdempotent(t *testing.T) {
	db := openTestDB(t)
	group := "alt.binaries.tv"

	batch := []IngestEntry{
		testEntry(1, "<a1@test>"),
		testEntry(2, "<a2@test>"),
		testEntry(3, "<a3@test>"),
	}
	batch[0].Segment = &models.Segment{
		MessageID: "<a1@test>", ReleaseName: "rel", FileName: "f.rar",
		FileNumber: 1, FileTotal: 2, PartNumber: 1, PartTotal: 3,
	}

	if err := db.IngestBatch(group, batch); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if err := db.IngestBatch(group, batch); err != nil {
		t.Fatalf("IngestBatch (again): %v", err)
	}

	articles, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if articles != 3 {
		t.Errorf("article count = %d, want 3", articles)
	}
	segs, err := db.SegmentCount()
	if err != nil {
		t.Fatalf("SegmentCount: %v", err)
	}
	if segs != 1 {
		t.Errorf("segment count = %d, want 1", segs)
	}
	max, err := db.MaxIndexed(group)
	if err != nil {
		t.Fatalf("MaxIndexed: %v", err)
	}
	if max != 3 {
		t.Errorf("MaxIndexed = %d, want 3", max)
	}
}

func TestArticleAttributesImmutable(t *testing.T) {
	db := openTestDB(t)

	first := testEntry(1, "<a1@test>")
	if err := db.IngestBatch("alt.a", []IngestEntry{first}); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	// same message-id seen again (cross-post) with a differing subject
	second := testEntry(9, "<a1@test>")
	second.Article.Subject = "changed subject"
	if err := db.IngestBatch("alt.b", []IngestEntry{second}); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	a, err := db.GetArticle("<a1@test>")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if a == nil {
		t.Fatalf("article missing")
	}
	if a.Subject != "subject <a1@test>" {
		t.Errorf("subject overwritten: %q", a.Subject)
	}
	if a.Posted.Location() != time.UTC {
		t.Errorf("posted not UTC: %v", a.Posted)
	}
}

func TestReofferedNumberAdoptsNewMessageID(t *testing.T) {
	db := openTestDB(t)
	group := "alt.binaries.tv"

	if err := db.IngestBatch(group, []IngestEntry{testEntry(5, "<old@test>")}); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	// server reposted number 5 after expiry with a different article
	if err := db.IngestBatch(group, []IngestEntry{testEntry(5, "<new@test>")}); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	nums, err := db.IndexedNumbers(group, 1, 10)
	if err != nil {
		t.Fatalf("IndexedNumbers: %v", err)
	}
	if len(nums) != 1 || nums[0] != 5 {
		t.Fatalf("IndexedNumbers = %v, want [5]", nums)
	}
}

func TestOverlappingBatches(t *testing.T) {
	db := openTestDB(t)
	group := "alt.binaries.tv"

	var first, second []IngestEntry
	for n := int64(100); n <= 200; n++ {
		first = append(first, testEntry(n, fmt.Sprintf("<n%d@test>", n)))
	}
	for n := int64(150); n <= 250; n++ {
		second = append(second, testEntry(n, fmt.Sprintf("<n%d@test>", n)))
	}

	if err := db.IngestBatch(group, first); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if err := db.IngestBatch(group, second); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 151 {
		t.Errorf("article count = %d, want 151", count)
	}
	nums, err := db.IndexedNumbers(group, 100, 250)
	if err != nil {
		t.Fatalf("IndexedNumbers: %v", err)
	}
	if len(nums) != 151 {
		t.Errorf("indexed numbers = %d, want 151", len(nums))
	}
}

func TestMaxIndexedEmpty(t *testing.T) {
	db := openTestDB(t)
	max, err := db.MaxIndexed("alt.nothing")
	if err != nil {
		t.Fatalf("MaxIndexed: %v", err)
	}
	if max != 0 {
		t.Errorf("MaxIndexed of empty group = %d, want 0", max)
	}
}

func TestListArticlesSubjectFilter(t *testing.T) {
	db := openTestDB(t)

	batch := []IngestEntry{testEntry(1, "<a1@test>"), testEntry(2, "<a2@test>")}
	batch[0].Article.Subject = "Some.Release yEnc (1/3)"
	batch[1].Article.Subject = "unrelated chatter"
	if err := db.IngestBatch("alt.test", batch); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	hits, err := db.ListArticles("Release", 10, 0)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(hits) != 1 || hits[0].MessageID != "<a1@test>" {
		t.Fatalf("ListArticles = %+v, want only <a1@test>", hits)
	}
}

func TestUnmatchedArticlesAndRematch(t *testing.T) {
	db := openTestDB(t)

	batch := []IngestEntry{testEntry(1, "<a1@test>"), testEntry(2, "<a2@test>")}
	batch[0].Segment = &models.Segment{MessageID: "<a1@test>", ReleaseName: "r", FileName: "f"}
	if err := db.IngestBatch("alt.test", batch); err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	var unmatched []string
	err := db.UnmatchedArticles(func(a models.Article) error {
		unmatched = append(unmatched, a.MessageID)
		return nil
	})
	if err != nil {
		t.Fatalf("UnmatchedArticles: %v", err)
	}
	if len(unmatched) != 1 || unmatched[0] != "<a2@test>" {
		t.Fatalf("unmatched = %v, want [<a2@test>]", unmatched)
	}

	if err := db.UpsertSegments([]models.Segment{
		{MessageID: "<a2@test>", ReleaseName: "r2", FileName: "f2"},
	}); err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}
	err = db.UnmatchedArticles(func(a models.Article) error {
		t.Errorf("unexpected unmatched article %s", a.MessageID)
		return nil
	})
	if err != nil {
		t.Fatalf("UnmatchedArticles: %v", err)
	}
}

func TestSegmentWrittenAtMostOnce(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertSegment(&models.Segment{
		MessageID: "<s@test>", ReleaseName: "first", FileName: "f", PartNumber: 1, PartTotal: 2,
	}); err != nil {
		t.Fatalf("UpsertSegment: %v", err)
	}
	if err := db.UpsertSegment(&models.Segment{
		MessageID: "<s@test>", ReleaseName: "second", FileName: "g",
	}); err != nil {
		t.Fatalf("UpsertSegment: %v", err)
	}

	s, err := db.GetSegment("<s@test>")
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	if s == nil || s.ReleaseName != "first" {
		t.Fatalf("existing segment must be kept, got %+v", s)
	}
}

func TestReleaseQueries(t *testing.T) {
	db := openTestDB(t)

	segs := []models.Segment{
		{MessageID: "<p1@t>", ReleaseName: "rel", FileName: "a.rar", PartNumber: 1, PartTotal: 3},
		{MessageID: "<p3@t>", ReleaseName: "rel", FileName: "a.rar", PartNumber: 3, PartTotal: 3},
		{MessageID: "<q1@t>", ReleaseName: "rel", FileName: "b.rar", PartNumber: 1, PartTotal: 1},
		{MessageID: "<z1@t>", ReleaseName: "other", FileName: "z.rar", PartNumber: 1, PartTotal: 1},
	}
	if err := db.UpsertSegments(segs); err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}

	releases, err := db.ReleaseList()
	if err != nil {
		t.Fatalf("ReleaseList: %v", err)
	}
	if len(releases) != 2 || releases[0] != "other" || releases[1] != "rel" {
		t.Fatalf("ReleaseList = %v", releases)
	}

	files, err := db.ReleaseFiles("rel")
	if err != nil {
		t.Fatalf("ReleaseFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "a.rar" || files[1] != "b.rar" {
		t.Fatalf("ReleaseFiles = %v", files)
	}

	parts, err := db.ReleaseFileParts("rel", "a.rar")
	if err != nil {
		t.Fatalf("ReleaseFileParts: %v", err)
	}
	if len(parts) != 2 || parts[0].PartNumber != 1 || parts[1].PartNumber != 3 {
		t.Fatalf("ReleaseFileParts = %+v", parts)
	}

	missing, err := db.MissingParts("rel", "a.rar")
	if err != nil {
		t.Fatalf("MissingParts: %v", err)
	}
	if len(missing) != 1 || missing[0] != 2 {
		t.Fatalf("MissingParts = %v, want [2]", missing)
	}
}

func TestMarkGroupMissing(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertGroup("alt.gone"); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := db.MarkGroupMissing("alt.gone"); err != nil {
		t.Fatalf("MarkGroupMissing: %v", err)
	}
	g, err := db.GetGroup("alt.gone")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g == nil || !g.Missing {
		t.Fatalf("group should be flagged missing, got %+v", g)
	}

	// a later LIST refresh revives it
	if err := db.UpsertGroups([]string{"alt.gone"}); err != nil {
		t.Fatalf("UpsertGroups: %v", err)
	}
	g, err = db.GetGroup("alt.gone")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g == nil || g.Missing {
		t.Fatalf("LIST refresh should clear the missing flag, got %+v", g)
	}
}
