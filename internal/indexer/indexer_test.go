package indexer

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-while/go-nzbindex/internal/config"
	"github.com/go-while/go-nzbindex/internal/database"
	"github.com/go-while/go-nzbindex/internal/matcher"
)

const testGroup = "alt.binaries.test"

// newsServer is a scripted in-process NNTP server for pipeline tests.
// It serves one group whose articles are numbered first..last, every
// subject shaped to match the canonical release template. A nonzero
// xoverFailCode makes the next XOVER answer that status once.
type newsServer struct {
	first, last   int64
	xoverFailCode atomic.Int32
}

func (s *newsServer) start(t *testing.T) *config.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()

	srv := &config.Server{
		Name:      "fake",
		Host:      "127.0.0.1",
		Port:      ln.Addr().(*net.TCPAddr).Port,
		XoverSpan: 100,
	}
	srv.Normalize()
	return srv
}

func (s *newsServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	fmt.Fprintf(w, "200 fake server ready\r\n")
	w.Flush()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		for _, resp := range s.respond(cmd) {
			fmt.Fprintf(w, "%s\r\n", resp)
		}
		w.Flush()
		if strings.EqualFold(cmd, "QUIT") {
			return
		}
	}
}

func (s *newsServer) respond(cmd string) []string {
	switch {
	case strings.EqualFold(cmd, "QUIT"):
		return []string{"205 bye"}
	case cmd == "MODE READER":
		return []string{"200 reader mode"}
	case cmd == "LIST":
		return []string{
			"215 list follows",
			fmt.Sprintf("%s %d %d y", testGroup, s.last, s.first),
			"alt.binaries.other 10 1 y",
			".",
		}
	case strings.HasPrefix(cmd, "GROUP "):
		name := strings.TrimPrefix(cmd, "GROUP ")
		if name != testGroup {
			return []string{"411 no such newsgroup"}
		}
		return []string{fmt.Sprintf("211 %d %d %d %s", s.last-s.first+1, s.first, s.last, name)}
	case strings.HasPrefix(cmd, "XOVER "):
		if code := s.xoverFailCode.Swap(0); code != 0 {
			return []string{fmt.Sprintf("%d server error", code)}
		}
		return s.overviewLines(strings.TrimPrefix(cmd, "XOVER "))
	}
	return []string{"500 command not recognized"}
}

func (s *newsServer) overviewLines(arg string) []string {
	lo, hi := int64(0), int64(0)
	if i := strings.IndexByte(arg, '-'); i >= 0 {
		lo, _ = strconv.ParseInt(arg[:i], 10, 64)
		hi, _ = strconv.ParseInt(arg[i+1:], 10, 64)
	} else {
		lo, _ = strconv.ParseInt(arg, 10, 64)
		hi = lo
	}

	lines := []string{"224 overview follows"}
	for n := lo; n <= hi; n++ {
		if n < s.first || n > s.last {
			continue
		}
		subject := fmt.Sprintf(`Rel.%04d [01/10] - "f%04d.rar" yEnc (1/5)`, n, n)
		lines = append(lines, fmt.Sprintf(
			"%d\t%s\tposter <p@example.com>\tMon, 01 Jun 2015 12:00:00 +0000\t<n%d@test>\t\t1000\t10",
			n, subject, n))
	}
	return append(lines, ".")
}

func testRegistry(t *testing.T) *matcher.Registry {
	t.Helper()
	r := matcher.NewRegistry()
	if err := r.Add(`{release} {files_b} - "{file_name}" {yenc} {parts_p}`, "*", "canonical"); err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return r
}

func newTestIndexer(t *testing.T, srv *config.Server) (*Indexer, *database.Database) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Servers = []config.Server{*srv}
	cfg.WorkerCount = 2
	cfg.QueueSize = 64

	return New(cfg, db, testRegistry(t)), db
}

func TestPipelineInitialSweep(t *testing.T) {
	news := &newsServer{first: 1, last: 250}
	ix, db := newTestIndexer(t, news.start(t))

	if err := ix.Watch(testGroup); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("RefreshWatched: %v", err)
	}
	if err := ix.Shutdown(10 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 250 {
		t.Errorf("article count = %d, want 250", count)
	}
	max, err := db.MaxIndexed(testGroup)
	if err != nil {
		t.Fatalf("MaxIndexed: %v", err)
	}
	if max != 250 {
		t.Errorf("MaxIndexed = %d, want 250", max)
	}
	// every subject matches the canonical template
	segs, err := db.SegmentCount()
	if err != nil {
		t.Fatalf("SegmentCount: %v", err)
	}
	if segs != 250 {
		t.Errorf("segment count = %d, want 250", segs)
	}
}

func TestPipelineIncrementalRefresh(t *testing.T) {
	news := &newsServer{first: 1, last: 250}
	ix, db := newTestIndexer(t, news.start(t))

	if err := ix.Watch(testGroup); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("first RefreshWatched: %v", err)
	}

	// server advanced while we were idle
	news.last = 305
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("second RefreshWatched: %v", err)
	}
	if err := ix.Shutdown(10 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 305 {
		t.Errorf("article count = %d, want 305", count)
	}
}

func TestOverlappingFetchesStayUnique(t *testing.T) {
	news := &newsServer{first: 1, last: 1000}
	ix, db := newTestIndexer(t, news.start(t))
	defer ix.Shutdown(5 * time.Second)

	// two overlapping chunks, as a requeued task after a partial
	// failure would produce
	for _, c := range []Chunk{{100, 200}, {150, 250}} {
		task := Task{Kind: KindFetchRange, Server: "fake", Group: testGroup, Lo: c.Lo, Hi: c.Hi}
		if requeued := ix.runTask(0, &task); requeued {
			t.Fatalf("task %v unexpectedly requeued", c)
		}
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 151 {
		t.Errorf("article count = %d, want 151 (100..250 exactly once)", count)
	}
}

func TestTransientXoverFailureRetried(t *testing.T) {
	news := &newsServer{first: 1, last: 50}
	news.xoverFailCode.Store(400)
	ix, db := newTestIndexer(t, news.start(t))

	if err := ix.Watch(testGroup); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("RefreshWatched: %v", err)
	}
	// the retry backs off before the re-run, give the drain room
	if err := ix.Shutdown(30 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 50 {
		t.Errorf("article count after retry = %d, want 50", count)
	}
}

func TestServerErrorMidXoverRetried(t *testing.T) {
	news := &newsServer{first: 1, last: 50}
	news.xoverFailCode.Store(500)
	ix, db := newTestIndexer(t, news.start(t))

	if err := ix.Watch(testGroup); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("RefreshWatched: %v", err)
	}
	// the 500 poisons the session; the re-enqueued task must succeed
	// on a fresh connection after one backoff
	if err := ix.Shutdown(30 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	count, err := db.ArticleCount()
	if err != nil {
		t.Fatalf("ArticleCount: %v", err)
	}
	if count != 50 {
		t.Errorf("article count after retry = %d, want 50", count)
	}
}

func TestVanishedGroupMarkedMissing(t *testing.T) {
	news := &newsServer{first: 1, last: 10}
	ix, db := newTestIndexer(t, news.start(t))
	defer ix.Shutdown(5 * time.Second)

	if err := ix.Watch("alt.gone"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	// planning hits 411; RefreshWatched logs and carries on
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("RefreshWatched: %v", err)
	}

	g, err := db.GetGroup("alt.gone")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g == nil || !g.Missing {
		t.Fatalf("vanished group should be flagged missing, got %+v", g)
	}

	// missing groups are skipped on the next cycle
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("second RefreshWatched: %v", err)
	}
}

func TestRefreshGroupsStoresList(t *testing.T) {
	news := &newsServer{first: 1, last: 10}
	ix, db := newTestIndexer(t, news.start(t))

	if err := ix.RefreshGroups(); err != nil {
		t.Fatalf("RefreshGroups: %v", err)
	}
	if err := ix.Shutdown(10 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	n, err := db.GroupCount()
	if err != nil {
		t.Fatalf("GroupCount: %v", err)
	}
	if n != 2 {
		t.Errorf("group count = %d, want 2", n)
	}
}

func TestEnqueueAfterShutdown(t *testing.T) {
	news := &newsServer{first: 1, last: 10}
	ix, _ := newTestIndexer(t, news.start(t))

	if err := ix.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := ix.RefreshGroups(); err != ErrShuttingDown {
		t.Fatalf("RefreshGroups after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestRematchPicksUpNewTemplates(t *testing.T) {
	news := &newsServer{first: 1, last: 10}
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Servers = []config.Server{*news.start(t)}
	cfg.WorkerCount = 1

	// an empty registry: everything ingests unmatched
	empty := matcher.NewRegistry()
	ix := New(cfg, db, empty)
	if err := ix.Watch(testGroup); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := ix.RefreshWatched(0); err != nil {
		t.Fatalf("RefreshWatched: %v", err)
	}
	if err := ix.Shutdown(10 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	segs, err := db.SegmentCount()
	if err != nil {
		t.Fatalf("SegmentCount: %v", err)
	}
	if segs != 0 {
		t.Fatalf("empty registry should match nothing, got %d segments", segs)
	}

	// new templates arrive; rematch the backlog offline
	ix2 := New(cfg, db, testRegistry(t))
	defer ix2.Shutdown(time.Second)
	written, err := ix2.Rematch()
	if err != nil {
		t.Fatalf("Rematch: %v", err)
	}
	if written != 10 {
		t.Errorf("Rematch wrote %d segments, want 10", written)
	}
}
