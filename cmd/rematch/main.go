// rematch re-applies a matcher template file to every indexed article
// that has no segment yet. Run it after editing the template file to
// pick up releases the old patterns missed.
package main

import (
	"flag"
	"log"

	"github.com/go-while/go-nzbindex/internal/database"
	"github.com/go-while/go-nzbindex/internal/matcher"
	"github.com/go-while/go-nzbindex/internal/models"
)

func main() {
	var (
		dbPath     = flag.String("db", "data/nzbindex.sq3", "Path to the index database")
		regexpFile = flag.String("regexp-file", "regexp.txt", "Path to the matcher template file")
		dryRun     = flag.Bool("dry-run", false, "Only report what would match, write nothing")
	)
	flag.Parse()

	registry, err := matcher.LoadFile(*regexpFile)
	if err != nil {
		log.Fatalf("Failed to load matcher templates: %v", err)
	}
	log.Printf("[REMATCH] loaded %d matchers from '%s'", registry.Len(), *regexpFile)

	db, err := database.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open index database: %v", err)
	}
	defer db.Close()

	var segments []models.Segment
	scanned := 0
	err = db.UnmatchedArticles(func(a models.Article) error {
		scanned++
		seg, m, ok := registry.MatchAny(a.Subject)
		if !ok {
			return nil
		}
		seg.MessageID = a.MessageID
		segments = append(segments, seg)
		if *dryRun {
			log.Printf("[REMATCH] %s would match (%s): release='%s' file='%s'",
				a.MessageID, m.Description, seg.ReleaseName, seg.FileName)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Scan of unmatched articles failed: %v", err)
	}

	if *dryRun {
		log.Printf("[REMATCH] dry run: %d of %d unmatched articles would match", len(segments), scanned)
		return
	}
	if err := db.UpsertSegments(segments); err != nil {
		log.Fatalf("Failed to write segments: %v", err)
	}
	log.Printf("[REMATCH] wrote %d segments (%d articles scanned)", len(segments), scanned)
}
