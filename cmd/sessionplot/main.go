// Command sessionplot renders PNG plots of a recorded session: one signal
// plot per channel plus the breathing energy ratio history.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
	"github.com/banshee-data/respire.report/internal/monitor"
)

var (
	dbFile  = flag.String("db", "respire.db", "SQLite database path")
	session = flag.String("session", "", "Session ID (defaults to the most recent session)")
	kind    = flag.String("kind", "amplitude", "Sample kind to plot")
	outDir  = flag.String("out", "plots", "Output directory")
	list    = flag.Bool("list", false, "List sessions and exit")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *list {
		sessions, err := database.Sessions(50)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		for _, s := range sessions {
			ended := "live"
			if s.EndedAt != nil {
				ended = s.EndedAt.Format("2006-01-02 15:04:05")
			}
			frames, _ := database.FrameCount(s.ID)
			fmt.Printf("%s  mode=%s  started=%s  ended=%s  frames=%d\n",
				s.ID, s.Mode, s.StartedAt.Format("2006-01-02 15:04:05"), ended, frames)
		}
		return
	}

	id := *session
	if id == "" {
		sessions, err := database.Sessions(1)
		if err != nil || len(sessions) == 0 {
			log.Fatal("no sessions recorded; run the station first")
		}
		id = sessions[0].ID
	}

	sampleKind := breath.SampleKind(*kind)
	if !breath.ValidSampleKind(sampleKind) {
		log.Fatalf("unknown sample kind %q", *kind)
	}

	count, err := monitor.NewSessionPlotter(database).GeneratePlots(id, sampleKind, *outDir)
	if err != nil {
		log.Fatalf("failed to generate plots: %v", err)
	}
	if count == 0 {
		fmt.Fprintf(os.Stderr, "session %s has no recorded frames\n", id)
		os.Exit(1)
	}
	fmt.Printf("wrote %d plots to %s\n", count, *outDir)
}
