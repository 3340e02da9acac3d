package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/PatchLens/go-insert-patch/insert"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "inspatch.json", "File to read patch details from")
	reportChartsFile := flag.String("charts", "inspatch.png", "File to output patch overview chart image")
	journalDir := flag.String("journal", "", "Journal directory to list recorded insertions from")
	flag.Parse()

	if *journalDir != "" {
		if err := printJournal(*journalDir); err != nil {
			log.Fatalf("%sFailed to read journal: %v", insert.ErrorLogPrefix, err)
		}
		return
	}

	data, err := os.ReadFile(*reportJsonFile)
	if err != nil {
		log.Fatalf("%sFailed to read report: %v", insert.ErrorLogPrefix, err)
	}
	var metrics insert.ReportMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		log.Fatalf("%sFailed to unmarshal report: %v", insert.ErrorLogPrefix, err)
	}

	charts, err := insert.RenderReportChartsFromJson(metrics)
	if err != nil {
		log.Fatalf("%sFailed to render charts: %v", insert.ErrorLogPrefix, err)
	}
	if err = os.WriteFile(*reportChartsFile, charts, 0644); err != nil {
		log.Fatalf("%sFailed to write chart file: %v", insert.ErrorLogPrefix, err)
	}
	log.Println("Report file wrote: " + *reportChartsFile)
}

func printJournal(dir string) error {
	store, err := insert.NewBadgerStorage(dir, 16)
	if err != nil {
		return err
	}
	defer store.Close()
	journal, err := insert.NewJournal(store)
	if err != nil {
		return err
	}
	entries, err := journal.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		state := "committed"
		if !e.Committed {
			state = "not written"
		}
		log.Printf("#%d %s %s -> %s @ %s %d (%s) %s [%s]",
			e.Seq, e.Time.Format("2006-01-02 15:04:05"), e.Patch, e.Target, e.PointType, e.Line, e.Variant, e.Digest, state)
	}
	log.Printf("%d insertions recorded", len(entries))
	return nil
}
