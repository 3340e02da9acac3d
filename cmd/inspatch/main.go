package main

import (
	"log"

	"github.com/PatchLens/go-insert-patch/insert"
	"github.com/PatchLens/go-insert-patch/insert/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	config, _, err := cmd.ParseFlags(nil) // No custom flags for standard inspatch
	if err != nil {
		log.Fatalf("%s%v", insert.ErrorLogPrefix, err)
	}

	if err := insert.NewEngine(config).Run(); err != nil {
		log.Fatalf("%s%v", insert.ErrorLogPrefix, err)
	}
}
