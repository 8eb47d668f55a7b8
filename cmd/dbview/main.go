// cmd/dbview/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/tamzrod/plc-db-sync/internal/config"
	"github.com/tamzrod/plc-db-sync/internal/shm"
)

func main() {
	var (
		name     = flag.String("shm", config.DefaultSHMName, "shared region name")
		interval = flag.Duration("interval", 200*time.Millisecond, "refresh interval")
		once     = flag.Bool("once", false, "print once and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: dbview [flags] [field ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	region, err := shm.Attach(*name)
	if err != nil {
		log.Fatalf("attach failed: %v", err)
	}
	defer region.Close()

	rd := newReader(region)
	names := flag.Args()

	if *once || !term.IsTerminal(int(os.Stdout.Fd())) {
		p, err := rd.read()
		if err != nil {
			log.Fatalf("read failed: %v", err)
		}
		for _, r := range rows(p, names) {
			fmt.Printf("%s = %s\n", r[0], r[1])
		}
		return
	}

	if _, err := tea.NewProgram(newViewModel(*name, rd, names, *interval), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("viewer failed: %v", err)
	}
}
