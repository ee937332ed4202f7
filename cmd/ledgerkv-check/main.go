// Command ledgerkv-check runs the offline structural IntegrityChecker
// against a volume that is not currently open by an engine. It is a
// single-purpose binary, not an interactive shell.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"ledgerkv/pkg/buffer"
	"ledgerkv/pkg/integrity"
	"ledgerkv/pkg/store"
	"ledgerkv/pkg/volume"
)

func main() {
	dataPath := flag.String("datapath", "./data", "volume directory")
	flag.Parse()
	os.Exit(run(*dataPath))
}

func run(dataPath string) int {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	vol, err := volume.OpenExisting(dataPath+"/main.vol", true)
	if err != nil {
		log.Error().Err(err).Msg("open volume")
		return 1
	}
	defer vol.Close()

	source := &store.VolumeSource{Vol: vol}
	pool := buffer.NewPool(int(vol.Header.PageSize), 64, source, nil, nil)
	st := store.New(vol, pool)

	headBuf := make([]byte, vol.Header.PageSize)
	if err := vol.ReadPage(0, headBuf); err != nil {
		log.Error().Err(err).Msg("read head page")
		return 1
	}
	if err := st.LoadDirectory(headBuf); err != nil {
		log.Error().Err(err).Msg("load directory")
		return 1
	}

	names := st.Names()

	checker := integrity.New(st)
	report, err := checker.Check(names)
	if err != nil {
		log.Error().Err(err).Msg("integrity check")
		return 1
	}

	fmt.Printf("pages visited: %d\n", report.PagesVisited)
	exitCode := 0
	for _, f := range report.Faults {
		fmt.Printf("[%s] page %d: %s\n", severityLabel(f.Severity), f.Addr, f.Message)
		if f.Severity == integrity.Error {
			exitCode = 1
		}
	}
	if len(report.Faults) == 0 {
		fmt.Println("no faults found")
	}
	return exitCode
}

func severityLabel(s integrity.Severity) string {
	if s == integrity.Error {
		return "ERROR"
	}
	return "WARN"
}
