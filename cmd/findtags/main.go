// Command findtags recognizes coded VHF tag bursts in a receiver's
// pulse stream, persisting confirmed runs and hits to a sqlite output
// database. Flag wiring follows cmd/radar/radar.go's package-var
// flag.* style.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vhftag/tagfinder/internal/config"
	"github.com/vhftag/tagfinder/internal/foray"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/record/pcap"
	"github.com/vhftag/tagfinder/internal/record/source"
	"github.com/vhftag/tagfinder/internal/store/sqlite"
	"github.com/vhftag/tagfinder/internal/tagdb"
	"github.com/vhftag/tagfinder/internal/version"
)

var (
	tagDBPath   = flag.String("tag-db", "", "path to the sqlite tag database (required)")
	outDBPath   = flag.String("out-db", "findtags.db", "path to the output sqlite database")
	paramsFile  = flag.String("params", "", "path to a JSON parameter override file (optional)")
	inputFile   = flag.String("input", "", "path to a recorded input stream (\"-\" for stdin); mutually exclusive with -port")
	portFlag    = flag.String("port", "", "serial port to read live pulses from; mutually exclusive with -input")
	pcapFile    = flag.String("pcap", "", "path to a captured receiver session (pcap) to replay; mutually exclusive with -input and -port")
	checkTags   = flag.Bool("check-tags", false, "validation-only mode: report ambiguous tag pairs and exit, without processing any pulses")
	adminListen = flag.String("admin-listen", "", "if set, serve a read-only SQL console over the output DB at this address")
	versionFlag = flag.Bool("version", false, "print version information and exit")
)

// Exit codes per spec.md §6 "Exit codes".
const (
	exitOK          = 0
	exitFatal       = 2
	exitAmbiguous   = 255 // process exit codes are unsigned 0..255; -1 wraps to 255
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(exitOK)
	}

	logger := log.New(os.Stderr, "findtags: ", log.LstdFlags)

	if *tagDBPath == "" {
		logger.Printf("fatal: -tag-db is required")
		os.Exit(exitFatal)
	}

	params, err := loadParams(*paramsFile)
	if err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(exitFatal)
	}

	tagDB, err := sql.Open("sqlite", *tagDBPath)
	if err != nil {
		logger.Printf("fatal: open tag database: %v", err)
		os.Exit(exitFatal)
	}
	defer tagDB.Close()

	tags, err := tagdb.LoadTags(tagDB)
	if err != nil {
		logger.Printf("fatal: load tags: %v", err)
		os.Exit(exitFatal)
	}

	if *checkTags {
		os.Exit(runCheckTags(tags, params, logger))
	}

	byID := tagdb.IndexByID(tags)
	tagEvents, err := tagdb.LoadEvents(tagDB, byID)
	if err != nil {
		logger.Printf("fatal: load events: %v", err)
		os.Exit(exitFatal)
	}

	outStore, err := sqlite.Open(*outDBPath)
	if err != nil {
		logger.Printf("fatal: open output database: %v", err)
		os.Exit(exitFatal)
	}
	defer outStore.Close()

	if *adminListen != "" {
		mux := http.NewServeMux()
		if err := outStore.AttachAdminRoutes(mux); err != nil {
			logger.Printf("warning: admin routes unavailable: %v", err)
		} else {
			go func() {
				if err := http.ListenAndServe(*adminListen, mux); err != nil {
					logger.Printf("warning: admin listener stopped: %v", err)
				}
			}()
		}
	}

	f, err := foray.New(params, logger, outStore, tags, tagEvents)
	if err != nil {
		logger.Printf("fatal: construct conductor: %v", err)
		os.Exit(exitFatal)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(runBatch(ctx, f, logger))
}

// runCheckTags implements -check-tags (SPEC_FULL.md §9
// "Validation-only mode"): report every pair of active tags that
// collide under the chosen tolerances and exit -1 (255) if any did.
func runCheckTags(tags []*tag.Tag, params *config.Parameters, logger *log.Logger) int {
	collisions, err := foray.CheckTags(tags, params)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return exitFatal
	}
	if len(collisions) == 0 {
		logger.Printf("no ambiguous tag pairs found")
		return exitOK
	}
	for _, c := range collisions {
		logger.Printf("ambiguous: tag %d cannot be distinguished from tag %d", c.TagA, c.TagB)
	}
	return exitAmbiguous
}

func loadParams(path string) (*config.Parameters, error) {
	if path == "" {
		return config.Defaults()
	}
	return config.LoadParameters(path, "")
}

func runBatch(ctx context.Context, f *foray.Foray, logger *log.Logger) int {
	rd, closeFn, err := openInput()
	if err != nil {
		logger.Printf("fatal: %v", err)
		return exitFatal
	}
	defer closeFn()

	if err := f.BeginBatch(0); err != nil {
		logger.Printf("fatal: %v", err)
		return exitFatal
	}

	lastTS := 0.0
	for {
		select {
		case <-ctx.Done():
			logger.Printf("interrupted, flushing and exiting")
			return finishBatch(f, lastTS, logger)
		default:
		}

		rec, err := rd.Next()
		if err != nil {
			break
		}
		lastTS = rec.TS
		if err := f.Process(rec); err != nil {
			logger.Printf("warning: dropping record: %v", err)
			continue
		}
	}
	return finishBatch(f, lastTS, logger)
}

func finishBatch(f *foray.Foray, lastTS float64, logger *log.Logger) int {
	f.Reap(lastTS)
	if err := f.Flush(); err != nil {
		logger.Printf("fatal: flush: %v", err)
		return exitFatal
	}
	if err := f.FinishBatch(lastTS); err != nil {
		logger.Printf("fatal: finish batch: %v", err)
		return exitFatal
	}
	return exitOK
}

// inputReader is satisfied by both record.Reader and
// record/source.Port and record/pcap.Replayer.
type inputReader interface {
	Next() (*record.Record, error)
}

func openInput() (inputReader, func() error, error) {
	switch {
	case *portFlag != "":
		p, err := source.OpenWithRetry(*portFlag, nil, 5, time.Second, 30*time.Second, nil)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case *pcapFile != "":
		rp, err := pcap.Open(*pcapFile)
		if err != nil {
			return nil, nil, err
		}
		return rp, rp.Close, nil
	case *inputFile != "" && *inputFile != "-":
		f, err := os.Open(*inputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open input file: %w", err)
		}
		return record.NewReader(f), f.Close, nil
	case *inputFile == "-":
		return record.NewReader(os.Stdin), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("one of -input, -port or -pcap must be given")
	}
}
