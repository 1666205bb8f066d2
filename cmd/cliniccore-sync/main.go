// Command cliniccore-sync runs one sync against a record server and prints
// a summary. Storage and attachment backends come from the environment
// (CLINICCORE_STORAGE_DRIVER, CLINICCORE_ATTACH_DRIVER and friends).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/language"

	"cliniccore/internal/attach"
	"cliniccore/internal/events"
	"cliniccore/internal/forest"
	"cliniccore/internal/logging"
	"cliniccore/internal/reports"
	"cliniccore/internal/store"
	clinicsync "cliniccore/internal/sync"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cliniccore-sync:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cliniccore-sync", flag.ContinueOnError)
	var (
		serverURL = fs.String("server", "http://localhost:9000", "record server base URL")
		username  = fs.String("user", "", "record server username")
		password  = fs.String("password", "", "record server password")
		localeArg = fs.String("locale", "en", "locale for the location forest")
		full      = fs.Bool("full", false, "run a full from-scratch sync")
		census    = fs.Bool("census", false, "store a census report after a successful sync")
		logLevel  = fs.String("log-level", "info", "log level (debug|info|warn|error)")
		timeout   = fs.Duration("timeout", 5*time.Minute, "overall sync timeout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := logging.NewZap(*logLevel, "cliniccore-sync")
	if err != nil {
		return err
	}
	locale, err := language.Parse(*localeArg)
	if err != nil {
		return fmt.Errorf("parse locale %q: %w", *localeArg, err)
	}

	st, err := store.Open(log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	bus := events.NewBus()
	provider := forest.NewProvider(st, log)
	// Prime the locale so the post-sync rebuild refreshes it.
	if _, err := provider.GetForest(ctx, locale); err != nil {
		return err
	}

	client := clinicsync.NewRESTClient(clinicsync.ClientConfig{
		BaseURL:  *serverURL,
		Username: *username,
		Password: *password,
	})
	manager := clinicsync.NewManager(st, client, bus, provider, log, nil)

	done := make(chan error, 1)
	events.Subscribe(bus, func(ev clinicsync.ProgressEvent) {
		log.Info("sync progress", "percent", ev.Percent, "phase", ev.Label)
	})
	events.Subscribe(bus, func(ev clinicsync.SucceededEvent) { done <- nil })
	events.Subscribe(bus, func(ev clinicsync.FailedEvent) { done <- ev.Err })
	events.Subscribe(bus, func(ev clinicsync.CanceledEvent) {
		done <- fmt.Errorf("sync canceled")
	})

	var id uint64
	if *full {
		id = manager.SyncAll()
	} else {
		id = manager.Sync()
	}
	log.Info("sync started", "sync_id", id, "full", *full, "server", *serverURL)

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		manager.Cancel()
		manager.Wait()
		return fmt.Errorf("sync timed out after %s", *timeout)
	}
	manager.Wait()

	f, err := provider.GetForest(ctx, locale)
	if err != nil {
		return err
	}
	fmt.Printf("sync %d succeeded: %d locations, %d patients\n", id, f.Size(), f.TotalPatients())

	if *census {
		as, err := attach.Open(ctx)
		if err != nil {
			return err
		}
		key, err := reports.StoreCensusReport(ctx, provider, locale, as)
		if err != nil {
			return err
		}
		fmt.Println("census report stored at", key)
	}
	return nil
}
