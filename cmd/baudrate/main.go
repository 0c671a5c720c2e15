/*
Copyright 2026 the baudrate authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// baudrate is a federation engine for forums: it accepts signed
// ActivityPub traffic on behalf of local boards and delivers their
// activities to followers on other servers.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/data"
	"github.com/baudrate/baudrate/fed"
	"github.com/baudrate/baudrate/forum"
	"github.com/baudrate/baudrate/front/admin"
	"github.com/baudrate/baudrate/inbox"
	"github.com/baudrate/baudrate/keys"
	"github.com/baudrate/baudrate/outbox"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	_ "github.com/mattn/go-sqlite3"
)

var (
	domain   = flag.String("domain", "", "domain this server is reachable at")
	addr     = flag.String("addr", ":8443", "listening address")
	dbPath   = flag.String("db", "baudrate.sqlite3", "database path")
	cfgPath  = flag.String("cfg", "", "configuration file path")
	logLevel = flag.Int("loglevel", int(slog.LevelInfo), "logging verbosity")
)

func loadConfig(path string) (*cfg.Config, error) {
	var config cfg.Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := json.NewDecoder(f).Decode(&config); err != nil {
			return nil, err
		}
	}

	config.FillDefaults()
	return &config, nil
}

func main() {
	adminMode := len(os.Args) > 1 && os.Args[1] == "admin"
	if adminMode {
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(*logLevel)})))

	if *domain == "" {
		slog.Error("Must specify -domain")
		os.Exit(1)
	}

	config, err := loadConfig(*cfgPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", *dbPath+"?"+config.DatabaseOptions)
	if err != nil {
		slog.Error("Failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := data.Migrate(ctx, db); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	manager := keys.Manager{DB: db}

	client := fed.NewClient(config)
	blockList := fed.BlockList{DB: db}

	queue := fed.Queue{
		Domain:    *domain,
		Config:    config,
		DB:        db,
		Client:    client,
		BlockList: &blockList,
		Keys:      &manager,
	}

	auditor := fed.Auditor{
		Config:    config,
		Client:    client,
		BlockList: &blockList,
		DB:        db,
	}

	if adminMode {
		width, height, err := term.GetSize(os.Stdout.Fd())
		if err != nil {
			width, height = 80, 24
		}

		if _, err := tea.NewProgram(admin.New(&queue, &auditor, &manager, width, height), tea.WithAltScreen()).Run(); err != nil {
			slog.Error("Admin console failed", "error", err)
			os.Exit(1)
		}
		return
	}

	siteKey, err := manager.SigningKey(ctx, keys.Site, "", "https://"+*domain+"/actor#main-key")
	if err != nil {
		slog.Error("Failed to load site key", "error", err)
		os.Exit(1)
	}

	resolver := fed.Resolver{
		Domain:    *domain,
		Config:    config,
		BlockList: &blockList,
		Client:    client,
		DB:        db,
		Key:       siteKey,
	}

	listener := fed.Listener{
		Domain:   *domain,
		Config:   config,
		Verifier: &fed.Verifier{Domain: *domain, Resolver: &resolver},
		Inbox: &inbox.Inbox{
			Domain:   *domain,
			DB:       db,
			Forum:    &forum.Forum{DB: db},
			Acceptor: &outbox.Publisher{Domain: *domain, DB: db, Queue: &queue},
		},
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-sigs:
			slog.Info("Received termination signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	if config.BlocklistImportPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := blockList.Watch(ctx, config.BlocklistImportPath); err != nil {
				slog.Error("Failed to watch blocklist", "path", config.BlocklistImportPath, "error", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := queue.Run(ctx); err != nil {
			slog.Error("Delivery queue failed", "error", err)
			cancel()
		}
	}()

	slog.Info("Listening", "domain", *domain, "addr", *addr, "db", *dbPath)

	if err := listener.ListenAndServe(ctx, *addr); err != nil {
		slog.Error("Listener failed", "error", err)
	}

	cancel()
	wg.Wait()
}
