package server

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/storage"
)

var (
	dbPath      string
	rulesPath   string
	natsURL     string
	embeddedNat bool
	signingKey  string
	listenAddr  string
	healthAddr  string
	adminToken  string
)

// CMD starts the HTTP server: a cobra command with flags parsed into
// package vars, calling Main with the store/broker/auth configuration
// this project needs.
var CMD = &cobra.Command{
	Use:   "server",
	Short: "start the document server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := storage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("server: open store: %w", err)
		}

		var rs []*rules.Rule
		if rulesPath != "" {
			data, err := os.ReadFile(rulesPath)
			if err != nil {
				return fmt.Errorf("server: read rules: %w", err)
			}
			rs, err = rules.LoadRules(data)
			if err != nil {
				return fmt.Errorf("server: load rules: %w", err)
			}
		} else {
			rs = rules.DefaultOpenRules()
		}

		var bus eventbus.Bus
		switch {
		case natsURL != "":
			bus, err = eventbus.Connect(natsURL)
		case embeddedNat:
			bus, err = eventbus.ConnectEmbedded()
		default:
			bus = eventbus.NewSolo()
		}
		if err != nil {
			return fmt.Errorf("server: connect broker: %w", err)
		}

		if signingKey == "" {
			return fmt.Errorf("server: --signing-key is required")
		}

		return Main(Config{
			DB:         db,
			Bus:        bus,
			Rules:      rules.NewEngine(rs),
			Schemas:    schema.NewRegistry(),
			SigningKey: []byte(signingKey),
			ListenAddr: listenAddr,
			HealthAddr: healthAddr,
			AdminToken: adminToken,
		})
	},
}

func init() {
	CMD.Flags().StringVar(&dbPath, "db", "docbase.sqlite", "path to the SQLite database file")
	CMD.Flags().StringVar(&rulesPath, "rules", "", "path to a rules YAML file (default: allow everything)")
	CMD.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (leave empty for --nats-embedded or, without it, an in-process bus)")
	CMD.Flags().BoolVar(&embeddedNat, "nats-embedded", false, "run an in-process NATS server instead of connecting out")
	CMD.Flags().StringVar(&signingKey, "signing-key", "", "HMAC key used to sign broker auth tokens")
	CMD.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	CMD.Flags().StringVar(&healthAddr, "health-listen", ":27667", "health/metrics listen address")
	CMD.Flags().StringVar(&adminToken, "admin-token", "", "required X-Admin-Token header value for /documents/internal/reset")
}
