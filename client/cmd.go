package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/aep/docbase/queryengine"
)

var (
	endpoint    = "http://localhost:8080"
	brokerURL   string
	workspaceID = "default"
	userID      = "cli"
	dataFile    string
	configFile  string
)

// CMD is the root client command: get/put/delete/query against
// slash-separated collection/document paths.
var CMD = &cobra.Command{
	Use:   "client",
	Short: "talk to a docbase server",
}

func init() {
	CMD.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML config file; flags take precedence over its values")
	CMD.PersistentFlags().StringVar(&endpoint, "endpoint", endpoint, "server HTTP base URL")
	CMD.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "broker URL for live features")
	CMD.PersistentFlags().StringVar(&workspaceID, "workspace", workspaceID, "workspace id")
	CMD.PersistentFlags().StringVar(&userID, "user", userID, "caller user id")

	getCmd.Flags().StringVar(&dataFile, "file", "", "unused, present for symmetry with put")
	putCmd.Flags().StringVarP(&dataFile, "file", "f", "", "path to a JSON/YAML document (- for stdin)")
	putCmd.MarkFlagRequired("file")

	CMD.AddCommand(getCmd, putCmd, deleteCmd, queryCmd)
}

// fileConfig is the shape of the TOML file --config points at. Its
// fields mirror Config's CLI-relevant subset; BrokerURL/WorkspaceID/
// UserID are optional overrides, Endpoint is the only field the file
// normally needs to set since it varies per deployment while the rest
// default sensibly.
type fileConfig struct {
	Endpoint    string `toml:"endpoint"`
	BrokerURL   string `toml:"broker_url"`
	WorkspaceID string `toml:"workspace"`
	UserID      string `toml:"user"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	_, err := toml.DecodeFile(path, &fc)
	return fc, err
}

// newClient resolves a Config from, in increasing precedence: the
// flags' own defaults, --config's TOML file, then any flag the caller
// actually passed on the command line (cmd.Flags().Changed).
func newClient(cmd *cobra.Command) *Client {
	cfg := Config{Endpoint: endpoint, BrokerURL: brokerURL, WorkspaceID: workspaceID, UserID: userID}

	if configFile != "" {
		fc, err := loadFileConfig(configFile)
		if err != nil {
			log.Fatalf("client: load config file: %v", err)
		}
		if fc.Endpoint != "" && !cmd.Flags().Changed("endpoint") {
			cfg.Endpoint = fc.Endpoint
		}
		if fc.BrokerURL != "" && !cmd.Flags().Changed("broker-url") {
			cfg.BrokerURL = fc.BrokerURL
		}
		if fc.WorkspaceID != "" && !cmd.Flags().Changed("workspace") {
			cfg.WorkspaceID = fc.WorkspaceID
		}
		if fc.UserID != "" && !cmd.Flags().Changed("user") {
			cfg.UserID = fc.UserID
		}
	}

	c, err := New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

var getCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "get a document by path",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		defer c.Close()

		snap, err := c.Get(context.Background(), args[0])
		if err != nil {
			log.Fatal(err)
		}
		printYAML(snap)
	},
}

var putCmd = &cobra.Command{
	Use:     "put [collection/path]",
	Aliases: []string{"apply"},
	Short:   "create a document with a server-assigned id under a collection path",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readFile(dataFile)
		if err != nil {
			log.Fatal(err)
		}
		data, err := yaml.YAMLToJSON(raw)
		if err != nil {
			log.Fatal(err)
		}

		c := newClient(cmd)
		defer c.Close()

		snap, err := c.Create(context.Background(), args[0], data)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(snap.Path)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [path]",
	Short: "soft-delete a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		defer c.Close()
		if err := c.Delete(context.Background(), args[0], nil); err != nil {
			log.Fatal(err)
		}
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [collectionPath] [field=value ...]",
	Short: "query a collection",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		defer c.Close()

		q := c.Query(args[0])
		for _, arg := range args[1:] {
			field, op, value := parseFilterArg(arg)
			q = q.Where(field, op, value)
		}

		results, err := q.Run(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		for _, r := range results {
			printYAML(r)
		}
	},
}

func parseFilterArg(arg string) (string, queryengine.Op, string) {
	if field, value, ok := strings.Cut(arg, "!="); ok {
		return field, queryengine.OpNeq, value
	}
	if field, value, ok := strings.Cut(arg, "="); ok {
		return field, queryengine.OpEq, value
	}
	if field, value, ok := strings.Cut(arg, ">"); ok {
		return field, queryengine.OpGt, value
	}
	if field, value, ok := strings.Cut(arg, "<"); ok {
		return field, queryengine.OpLt, value
	}
	return arg, queryengine.OpEq, ""
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

func printYAML(v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Fatal(err)
	}
	enc, err := yaml.JSONToYAML(buf)
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(enc)
}
