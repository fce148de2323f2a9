package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lherron/fieldsync/internal/cli"
)

func main() {
	addr := flag.String("addr", os.Getenv("FIELDSYNCD_ADDR"), "Listen address (default "+cli.DefaultDaemonAddr+")")
	unixPath := flag.String("unix", os.Getenv("FIELDSYNCD_UNIX"), "Listen on unix socket path")
	token := flag.String("token", os.Getenv("FIELDSYNCD_TOKEN"), "Shared token clients must present")
	dbPath := flag.String("db", "", "Database path override (defaults to config)")
	templates := flag.String("templates", "", "Extra milestone templates YAML file")
	hooks := flag.String("webhooks", os.Getenv("FIELDSYNCD_WEBHOOKS"), "Comma-separated webhook URLs ({component_id} and {drawing_id} are substituted)")
	flag.Parse()

	opts := cli.DaemonOptions{
		Addr:          *addr,
		Unix:          *unixPath,
		Token:         *token,
		DBPath:        *dbPath,
		TemplatesPath: *templates,
	}
	if *hooks != "" {
		opts.Webhooks = strings.Split(*hooks, ",")
	}

	if err := cli.ServeDaemon(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
