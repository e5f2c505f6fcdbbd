package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"respkv/internal/config"
	"respkv/internal/metrics"
	"respkv/internal/respserver"
	"respkv/internal/store"
)

func defaultPort() int {
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 6379
}

func main() {
	port := flag.Int("port", 0, "port to listen on (default: $REDIS_PORT or 6379)")
	replicaof := flag.String("replicaof", "", "\"HOST PORT\" of the primary this instance replicates from")
	dir := flag.String("dir", "", "directory containing the RDB snapshot file")
	dbfilename := flag.String("dbfilename", "", "RDB snapshot filename")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9121 (disabled if empty)")
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// Only flags the user actually passed (and the REDIS_PORT env var)
	// take precedence over the config file; anything left at its zero
	// value falls through to the file, then to compiled-in defaults.
	var cfg config.Config
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "dir":
			cfg.Dir = *dir
		case "dbfilename":
			cfg.DBFilename = *dbfilename
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if *replicaof != "" {
		host, replPort, err := splitReplicaOf(*replicaof)
		if err != nil {
			log.Fatalf("respkv: --replicaof: %v", err)
		}
		cfg.ReplicaOfHost = host
		cfg.ReplicaOfPort = replPort
	}

	var fc *config.FileConfig
	if *configFile != "" {
		var err error
		fc, err = config.LoadFile(*configFile)
		if err != nil {
			log.Fatalf("respkv: %v", err)
		}
	}
	if v := os.Getenv("REDIS_PORT"); cfg.Port == 0 && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	cfg.ApplyDefaults(fc)
	if cfg.Port == 0 {
		cfg.Port = defaultPort()
	}

	st := store.New()
	defer st.Close()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			log.Printf("respkv: serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, m.Handler()); err != nil {
				log.Printf("respkv: metrics server: %v", err)
			}
		}()
	}

	srv := respserver.New(cfg, st, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("respkv: shutting down")
		cancel()
	}()

	role := "master"
	if cfg.IsReplica() {
		role = "replica"
	}
	log.Printf("respkv: starting as %s on port %d", role, cfg.Port)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("respkv: %v", err)
	}
}

func splitReplicaOf(s string) (host string, port int, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", 0, errInvalidReplicaOf
	}
	port, convErr := strconv.Atoi(fields[1])
	if convErr != nil {
		return "", 0, errInvalidReplicaOf
	}
	return fields[0], port, nil
}

var errInvalidReplicaOf = errors.New("expected \"HOST PORT\"")
