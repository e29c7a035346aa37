package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/metaenhancer/metaenhancer/internal/mockservice"
)

func main() {
	addr := defaultString("MOCK_SERVICES_ADDR", ":8080")
	compoundsPath := defaultString("MOCK_SERVICES_COMPOUNDS", "")
	down := defaultString("MOCK_SERVICES_DOWN", "")

	fs := flag.NewFlagSet("mock-services", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&compoundsPath, "compounds", compoundsPath, "YAML file with fixture compounds (default: built-in ethanol and caffeine)")
	fs.StringVar(&down, "down", down, "Comma-separated services answering 503 (pubchem,cir,cts,nlm,idsm,bridgedb)")
	_ = fs.Parse(os.Args[1:])

	var compounds []mockservice.Compound
	if compoundsPath != "" {
		var err error
		compounds, err = mockservice.LoadCompounds(compoundsPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(2)
		}
	}
	srv := mockservice.New(compounds...)
	for _, s := range splitCSV(down) {
		srv.SetStatus(s, http.StatusServiceUnavailable)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-services listening on %s\n", addr)
	for name, url := range mockservice.Endpoints("http://localhost" + addr) {
		_, _ = fmt.Fprintf(os.Stdout, "  METAENHANCER_ENDPOINTS_%s=%s\n", strings.ToUpper(name), url)
	}
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := hs.ListenAndServe(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
