package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"delta-mirror/chunk"
	"delta-mirror/config"
	"delta-mirror/deltalog"
	"delta-mirror/logger"
	"delta-mirror/metrics"
	"delta-mirror/multifile"
	"delta-mirror/proxy"
	"delta-mirror/scan"
	"delta-mirror/scan/filter"
	"delta-mirror/storage"
)

var rootCmd = &cobra.Command{
	Use:           "delta-mirror",
	Short:         "Scan Delta tables and serve them over the Postgres protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFile string
	logLevel   string
	version    int64
	wheres     []string
	columns    []string
	limit      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	filesCmd := &cobra.Command{
		Use:   "files <path>",
		Short: "List the live data files of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFiles(cmd, args[0])
		},
	}
	filesCmd.Flags().Int64Var(&version, "version", -1, "Table version (latest when negative)")

	scanCmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Print the rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0])
		},
	}
	scanCmd.Flags().Int64Var(&version, "version", -1, "Table version (latest when negative)")
	scanCmd.Flags().StringArrayVar(&wheres, "where", nil, "Row condition such as year=2023; repeatable")
	scanCmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to print")
	scanCmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many rows")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured tables into DuckDB and serve SQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serve()
			return nil
		},
	}

	rootCmd.AddCommand(filesCmd, scanCmd, serveCmd)
}

// loadConfig reads --config when given. The one-shot commands run without a
// config file.
func loadConfig(required bool) *config.Config {
	if configFile == "" {
		if required {
			configFile = "config.yaml"
		} else {
			cfg := &config.Config{}
			cfg.Logging.Level = "INFO"
			return cfg
		}
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setup(cfg *config.Config) (*storage.Resolver, *deltalog.LogEngine) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger.Init(logger.Config{Level: level, Format: cfg.Logging.Format})

	resolver := storage.NewResolver(cfg.Storage.S3)
	var opts []deltalog.Option
	if cfg.Scan.BatchSize > 0 {
		opts = append(opts, deltalog.WithBatchSize(cfg.Scan.BatchSize))
	}
	if cfg.Scan.DVCacheSize > 0 {
		opts = append(opts, deltalog.WithDVCacheSize(cfg.Scan.DVCacheSize))
	}
	return resolver, deltalog.NewEngine(resolver, opts...)
}

func versionFlag() *int64 {
	if version < 0 {
		return nil
	}
	v := version
	return &v
}

func runFiles(cmd *cobra.Command, path string) error {
	_, engine := setup(loadConfig(false))
	defer engine.Stop()

	list := scan.NewLazyFileList(cmd.Context(), engine, path, versionFlag())
	defer list.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPATH\tROWS\tDELETED\tPARTITION")
	for i := 0; ; i++ {
		file, ok, err := list.GetFile(i)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		md, err := list.MetaData(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i, file, formatRows(md.Cardinality), deleted(md.Selection), formatPartition(md))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	v, err := list.Version()
	if err != nil {
		return err
	}
	rows, known, err := list.GetCardinality()
	if err != nil {
		return err
	}
	estimate := "unknown"
	if known {
		estimate = fmt.Sprint(rows)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d, estimated rows %s\n", v, estimate)
	return nil
}

func formatRows(n *int64) string {
	if n == nil {
		return "?"
	}
	return fmt.Sprint(*n)
}

func deleted(sel []bool) int {
	n := 0
	for _, live := range sel {
		if !live {
			n++
		}
	}
	return n
}

func formatPartition(md *scan.FileMetadata) string {
	parts := make([]string, 0, md.PartitionValues.Len())
	for _, k := range md.PartitionValues.Keys() {
		v, _ := md.PartitionValues.Get(k)
		parts = append(parts, k+"="+v.String())
	}
	return strings.Join(parts, ",")
}

func runScan(cmd *cobra.Command, path string) error {
	cfg := loadConfig(false)
	resolver, engine := setup(cfg)
	defer engine.Stop()

	filters := make(map[string]filter.Filter, len(wheres))
	for _, expr := range wheres {
		col, f, err := filter.ParseCondition(expr)
		if err != nil {
			return err
		}
		if existing, ok := filters[col]; ok {
			f = &filter.And{Children: []filter.Filter{existing, f}}
		}
		filters[col] = f
	}

	scanner := scan.NewScanner(engine, &multifile.ParquetOpener{Resolver: resolver}, cfg.Scan.Options())
	defer scanner.Close()
	ts, err := scanner.Prepare(cmd.Context(), scan.Request{
		Path:    path,
		Version: versionFlag(),
		Columns: columns,
		Filters: filters,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	defer ts.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	header := make([]string, len(ts.Columns()))
	for i, c := range ts.Columns() {
		header[i] = c.Name
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	err = ts.Run(cmd.Context(), func(c *chunk.Chunk) error {
		for i := 0; i < c.Size(); i++ {
			row := c.Row(i)
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = v.String()
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

func serve() {
	cfg := loadConfig(true)
	resolver, engine := setup(cfg)
	defer engine.Stop()

	scanner := scan.NewScanner(engine, &multifile.ParquetOpener{Resolver: resolver}, cfg.Scan.Options())
	defer scanner.Close()

	proxy, err := proxy.NewDuckDBProxy(cfg, scanner)
	if err != nil {
		log.Fatalf("Failed to create proxy: %v", err)
	}
	defer proxy.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := proxy.LoadTables(ctx); err != nil {
		log.Fatalf("Failed to load tables: %v", err)
	}

	// Expose metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Start proxy server
	go func() {
		if err := proxy.Start(ctx); err != nil {
			log.Printf("Proxy error: %v", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		log.Println("Shutting down...")
	case <-ctx.Done():
		log.Println("Context cancelled...")
	}
}
