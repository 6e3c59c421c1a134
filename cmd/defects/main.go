package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/server"
	"github.com/joeblew999/plat-defects/internal/service"
	"github.com/joeblew999/plat-defects/internal/storage"
)

// Options defines all CLI flags and env vars for the defect server.
// Flags: --host, --port, --data-dir, --web-dir, --database-url, --backend-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_DATABASE_URL, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string `doc:"Directory for the DuckDB database" default:".data"`
	WebDir       string `doc:"Path to web/ directory; empty serves the embedded copy" default:""`
	DatabaseURL  string `doc:"postgres:// URL; empty uses DuckDB in --data-dir" default:""`
	BackendURL   string `doc:"Defect API used by the map page; empty uses this server's /api" default:""`
	MapStyle     string `doc:"MapLibre style URL" default:"https://demotiles.maplibre.org/style.json"`
	FetchTimeout string `doc:"Timeout of map page backend calls" default:"10s"`
	KafkaBrokers string `doc:"Comma separated Kafka brokers for defect events; empty disables" default:""`
	KafkaTopic   string `doc:"Kafka topic for defect events" default:"road-defects"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:"info"`
}

func newServer(opts *Options) *server.Server {
	if lvl, err := log.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	timeout, err := time.ParseDuration(opts.FetchTimeout)
	if err != nil {
		log.WithError(err).Warn("invalid --fetch-timeout, using 10s")
		timeout = 10 * time.Second
	}
	return server.New(server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		DataDir:       opts.DataDir,
		WebDir:        opts.WebDir,
		DatabaseURL:   opts.DatabaseURL,
		BackendURL:    opts.BackendURL,
		MapStyle:      opts.MapStyle,
		FetchTimeout:  timeout,
		AttachTimeout: time.Minute,
		KafkaBrokers:  opts.KafkaBrokers,
		KafkaTopic:    opts.KafkaTopic,
	})
}

// withDefects runs fn against the configured database and closes it.
func withDefects(opts *Options, fn func(ctx context.Context, svc *service.DefectService) error) {
	srv := newServer(opts)
	defer srv.Close()
	if srv.Defects() == nil {
		log.Fatal("database not available")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fn(ctx, srv.Defects()); err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func main() {
	_ = godotenv.Load()
	log.SetHandler(text.New(os.Stderr))

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		var httpServer *http.Server

		hooks.OnStart(func() {
			srv = newServer(opts)
			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-defects server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Map:     %s/map\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Fatal("server error")
			}
		})

		hooks.OnStop(func() {
			if httpServer == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("shutdown")
			}
			if err := srv.Close(); err != nil {
				log.WithError(err).Warn("close")
			}
		})
	})

	cli.Root().Use = "defects"
	cli.Root().Short = "Road defect map, reports and analytics"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			// The document does not depend on stored data.
			opts.DataDir, opts.DatabaseURL, opts.KafkaBrokers = "", "", ""
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Insert demo defects around the default map center",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			withDefects(opts, func(ctx context.Context, svc *service.DefectService) error {
				for _, req := range demoDefects {
					d, err := svc.Create(ctx, req)
					if err != nil {
						return err
					}
					fmt.Printf("created defect %d (%s, %s)\n", d.ID, d.DefectType, d.Severity)
				}
				return nil
			})
		}),
	})

	cli.Root().AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Bulk import a JSON array of vehicle defect reports",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			withDefects(opts, func(ctx context.Context, svc *service.DefectService) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var entries []json.RawMessage
				if err := json.Unmarshal(data, &entries); err != nil {
					return fmt.Errorf("%s: JSON body must contain an array of defect objects", args[0])
				}
				res, err := svc.Import(ctx, entries)
				if err != nil {
					return err
				}
				out, _ := json.MarshalIndent(res, "", "  ")
				fmt.Println(string(out))
				return nil
			})
		}),
	})

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Build the 30 day defect report and store it in S3/MinIO",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			stdout, _ := cmd.Flags().GetBool("stdout")
			withDefects(opts, func(ctx context.Context, svc *service.DefectService) error {
				report, err := svc.Aggregate(ctx)
				if err != nil {
					return err
				}
				if stdout {
					out, _ := json.MarshalIndent(report, "", "  ")
					fmt.Println(string(out))
					return nil
				}
				cfg, err := storage.ConfigFromEnv()
				if err != nil {
					return err
				}
				store, err := storage.NewReportStore(cfg, log.Log)
				if err != nil {
					return err
				}
				if err := store.EnsureBucket(ctx); err != nil {
					return err
				}
				key, err := store.PutReport(ctx, report)
				if err != nil {
					return err
				}
				fmt.Printf("report stored at s3://%s/%s\n", cfg.Bucket, key)
				return nil
			})
		}),
	}
	aggregateCmd.Flags().Bool("stdout", false, "Print the report instead of uploading it")
	cli.Root().AddCommand(aggregateCmd)

	cli.Run()
}

// demoDefects is the seed data set.
var demoDefects = []defect.CreateRequest{
	{DefectType: defect.Pothole, Severity: defect.High, Latitude: 40.0012, Longitude: -74.5021, Notes: "Deep pothole in right lane"},
	{DefectType: defect.Pothole, Severity: defect.Critical, Latitude: 40.0015, Longitude: -74.5019},
	{DefectType: defect.Crack, Severity: defect.Low, Latitude: 40.0123, Longitude: -74.4876, Notes: "Longitudinal crack"},
	{DefectType: defect.DamagedPavement, Severity: defect.Medium, Latitude: 39.9871, Longitude: -74.5213},
	{DefectType: defect.WaterLogging, Severity: defect.High, Latitude: 40.0234, Longitude: -74.4712, Notes: "Standing water after rain"},
	{DefectType: defect.MissingManhole, Severity: defect.Critical, Latitude: 39.9912, Longitude: -74.4988, Notes: "Open manhole near crossing"},
	{DefectType: defect.Other, Severity: defect.Low, Latitude: 40.0311, Longitude: -74.5302},
	{DefectType: defect.Crack, Severity: defect.Medium, Latitude: 40.0014, Longitude: -74.5023},
}
