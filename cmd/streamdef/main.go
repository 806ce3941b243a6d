package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glimte/databridge-go"
	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/schema"
	"github.com/glimte/databridge-go/serialization"
	"github.com/glimte/databridge-go/storage/mongo"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "streamdef",
		Short: "Validate and register stream definitions",
		Long: `streamdef checks stream definition documents, derives their stream ids and
registers them with a definition store, announcing new definitions over RabbitMQ or NATS.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	logger := func() *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	}

	idCmd := &cobra.Command{
		Use:   "id <name> [version]",
		Short: "Print the stream id for a name and version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				fmt.Fprintln(cmd.OutOrStdout(), contracts.NewStreamDefinitionWithName(args[0]).GetStreamID())
				return nil
			}
			def, err := contracts.NewStreamDefinition(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), def.GetStreamID())
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a definition document and detect duplicates",
		Long:  "Parse a JSON definition or list of definitions, reporting malformed entries and conflicting registrations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			var defs []*contracts.StreamDefinition
			malformed := 0
			err = serialization.NewJSONConverter().UnmarshalEach(data, func(index int, def *contracts.StreamDefinition, err error) {
				if err != nil {
					malformed++
					fmt.Fprintf(out, "MALFORMED  definition %d: %v\n", index, err)
					return
				}
				defs = append(defs, def)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			client := databridge.NewClient(databridge.WithLogger(logger()))
			err = registerAll(cmd.Context(), out, client, defs)
			if malformed > 0 {
				return errors.Join(fmt.Errorf("%d malformed definitions", malformed), err)
			}
			return err
		},
	}

	var (
		amqpURL  string
		natsURL  string
		mongoURL string
		mongoDB  string
	)
	publishCmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Register definitions and announce new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (amqpURL == "") == (natsURL == "") {
				return errors.New("exactly one of --url or --nats is required")
			}

			defs, err := readDefinitions(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			options := []databridge.ClientOption{databridge.WithLogger(logger())}
			if mongoURL != "" {
				store, disconnect, err := mongo.Connect(ctx, mongoURL, mongoDB, mongo.WithLogger(logger()))
				if err != nil {
					return err
				}
				defer disconnect(context.Background())
				options = append(options, databridge.WithStore(store))
			}

			var client *databridge.Client
			if amqpURL != "" {
				client, err = databridge.NewRabbitMQClient(amqpURL, options...)
			} else {
				client, err = databridge.NewNATSClient(natsURL, options...)
			}
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			return registerAll(ctx, cmd.OutOrStdout(), client, defs)
		},
	}
	publishCmd.Flags().StringVarP(&amqpURL, "url", "u", "", "RabbitMQ connection URL")
	publishCmd.Flags().StringVar(&natsURL, "nats", "", "NATS connection URL")
	publishCmd.Flags().StringVar(&mongoURL, "mongo", "", "MongoDB URL for persistent registrations")
	publishCmd.Flags().StringVar(&mongoDB, "mongo-db", "databridge", "MongoDB database name")

	rootCmd.AddCommand(idCmd, validateCmd, publishCmd)
	return rootCmd
}

func readDefinitions(path string) ([]*contracts.StreamDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defs, err := serialization.NewJSONConverter().UnmarshalList(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// registerAll registers every definition, printing one status line each.
// It fails if any definition conflicts with an earlier one.
func registerAll(ctx context.Context, out io.Writer, client *databridge.Client, defs []*contracts.StreamDefinition) error {
	conflicts := 0
	for _, def := range defs {
		stored, err := client.Register(ctx, def)
		switch {
		case errors.Is(err, schema.ErrDifferentDefinition):
			conflicts++
			fmt.Fprintf(out, "CONFLICT   %s\n", def.GetStreamID())
		case err != nil:
			return err
		case stored:
			fmt.Fprintf(out, "OK         %s\n", def.GetStreamID())
		default:
			fmt.Fprintf(out, "DUPLICATE  %s\n", def.GetStreamID())
		}
	}

	if conflicts > 0 {
		return fmt.Errorf("%d conflicting definitions", conflicts)
	}
	return nil
}
