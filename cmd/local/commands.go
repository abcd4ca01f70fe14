package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lambda-event-patterns/internal/config"
	"lambda-event-patterns/internal/functions"
	"lambda-event-patterns/internal/middleware"
)

func newInvokeCommand() *cobra.Command {
	var eventFile string

	cmd := &cobra.Command{
		Use:   "invoke <function>",
		Short: "Invoke one function with an event file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readEvent(eventFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			catalog := newCatalog(cfg)
			defer catalog.Close()

			name := args[0]
			ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
				AwsRequestID:       uuid.New().String(),
				InvokedFunctionArn: functionARN(cfg.AWS.Region, name),
			})

			out, err := catalog.Registry().Invoke(ctx, name, payload)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	cmd.Flags().StringVarP(&eventFile, "event", "e", "", "event file in JSON or YAML, - for stdin")
	return cmd
}

// readEvent loads the invocation payload. YAML files are converted to JSON;
// no file means an empty object.
func readEvent(path string, stdin io.Reader) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch path {
	case "":
		return []byte("{}"), nil
	case "-":
		raw, err = io.ReadAll(stdin)
	default:
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("event %s is not valid JSON", path)
		}
		return raw, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", path, err)
	}
	return out, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the functions and the variables they require",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRIGGER\tREQUIRES")
			for _, f := range functions.All() {
				trigger := f.Trigger
				if f.Streaming {
					trigger += " (streaming)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, trigger, strings.Join(f.Required, ","))
			}
			return w.Flush()
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		subject  string
		username string
		roles    []string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token accepted by the WebSocket authorizer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Require(config.EnvJWTSecret); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			auth := middleware.NewAuthService(middleware.AuthConfig{
				JWTSecret:     cfg.JWT.Secret,
				TokenDuration: ttl,
				Issuer:        cfg.JWT.Issuer,
			})
			token, err := auth.GenerateToken(subject, username, roles)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().StringVar(&username, "username", "local", "username claim")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "role claims")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
