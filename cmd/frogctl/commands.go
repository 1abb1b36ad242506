package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/spf13/cobra"
)

const (
	defaultServer       = "http://localhost:1555"
	serverEnv           = "FROG_SERVER"
	defaultPollInterval = 2 * time.Second
	defaultWaitTimeout  = 10 * time.Minute
)

// errTaskFailed is returned by wait when the task finished with FAILURE.
var errTaskFailed = errors.New("task failed")

type rootOptions struct {
	server      string
	httpTimeout time.Duration
	httpClient  *http.Client // tests inject the test server's client
}

func (o *rootOptions) client() (*client, error) {
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.httpTimeout}
	}
	return newClient(o.server, hc)
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}
	return newRootCmdWithOptions(opts, out, errOut)
}

func newRootCmdWithOptions(opts *rootOptions, out, errOut io.Writer) *cobra.Command {
	server := os.Getenv(serverEnv)
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:           "frogctl",
		Short:         "Submit models to a runfrog server and fetch FROG results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&opts.server, "server", server, "runfrog server URL (env "+serverEnv+")")
	root.PersistentFlags().DurationVar(&opts.httpTimeout, "http-timeout", 5*time.Minute, "timeout for a single HTTP request")

	root.AddCommand(
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newOmexCmd(opts),
		newWaitCmd(opts),
	)
	return root
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a model and print the task id",
	}

	submit.AddCommand(&cobra.Command{
		Use:   "file <path>",
		Short: "Upload a local model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			id, err := c.SubmitFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("submit %s: %w", args[0], err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	})

	submit.AddCommand(&cobra.Command{
		Use:   "url <url>",
		Short: "Have the server fetch a model from a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			id, err := c.SubmitURL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("submit %s: %w", args[0], err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	})

	return submit
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "status <task_id>",
		Short: "Print the task status document",
		Long: "Print the task status document. --query applies a JMESPath expression, " +
			"for example 'task_status' or 'task_result.errors[0]'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if query != "" {
				if _, err := jmespath.Compile(query); err != nil {
					return fmt.Errorf("invalid --query: %w", err)
				}
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			_, doc, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printDocument(cmd.OutOrStdout(), doc, query)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "JMESPath expression applied to the status document")
	return cmd
}

// printDocument writes doc, or the result of query applied to it. String
// results are printed bare so they compose with shell scripts.
func printDocument(w io.Writer, doc any, query string) error {
	if query != "" {
		res, err := jmespath.Search(query, doc)
		if err != nil {
			return fmt.Errorf("evaluate --query: %w", err)
		}
		doc = res
	}
	if s, ok := doc.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func newOmexCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "omex <task_id>",
		Short: "Download the COMBINE archive of a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			body, name, err := c.Omex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer body.Close()

			if output == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), body)
				return err
			}
			if output == "" {
				output = name
			}
			if err := writeFile(output, body); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.ErrOrStderr(), "saved", output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default: server-provided name)")
	return cmd
}

// writeFile writes r to path through a temporary file so a failed download
// never leaves a truncated archive behind.
func writeFile(path string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frogctl-*.omex")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func newWaitCmd(opts *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
		query    string
	)
	cmd := &cobra.Command{
		Use:   "wait <task_id>",
		Short: "Poll until the task succeeds or fails",
		Long:  "Poll until the task reaches SUCCESS or FAILURE and print its status. Exits non-zero on FAILURE.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			st, doc, err := waitForTask(ctx, c, args[0], interval)
			if err != nil {
				return err
			}
			if err := printDocument(cmd.OutOrStdout(), doc, query); err != nil {
				return err
			}
			if st.TaskStatus == "FAILURE" {
				return errTaskFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "give up after this long")
	cmd.Flags().StringVarP(&query, "query", "q", "", "JMESPath expression applied to the final status document")
	return cmd
}

func waitForTask(ctx context.Context, c *client, id string, interval time.Duration) (taskStatus, any, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, doc, err := c.Status(ctx, id)
		if err != nil {
			return taskStatus{}, nil, err
		}
		if st.finished() {
			return st, doc, nil
		}

		select {
		case <-ctx.Done():
			return st, doc, fmt.Errorf("waiting for task %s (last status %s): %w", id, st.TaskStatus, ctx.Err())
		case <-ticker.C:
		}
	}
}
