package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Almahr1/skrape/pkg/skrape"
	"github.com/spf13/cobra"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract structured data from a page using a JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pageURL, _ := cmd.Flags().GetString("url")
			schemaFile, _ := cmd.Flags().GetString("schema-file")

			s, err := readSchema(schemaFile)
			if err != nil {
				return err
			}
			opts, err := requestOptions(cmd)
			if err != nil {
				return err
			}

			return session(cmd, func(ctx context.Context, c *skrape.Client) error {
				job, err := c.Extract(ctx, pageURL, s, opts)
				if err != nil {
					return err
				}
				return writeResult(cmd, job)
			})
		},
	}

	cmd.Flags().String("url", "", "Page to extract from.")
	cmd.Flags().String("schema-file", "", "Path to a JSON Schema describing the output.")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("schema-file")
	addOptionFlags(cmd)

	return cmd
}

func newMarkdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markdown",
		Short: "Convert a single page to markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pageURL, _ := cmd.Flags().GetString("url")
			raw, _ := cmd.Flags().GetBool("raw")

			opts, err := requestOptions(cmd)
			if err != nil {
				return err
			}

			return session(cmd, func(ctx context.Context, c *skrape.Client) error {
				res, err := c.Markdown(ctx, pageURL, opts)
				if err != nil {
					return err
				}
				if raw {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Result)
					return err
				}
				return writeResult(cmd, res)
			})
		},
	}

	cmd.Flags().String("url", "", "Page to convert.")
	cmd.Flags().Bool("raw", false, "Print only the markdown text.")
	_ = cmd.MarkFlagRequired("url")
	addOptionFlags(cmd)

	return cmd
}

func newBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Convert several pages to markdown as one job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, _ := cmd.Flags().GetStringArray("url")
			wait, _ := cmd.Flags().GetBool("wait")

			opts, err := requestOptions(cmd)
			if err != nil {
				return err
			}

			return session(cmd, func(ctx context.Context, c *skrape.Client) error {
				job, err := c.MarkdownBulk(ctx, urls, opts)
				if err != nil {
					return err
				}
				if job, err = waitIfQueued(ctx, c, job, wait); err != nil {
					return err
				}
				return writeResult(cmd, job)
			})
		},
	}

	cmd.Flags().StringArray("url", nil, "Page to convert (repeatable).")
	cmd.Flags().Bool("wait", false, "Poll until the job finishes and print the final state.")
	_ = cmd.MarkFlagRequired("url")
	addOptionFlags(cmd)

	return cmd
}

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Start a crawl from one or more pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, _ := cmd.Flags().GetStringArray("url")
			wait, _ := cmd.Flags().GetBool("wait")
			callbackURL, _ := cmd.Flags().GetString("callback-url")

			opts, err := requestOptions(cmd)
			if err != nil {
				return err
			}
			if callbackURL = strings.TrimSpace(callbackURL); callbackURL != "" {
				opts = opts.WithCallbackURL(callbackURL)
			}

			return session(cmd, func(ctx context.Context, c *skrape.Client) error {
				job, err := c.Crawl(ctx, urls, opts)
				if err != nil {
					return err
				}
				if job, err = waitIfQueued(ctx, c, job, wait); err != nil {
					return err
				}
				return writeResult(cmd, job)
			})
		},
	}

	cmd.Flags().StringArray("url", nil, "Start page (repeatable).")
	cmd.Flags().String("callback-url", "", "URL the service calls when the crawl finishes.")
	cmd.Flags().Bool("wait", false, "Poll until the job finishes and print the final state.")
	_ = cmd.MarkFlagRequired("url")
	addOptionFlags(cmd)

	return cmd
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")

			return session(cmd, func(ctx context.Context, c *skrape.Client) error {
				var (
					job *skrape.JobResult
					err error
				)
				if wait {
					job, err = c.WaitForJob(ctx, args[0], skrape.PollConfig{})
				} else {
					job, err = c.GetJob(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return writeResult(cmd, job)
			})
		},
	}

	cmd.Flags().Bool("wait", false, "Poll until the job finishes.")

	return cmd
}

func addOptionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("render-js", false, "Render pages in a JavaScript-capable browser.")
	cmd.Flags().StringArray("option", nil, "Extra request option as key=value; JSON values are decoded (repeatable).")
}

// requestOptions builds request options from --render-js and --option
func requestOptions(cmd *cobra.Command) (skrape.Options, error) {
	opts := skrape.Options{}

	if cmd.Flags().Changed("render-js") {
		render, _ := cmd.Flags().GetBool("render-js")
		opts = opts.WithRenderJS(render)
	}

	pairs, _ := cmd.Flags().GetStringArray("option")
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --option %q: expected key=value", pair)
		}
		opts = opts.With(key, optionValue(value))
	}

	return opts, nil
}

// optionValue decodes JSON literals such as true, 3 or {"a":1} and keeps
// anything else as a plain string
func optionValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func readSchema(path string) (*skrape.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var s skrape.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return &s, nil
}
