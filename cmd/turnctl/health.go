package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentturn/config"
	"github.com/hupe1980/agentturn/model"
)

// errDegraded makes `turnctl health` exit non-zero when a backend is not up.
var errDegraded = errors.New("backend degraded")

type backendFlags struct {
	provider string
	model    string
	timeout  time.Duration
}

func (p *backendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.provider, "provider", "", "model provider (openai, anthropic, mock)")
	cmd.Flags().StringVar(&p.model, "model", "", "model name")
	cmd.Flags().DurationVar(&p.timeout, "timeout", model.DefaultHealthTimeout, "per-backend timeout")
}

// backends builds the callers checked by health and models, keyed by
// provider name.
func (p *backendFlags) backends(path string) (map[string]model.Caller, error) {
	cfg, err := loadConfig(path, runFlags{provider: p.provider, model: p.model})
	if err != nil {
		return nil, err
	}

	return configBackends(cfg)
}

func configBackends(cfg *config.Config) (map[string]model.Caller, error) {
	caller, err := buildCaller(cfg.Provider)
	if err != nil {
		return nil, err
	}

	return map[string]model.Caller{cfg.Provider.Name: caller}, nil
}

func newHealthCommand() *cobra.Command {
	var p backendFlags

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the configured provider is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")

			backends, err := p.backends(path)
			if err != nil {
				return err
			}

			return printHealth(cmd.Context(), backends, p.timeout, cmd.OutOrStdout())
		},
	}

	p.register(cmd)

	return cmd
}

func printHealth(ctx context.Context, backends map[string]model.Caller, timeout time.Duration, w io.Writer) error {
	h := model.CheckHealth(ctx, backends, timeout)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(h); err != nil {
		return err
	}

	if h.Status != model.HealthOK {
		return errDegraded
	}

	return nil
}

func newModelsCommand() *cobra.Command {
	var p backendFlags

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the configured provider serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")

			backends, err := p.backends(path)
			if err != nil {
				return err
			}

			return printModels(cmd.Context(), backends, p.timeout, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	p.register(cmd)

	return cmd
}

func printModels(ctx context.Context, backends map[string]model.Caller, timeout time.Duration, stdout, stderr io.Writer) error {
	models, failed := model.ListModels(ctx, backends, timeout)

	for name, err := range failed {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
	}

	if len(models) == 0 && len(failed) > 0 {
		return errDegraded
	}

	for _, m := range models {
		fmt.Fprintf(stdout, "%s\t%s\n", m.Provider, m.Name)
	}

	return nil
}
