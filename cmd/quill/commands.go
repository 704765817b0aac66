package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/quill-assist/quill/internal/bridge"
	"github.com/quill-assist/quill/internal/channel"
	"github.com/quill-assist/quill/internal/config"
	"github.com/quill-assist/quill/internal/doctor"
	"github.com/quill-assist/quill/internal/events"
	"github.com/quill-assist/quill/internal/locks"
	"github.com/quill-assist/quill/internal/panel"
	"github.com/quill-assist/quill/internal/stub"
	"github.com/quill-assist/quill/internal/supervisor"
)

func endpointFromConfig(cfg *config.Config) (channel.Endpoint, error) {
	return channel.NewEndpoint(cfg.Host, cfg.Port)
}

func channelFromConfig(cfg *config.Config, endpoint channel.Endpoint) (*channel.Channel, error) {
	return channel.New(
		endpoint,
		channel.WithTimeouts(cfg.DialTimeout, cfg.WriteTimeout, cfg.ReadTimeout),
		channel.WithMaxResponseBytes(cfg.MaxResponseBytes),
	)
}

// buildBridge wires the supervisor, channel, event bus, and bridge service
// from config.
func buildBridge(cfg *config.Config, logger *log.Logger) (*bridge.Service, *events.InMemoryBus, channel.Endpoint, error) {
	endpoint, err := endpointFromConfig(cfg)
	if err != nil {
		return nil, nil, channel.Endpoint{}, err
	}
	script, err := cfg.ResolveAgentScript()
	if err != nil {
		return nil, nil, channel.Endpoint{}, fmt.Errorf("resolve assistant script: %w", err)
	}
	sup, err := supervisor.New(cfg.Interpreter, script, endpoint)
	if err != nil {
		return nil, nil, channel.Endpoint{}, fmt.Errorf("build supervisor: %w", err)
	}
	ch, err := channelFromConfig(cfg, endpoint)
	if err != nil {
		return nil, nil, channel.Endpoint{}, fmt.Errorf("build channel: %w", err)
	}
	bus := events.New()
	service, err := bridge.New(
		sup, ch, bus,
		bridge.WithLogger(logger),
		bridge.WithLaunchTimeout(cfg.LaunchTimeout),
	)
	if err != nil {
		return nil, nil, channel.Endpoint{}, fmt.Errorf("build bridge: %w", err)
	}
	return service, bus, endpoint, nil
}

// acquireEndpointLease stops a second panel from launching another assistant
// on the same endpoint.
func acquireEndpointLease(endpoint channel.Endpoint) (func(), error) {
	path, err := locks.DefaultStorePath()
	if err != nil {
		return nil, err
	}
	store, err := locks.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	manager, err := locks.NewManager(store, locks.ManagerConfig{})
	if err != nil {
		return nil, err
	}
	if err := manager.Acquire(endpoint.Addr(), os.Getpid()); err != nil {
		if errors.Is(err, locks.ErrConflict) {
			return nil, fmt.Errorf("%w; another quill panel is already supervising %s", err, endpoint.Addr())
		}
		return nil, err
	}
	return func() { _ = manager.Release(endpoint.Addr()) }, nil
}

func newPanelCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var docID, docTitle string

	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Launch the interactive assistant panel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			service, bus, endpoint, err := buildBridge(cfg, logger)
			if err != nil {
				return err
			}

			release, err := acquireEndpointLease(endpoint)
			if err != nil {
				return err
			}
			defer release()

			defer func() {
				if shutdownErr := service.Shutdown(); shutdownErr != nil {
					logger.With("error", shutdownErr).Warn("assistant shutdown failed")
				}
			}()

			service.Initialize(ctx, bridge.DocumentContext{ID: docID, Title: docTitle})

			prober, err := doctor.NewProber(endpoint, bus, doctor.Config{
				HeartbeatInterval: cfg.HeartbeatInterval,
			})
			if err != nil {
				return fmt.Errorf("build prober: %w", err)
			}
			go prober.Start(ctx)

			model, err := panel.New(service, bus)
			if err != nil {
				return fmt.Errorf("build panel: %w", err)
			}
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("panel: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&docID, "doc-id", "", "document identifier passed to the assistant")
	cmd.Flags().StringVar(&docTitle, "doc-title", "", "document title passed to the assistant")
	return cmd
}

func newSendCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>...",
		Short: "Send one command to a running assistant and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := endpointFromConfig(cfg)
			if err != nil {
				return err
			}
			ch, err := channelFromConfig(cfg, endpoint)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			logger.With("endpoint", endpoint.Addr()).Debug("sending one-shot command")
			response, err := ch.Send(cmd.Context(), text)
			if err != nil {
				if errors.Is(err, channel.ErrConnectFailed) {
					return fmt.Errorf("%w; is the assistant running? try 'quill panel' or 'quill stub'", err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), response.Text())
			return nil
		},
	}
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the assistant endpoint and report reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, err := endpointFromConfig(cfg)
			if err != nil {
				return err
			}
			prober, err := doctor.NewProber(endpoint, events.New(), doctor.Config{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			payload := prober.RunOnce(cmd.Context())
			fmt.Fprintf(out, "endpoint:  %s\n", endpoint.Addr())
			if payload.Reachable {
				fmt.Fprintf(out, "assistant: reachable (%s)\n", payload.Latency)
			} else {
				fmt.Fprintf(out, "assistant: unreachable (%s)\n", payload.Detail)
			}
			return nil
		},
	}
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks for the assistant environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, err := endpointFromConfig(cfg)
			if err != nil {
				return err
			}
			script, err := cfg.ResolveAgentScript()
			if err != nil {
				return fmt.Errorf("resolve assistant script: %w", err)
			}

			checks := doctor.Preflight(doctor.PreflightInput{
				Interpreter: cfg.Interpreter,
				Script:      script,
				Endpoint:    endpoint,
			})

			out := cmd.OutOrStdout()
			for _, check := range checks {
				mark := "ok  "
				if !check.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "%s %-12s %s\n", mark, check.Name, check.Detail)
			}
			if !doctor.Healthy(checks) {
				return errors.New("preflight found problems")
			}
			return nil
		},
	}
}

// stubEndpoint accepts port 0, which the stub server resolves to an
// ephemeral port on listen. Other ports go through normal validation.
func stubEndpoint(host string, port int) (channel.Endpoint, error) {
	if port == 0 {
		if strings.TrimSpace(host) == "" {
			host = "127.0.0.1"
		}
		return channel.Endpoint{Host: host, Port: 0}, nil
	}
	return channel.NewEndpoint(host, port)
}

func newStubCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a stub assistant that echoes received commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			endpoint, err := stubEndpoint(cfg.Host, port)
			if err != nil {
				return err
			}

			server := stub.New(stub.WithLogger(logger))
			bound, err := server.Listen(endpoint)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", endpoint.Addr(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stub assistant listening on %s\n", bound.Addr())

			go func() {
				<-ctx.Done()
				if closeErr := server.Close(); closeErr != nil {
					logger.With("error", closeErr).Warn("stub close failed")
				}
			}()
			return server.Serve()
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "port to listen on")
	return cmd
}
