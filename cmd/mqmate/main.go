package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mqmate "github.com/glimte/mqmate-go"
	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/health"
	"github.com/glimte/mqmate-go/internal/reliability"
	"github.com/glimte/mqmate-go/messaging"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mqmate",
		Short: "Connection-resilient MQTT publish/subscribe client",
		Long: `Mqmate publishes and subscribes through a connection-resilient client.
Messages published while the broker is unreachable are queued in memory and
delivered once the connection returns.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	// Global flags
	var (
		brokerURL  string
		configPath string
		username   string
		password   string
		clientID   string
		verbose    bool
	)

	rootCmd.PersistentFlags().StringVarP(&brokerURL, "broker", "b", "", "Broker URL (default tcp://localhost:1883)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Broker username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Broker password")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client identifier (default generated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// loadConfig layers command line flags over the config file.
	loadConfig := func() (*Config, error) {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if brokerURL != "" {
			cfg.Broker.URL = brokerURL
		}
		if username != "" {
			cfg.Broker.Username = username
			cfg.Broker.Password = password
		}
		if clientID != "" {
			cfg.Broker.ClientID = clientID
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return cfg, nil
	}

	// Publish command
	var (
		pubQoS    int
		pubRetain bool
		pubWait   time.Duration
	)
	pubCmd := &cobra.Command{
		Use:   "pub <topic> <payload>",
		Short: "Publish one message and wait for the outcome",
		Long: `Publish a single message. While the broker is unreachable the message is
queued and delivered when the connection returns; the command waits for the
final outcome up to --wait.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pubQoS < 0 || pubQoS > 2 {
				return fmt.Errorf("qos must be 0, 1 or 2")
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := mqmate.NewClientWithOptions(cfg.Broker.URL, cfg.ClientOptions(cfg.BuildLogger())...)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			// A failed connect is not fatal: the publish is queued and goes
			// out if the connection comes up within the wait window.
			if err := connectWithRetry(ctx, client, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "connect failed, queuing anyway: %v\n", err)
			}

			receipt, err := client.Publish(ctx, args[0], []byte(args[1]), contracts.PublishOptions{
				QoS:    contracts.QoS(pubQoS),
				Retain: pubRetain,
			})
			if err != nil {
				if receipt == nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "direct send failed, queued for retry: %v\n", err)
			}

			waitCtx, waitCancel := context.WithTimeout(ctx, pubWait)
			defer waitCancel()

			if err := receipt.Wait(waitCtx); err != nil {
				stats := client.QueueStats()
				return fmt.Errorf("message %s not delivered (%d pending): %w", receipt.MessageID(), stats.Depth, err)
			}

			fmt.Printf("delivered to %s\n", args[0])
			return nil
		},
	}
	pubCmd.Flags().IntVarP(&pubQoS, "qos", "q", 1, "Quality of service level (0, 1 or 2)")
	pubCmd.Flags().BoolVarP(&pubRetain, "retain", "r", false, "Ask the broker to retain the message")
	pubCmd.Flags().DurationVarP(&pubWait, "wait", "w", 30*time.Second, "How long to wait for delivery")

	// Subscribe command
	var subQoS int
	subCmd := &cobra.Command{
		Use:   "sub <topic-filter>...",
		Short: "Subscribe and print messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if subQoS < 0 || subQoS > 2 {
				return fmt.Errorf("qos must be 0, 1 or 2")
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := mqmate.NewClientWithOptions(cfg.Broker.URL, cfg.ClientOptions(cfg.BuildLogger())...)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			ready := readySignal(client)

			if err := connectWithRetry(ctx, client, cfg); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			// Subscriptions are never queued, so wait until the manager has
			// processed the connected event before registering.
			if err := waitReady(ctx, client, ready, cfg.ConnectTimeout()); err != nil {
				return fmt.Errorf("connection not ready: %w", err)
			}

			subs := make([]contracts.Subscription, 0, len(args))
			for _, filter := range args {
				subs = append(subs, contracts.Subscription{TopicFilter: filter, QoS: contracts.QoS(subQoS)})
			}

			grants, err := subscribeWithRetry(ctx, client, func(topic string, payload []byte) {
				fmt.Printf("%s  %s  %s\n", time.Now().Format(time.RFC3339), topic, payload)
			}, subs)
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			printGrants(grants)
			fmt.Println("Listening... Press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
	subCmd.Flags().IntVarP(&subQoS, "qos", "q", 1, "Requested quality of service level (0, 1 or 2)")

	// Status command
	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and report connection and queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := mqmate.NewClientWithOptions(cfg.Broker.URL, cfg.ClientOptions(cfg.BuildLogger())...)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			ready := readySignal(client)

			// A failed connect is still a reportable status.
			if err := connectWithRetry(ctx, client, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
			} else if err := waitReady(ctx, client, ready, cfg.ConnectTimeout()); err != nil {
				fmt.Fprintf(os.Stderr, "connection not ready: %v\n", err)
			}

			registry := health.NewRegistry()
			registry.SetMetadata("version", version)
			registry.SetMetadata("broker", cfg.Broker.URL)
			registry.Register(health.NewConnectionChecker(client.Manager()))
			registry.Register(health.NewDeliveryQueueChecker(client.Queue(), 0, 0))
			registry.Register(health.NewGoroutineChecker(0, 0))

			checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
			defer checkCancel()
			report := registry.Check(checkCtx)

			if statusJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			}

			printHealth(report)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the report as JSON")

	rootCmd.AddCommand(pubCmd, subCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM, so every
// command path runs its deferred Close before exit.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx, cancel
}

// readySignal registers a listener that fires once the manager reports the
// connection up. Registered before Connect so the event cannot be missed.
func readySignal(client *mqmate.Client) <-chan struct{} {
	ready := make(chan struct{}, 1)
	client.AddStateListener(messaging.StateListenerFunc(func(change contracts.StateChange) {
		if change.Event == contracts.EventConnected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}))
	return ready
}

// waitReady blocks until the connected event has been processed. Connect can
// return a moment before the manager state flips.
func waitReady(ctx context.Context, client *mqmate.Client, ready <-chan struct{}, timeout time.Duration) error {
	if client.IsReady() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for the connection")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dialer is the part of the client connectWithRetry needs.
type dialer interface {
	Connect(ctx context.Context) error
}

// subscriber is the part of the client subscribeWithRetry needs.
type subscriber interface {
	Subscribe(ctx context.Context, handler messaging.MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error)
}

// connectWithRetry dials the broker, pacing repeat attempts on the configured
// fixed schedule. Every attempt gets its own connect timeout.
func connectWithRetry(ctx context.Context, client dialer, cfg *Config) error {
	policy := reliability.NewFixedDelay(cfg.ConnectRetryDelay(), cfg.Broker.ConnectRetries)
	return reliability.Retry(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
		defer cancel()
		return client.Connect(attemptCtx)
	})
}

// subscribeWithRetry registers the subscriptions. Registration fails fast when
// the connection drops between the ready wait and the Subscribe call, so it is
// retried with backoff until the client is ready again.
func subscribeWithRetry(ctx context.Context, client subscriber, handler messaging.MessageHandler, subs []contracts.Subscription) ([]contracts.Grant, error) {
	var grants []contracts.Grant
	err := reliability.RetryWithBackoff(ctx, func() error {
		var subErr error
		grants, subErr = client.Subscribe(ctx, handler, subs...)
		return subErr
	})
	return grants, err
}

// Output formatting functions

func printGrants(grants []contracts.Grant) {
	fmt.Printf("%-40s %-15s\n", "Topic Filter", "Granted QoS")
	fmt.Println(strings.Repeat("-", 56))

	for _, grant := range grants {
		granted := grant.QoS.String()
		if grant.Rejected() {
			granted = "rejected"
		}
		fmt.Printf("%-40s %-15s\n", truncate(grant.TopicFilter, 40), granted)
	}
}

func printHealth(report health.OverallHealth) {
	fmt.Printf("Overall: %s (checked in %s)\n\n", report.Status, report.Duration.Truncate(time.Millisecond))

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-20s %-12s %s\n", "Check", "Status", "Message")
	fmt.Println(strings.Repeat("-", 70))
	for _, name := range names {
		check := report.Checks[name]
		fmt.Printf("%-20s %-12s %s\n", name, check.Status, check.Message)
	}

	if queueCheck, ok := report.Checks["delivery_queue"]; ok && queueCheck.Details != nil {
		fmt.Printf("\nDelivery Queue:\n")
		for _, key := range []string{"depth", "enqueued", "delivered", "retried", "dropped"} {
			if value, ok := queueCheck.Details[key]; ok {
				fmt.Printf("  %-10s %v\n", key, value)
			}
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
