package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ros_teleop_app/config"
	"ros_teleop_app/handlers"
	"ros_teleop_app/logging"
	"ros_teleop_app/robot"
)

var rootCmd = &cobra.Command{
	Use:          "ros_teleop_app",
	Short:        "Teleoperation bridge for ROS 2 robots over rosbridge",
	Long:         `Connects to a rosbridge_server, coordinates action goals and service calls, and serves an HTTP/WebSocket control surface.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML config file")
	flags.String("host", "", "rosbridge host, overrides the config file")
	flags.Int("port", 0, "rosbridge port, overrides the config file")
	flags.String("listen", "", "HTTP listen address, overrides the config file")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("no-connect", false, "Do not dial rosbridge at startup")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
	viper.SetEnvPrefix("ROS_TELEOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

// loadConfig layers flags and ROS_TELEOP_* variables over the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("host"); v != "" {
		cfg.Rosbridge.Host = v
	}
	if v := viper.GetInt("port"); v != 0 {
		cfg.Rosbridge.Port = v
	}
	if v := viper.GetString("listen"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if viper.GetBool("no-connect") {
		cfg.Rosbridge.AutoConnect = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	rb := robot.NewRobot(cfg, log)
	srv := handlers.NewServer(rb, log, cfg.Services.Timeout)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	log.Infof("rosbridge at %s, auto connect %t", cfg.Rosbridge.URL(), cfg.Rosbridge.AutoConnect)
	rb.Start(cfg.Rosbridge.AutoConnect)

	g.Go(func() error {
		log.Infof("Listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Shutting down...")
		rb.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
