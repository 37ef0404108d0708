package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/ds124wfegd/roombooker/config"
	"github.com/ds124wfegd/roombooker/internal/appServer"
	"github.com/ds124wfegd/roombooker/pkg/auth"
)

func main() {
	configPath := pflag.StringP("config", "c", "./config", "directory with config.yaml")
	issueToken := pflag.String("issue-token", "", "print a bearer token for <id>:<role> and exit (development only)")
	pflag.Parse()

	v, err := config.LoadConfigFrom(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("Failed to parse config: %v", err)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken); err != nil {
			logrus.Fatal(err)
		}
		return
	}

	if err := appServer.NewServer(cfg); err != nil {
		logrus.Fatalf("App stopped with error: %v", err)
	}
}

// printToken выпускает токен для ручной проверки API. Боевые токены выдает
// внешний провайдер сессий с тем же секретом.
func printToken(cfg *config.Config, arg string) error {
	if cfg.IsProduction() {
		return fmt.Errorf("--issue-token is disabled in production")
	}
	sub, role, ok := strings.Cut(arg, ":")
	if !ok || sub == "" || (role != "admin" && role != "customer") {
		return fmt.Errorf("--issue-token expects <id>:<admin|customer>, got %q", arg)
	}

	token, err := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Expiration).CreateAccessToken(sub, role)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
