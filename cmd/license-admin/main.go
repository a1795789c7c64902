package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/RayanAndish/GoldACC-sub003/internal/app/bootstrap"
	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
)

// licenseAdmin is the slice of the use-case layer the CLI drives.
type licenseAdmin interface {
	IssueLicense(ctx context.Context, req application.IssueLicenseRequest) (application.IssueLicenseResponse, error)
	RevokeLicense(ctx context.Context, licenseID uuid.UUID) (domain.License, error)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "issue", "revoke":
		return withService(args[0], args[1:], out)
	case "keygen":
		return runKeygen(out)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: license-admin <subcommand> [flags]

Subcommands:
  issue     Issue a license key (printed once, never stored in plaintext)
  revoke    Revoke a license and its active activation
  keygen    Generate an age identity for AGE_IDENTITY

Global flags:
  --config  path to the service config file (default configs/default.yaml)
`)
}

func withService(subcommand string, args []string, out io.Writer) error {
	configPath := "configs/default.yaml"
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		}
	}

	ctx := context.Background()
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.StorageDriver == bootstrap.StorageDriverMemory {
		return errors.New("license-admin needs STORAGE_DRIVER=postgres; memory storage is private to the api process")
	}
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %w", err)
	}
	defer runtime.Close()

	if subcommand == "issue" {
		return runIssue(ctx, runtime.Service(), args, out)
	}
	return runRevoke(ctx, runtime.Service(), args, out)
}

func runIssue(ctx context.Context, admin licenseAdmin, args []string, out io.Writer) error {
	var (
		customerID  string
		systemID    string
		licenseType string
		features    []string
		validFor    time.Duration
		configPath  string
	)
	flagSet := pflag.NewFlagSet("issue", pflag.ContinueOnError)
	flagSet.StringVar(&customerID, "customer", "", "customer identifier (required)")
	flagSet.StringVar(&systemID, "system", "", "bind the license to a registered system id")
	flagSet.StringVar(&licenseType, "type", "standard", "license type: trial, standard, professional or enterprise")
	flagSet.StringSliceVar(&features, "feature", nil, "enabled feature, repeatable or comma separated")
	flagSet.DurationVar(&validFor, "valid-for", 0, "license lifetime, zero for perpetual")
	flagSet.StringVar(&configPath, "config", "configs/default.yaml", "service config file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	req := application.IssueLicenseRequest{
		CustomerID:  customerID,
		LicenseType: licenseType,
		Features:    features,
	}
	if systemID != "" {
		id, err := uuid.Parse(systemID)
		if err != nil {
			return fmt.Errorf("invalid --system: %w", err)
		}
		req.SystemID = &id
	}
	if validFor > 0 {
		expires := time.Now().UTC().Add(validFor)
		req.ExpiresAt = &expires
	}

	issued, err := admin.IssueLicense(ctx, req)
	if err != nil {
		return fmt.Errorf("issue license: %w", err)
	}
	return writeJSON(out, issued)
}

func runRevoke(ctx context.Context, admin licenseAdmin, args []string, out io.Writer) error {
	var licenseID, configPath string
	flagSet := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	flagSet.StringVar(&licenseID, "license", "", "license id to revoke (required)")
	flagSet.StringVar(&configPath, "config", "configs/default.yaml", "service config file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	id, err := uuid.Parse(licenseID)
	if err != nil {
		return fmt.Errorf("invalid --license: %w", err)
	}
	license, err := admin.RevokeLicense(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	return writeJSON(out, map[string]any{
		"licenseId": license.LicenseID,
		"status":    license.Status,
	})
}

func runKeygen(out io.Writer) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate age identity: %w", err)
	}
	fmt.Fprintf(os.Stderr, "# recipient: %s\n", identity.Recipient())
	_, err = fmt.Fprintln(out, identity.String())
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
