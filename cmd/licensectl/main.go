// Command licensectl manages the license of an application installed on this
// machine: show status, start a purchase, activate or deactivate a key and
// open the billing portal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/client"
)

const usage = `usage: licensectl [flags] <command> [args]

commands:
  status            show the effective license state
  refresh           validate the stored key online
  activate <key>    activate an existing license key
  checkout          buy a subscription and wait for the payment
  manage            open the billing portal
  deactivate        forget the stored license key
  device-id         print this machine's device id

flags:
`

func main() {
	fs := flag.NewFlagSet("licensectl", flag.ExitOnError)
	serverURL := fs.String("server", envOr("LICENSE_SERVER_URL", "http://localhost:8787"), "license server base URL")
	app := fs.String("app", "exportdoctor", "application name, used for the default state path")
	statePath := fs.String("state", "", "license state file (default: user config dir)")
	publicKey := fs.String("receipt-key", os.Getenv("LICENSE_RECEIPT_PUBLIC_KEY"), "base64 Ed25519 key that signs validation receipts")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, fs.Arg(0), fs.Args()[1:], *serverURL, *app, *statePath, *publicKey); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, serverURL, app, statePath, publicKey string) error {
	deviceID, err := client.GenerateDeviceID()
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	if cmd == "device-id" {
		fmt.Println(deviceID)
		return nil
	}

	if statePath == "" {
		if statePath, err = client.DefaultStatePath(app); err != nil {
			return err
		}
	}
	opts := []client.ManagerOption{
		client.WithOpener(client.OpenerFunc(func(url string) error {
			fmt.Println("Open this URL in your browser:")
			fmt.Println("  " + url)
			return nil
		})),
	}
	if publicKey != "" {
		v, err := license.NewReceiptVerifier(publicKey)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithReceiptVerifier(v))
	}

	m := client.NewManager(
		client.NewOnlineClient(serverURL, client.WithDeviceID(deviceID)),
		client.NewStateFile(statePath),
		opts...,
	)
	defer m.Close()

	state, err := m.Open(ctx)
	if err != nil {
		return err
	}

	switch cmd {
	case "status":
		printState(state)
	case "refresh":
		state, err = m.Refresh(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Warning: using cached state:", err)
		}
		printState(state)
	case "activate":
		if len(args) != 1 {
			return errors.New("activate requires exactly one license key")
		}
		state, err = m.ActivateKey(ctx, args[0])
		if err != nil {
			return err
		}
		printState(state)
	case "checkout":
		return checkout(ctx, m)
	case "manage":
		_, err := m.ManagePortal(ctx)
		return err
	case "deactivate":
		state, err = m.Deactivate()
		if err != nil {
			return err
		}
		printState(state)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func checkout(ctx context.Context, m *client.Manager) error {
	wait, err := m.StartCheckout(ctx)
	if err != nil {
		return err
	}
	fmt.Println("License key:", wait.LicenseKey)
	fmt.Println("Waiting for payment confirmation (Ctrl+C to stop waiting)...")

	select {
	case <-ctx.Done():
		wait.Cancel()
	case <-wait.Done():
	}
	state, err := wait.Result()
	if errors.Is(err, client.ErrCheckoutCanceled) || errors.Is(err, client.ErrCheckoutTimeout) {
		fmt.Println("Not confirmed yet. Run `licensectl refresh` once the payment completes.")
		return nil
	}
	if err != nil {
		return err
	}
	printState(state)
	return nil
}

func printState(s client.State) {
	now := time.Now()
	fmt.Printf("Status:       %s\n", s.Status)
	if s.LicenseKey != "" {
		fmt.Printf("License key:  %s\n", s.LicenseKey)
	}
	if s.ExpiresAt > 0 {
		fmt.Printf("Expires:      %s (%d days)\n", time.Unix(s.ExpiresAt, 0).Format(time.RFC3339), s.DaysRemaining(now))
	}
	if s.LastOnlineCheck > 0 {
		fmt.Printf("Last checked: %s\n", time.Unix(s.LastOnlineCheck, 0).Format(time.RFC3339))
	}
	fmt.Printf("Valid:        %v\n", s.IsValid(now))
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
