package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/skills-auth/internal/cli"
	"github.com/jrsteele09/skills-auth/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serverURL       = config.GetEnv("SKILLS_SERVER", "http://localhost:8080")
		credentialsPath string
	)

	root := &cobra.Command{
		Use:          "skills",
		Short:        "Skills marketplace command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", serverURL, "marketplace URL (env SKILLS_SERVER)")
	root.PersistentFlags().StringVar(&credentialsPath, "credentials", "", "credentials file (default: user config dir)")

	resolvePath := func() (string, error) {
		if credentialsPath != "" {
			return credentialsPath, nil
		}
		return cli.DefaultCredentialsPath()
	}

	root.AddCommand(
		newLoginCommand(&serverURL, resolvePath),
		newWhoAmICommand(&serverURL, resolvePath),
		newTokenCommand(&serverURL, resolvePath),
		newLogoutCommand(resolvePath),
	)
	return root
}

func newLoginCommand(serverURL *string, resolvePath func() (string, error)) *cobra.Command {
	var (
		browser bool
		scopes  []string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a device code, or through the browser with --browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			client, err := cli.NewClient(*serverURL, cli.WithScopes(scopes...))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Minute)
			defer cancel()

			out := cmd.OutOrStdout()
			var creds *cli.Credentials
			if browser {
				creds, err = client.BrowserLogin(ctx, func(authorizeURL, code string) error {
					fmt.Fprintf(out, "Confirm the code %s in your browser:\n  %s\n", code, authorizeURL)
					if err := openBrowser(authorizeURL); err != nil {
						fmt.Fprintln(out, "Open the link above to continue.")
					}
					return nil
				})
			} else {
				creds, err = client.DeviceLogin(ctx, func(da *oauth2.DeviceAuthResponse) error {
					fmt.Fprintf(out, "Open %s and enter the code %s\n", da.VerificationURI, da.UserCode)
					if da.VerificationURIComplete != "" {
						fmt.Fprintf(out, "or go straight to %s\n", da.VerificationURIComplete)
					}
					fmt.Fprintln(out, "Waiting for approval...")
					return nil
				})
			}
			if err != nil {
				return err
			}
			if err := cli.SaveCredentials(path, creds); err != nil {
				return err
			}
			fmt.Fprintf(out, "Logged in to %s (scopes: %s)\n", creds.Server, creds.Scope)
			return nil
		},
	}
	cmd.Flags().BoolVar(&browser, "browser", false, "approve in a browser on this machine instead of entering a code")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to request: read, write, publish (default all)")
	return cmd
}

func newWhoAmICommand(serverURL *string, resolvePath func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			creds, err := cli.LoadCredentials(path)
			if err != nil {
				return err
			}
			client, err := cli.NewClient(serverFor(creds, *serverURL))
			if err != nil {
				return err
			}
			id, err := client.WhoAmI(cmd.Context(), creds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, scopes: %s)\n", id.UserID, id.Method, strings.Join(id.Scopes, " "))
			return nil
		},
	}
}

func newTokenCommand(serverURL *string, resolvePath func() (string, error)) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored access token",
	}
	tokenCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			creds, err := cli.LoadCredentials(path)
			if err != nil {
				return err
			}
			client, err := cli.NewClient(serverFor(creds, *serverURL))
			if err != nil {
				return err
			}
			next, err := client.Refresh(cmd.Context(), creds)
			if err != nil {
				return err
			}
			if err := cli.SaveCredentials(path, next); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Access token valid until %s\n", next.Expiry.Local().Format(time.RFC1123))
			if next.RefreshToken == "" {
				fmt.Fprintln(out, "No refresh token left; run 'skills login' when this token expires.")
			}
			return nil
		},
	})
	return tokenCmd
}

func newLogoutCommand(resolvePath func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			if err := cli.DeleteCredentials(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func serverFor(creds *cli.Credentials, fallback string) string {
	if creds.Server != "" {
		return creds.Server
	}
	return fallback
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
