// Command visitctl is the operator CLI for the museum visits services.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"

	"github.com/diagnosis/museum-visits/pkg/client"
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

type globalFlags struct {
	visitsURL string
	authURL   string
	token     string
	timeout   time.Duration
}

type checkinFlags struct {
	qr        string
	visitorID string
	code      string
	token     string
	email     string
	bookingID string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var g globalFlags
	root := &cobra.Command{
		Use:           "visitctl",
		Short:         "Operate the museum visit reservation services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.visitsURL, "visits-url", envOr("VISITS_URL", "http://localhost:8080"), "Visits service base URL")
	pf.StringVar(&g.authURL, "auth-url", envOr("AUTH_URL", "http://localhost:8081"), "Auth service base URL")
	pf.StringVar(&g.token, "token", os.Getenv("VISITCTL_TOKEN"), "Staff access token (defaults to $VISITCTL_TOKEN)")
	pf.DurationVar(&g.timeout, "timeout", 15*time.Second, "Request timeout")

	root.AddCommand(slotsCmd(&g), loginCmd(&g), checkinCmd(&g), credentialCmd(&g), hashPasswordCmd())

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (g *globalFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

func slotsCmd(g *globalFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show remaining seats per time slot for a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			ctx, cancel := g.context()
			defer cancel()

			res, err := client.New(g.visitsURL).Slots(ctx, client.SlotsQuery{Date: date})
			if err != nil {
				return apiFailure(err)
			}
			return printSlots(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Visit date YYYY-MM-DD (default today)")
	return cmd
}

func printSlots(w io.Writer, res *client.SlotsResult) error {
	fmt.Fprintf(w, "Slots for %s\n", res.Date)
	if len(res.Slots) == 0 {
		fmt.Fprintln(w, "  museum closed")
		return nil
	}
	for _, s := range res.Slots {
		fmt.Fprintf(w, "  %-12s %3d/%-3d booked  %3d left\n", s.Time, s.Booked, s.Capacity, s.Remaining)
	}
	return nil
}

func loginCmd(g *globalFlags) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as staff and print an access token",
		Long:  "Reads the password from $VISITCTL_PASSWORD or the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return codeError(2, "--email is required")
			}
			password, err := readSecret(cmd.InOrStdin(), "VISITCTL_PASSWORD")
			if err != nil {
				return codeError(2, "read password: %s", err)
			}
			ctx, cancel := g.context()
			defer cancel()

			res, err := client.New(g.authURL).Login(ctx, email, password)
			if err != nil {
				return apiFailure(err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Logged in as %s (%s), token valid for %ds\n", res.User.Email, res.User.Role, res.ExpiresIn)
			fmt.Fprintln(cmd.OutOrStdout(), res.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Staff email")
	return cmd
}

func checkinCmd(g *globalFlags) *cobra.Command {
	var f checkinFlags
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Admit a visitor by QR payload, visitor id, backup code, token or email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.token == "" {
				return codeError(2, "a staff token is required (--token or $VISITCTL_TOKEN)")
			}
			req := client.CheckInRequest{
				QRData:     f.qr,
				VisitorID:  f.visitorID,
				BackupCode: f.code,
				Token:      f.token,
				BookingID:  f.bookingID,
				Email:      f.email,
			}
			if req == (client.CheckInRequest{}) {
				return codeError(2, "give one of --qr, --visitor, --code, --link-token or --email")
			}
			ctx, cancel := g.context()
			defer cancel()

			res, err := client.New(g.visitsURL, client.WithToken(g.token)).CheckIn(ctx, req)
			if err != nil {
				return apiFailure(err)
			}
			return printCheckIn(cmd.OutOrStdout(), res)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.qr, "qr", "", "Scanned QR payload")
	fl.StringVar(&f.visitorID, "visitor", "", "Visitor id")
	fl.StringVar(&f.code, "code", "", "Backup code")
	fl.StringVar(&f.token, "link-token", "", "Companion link token")
	fl.StringVar(&f.email, "email", "", "Visitor email")
	fl.StringVar(&f.bookingID, "booking", "", "Booking id, narrows an email lookup")
	return cmd
}

func printCheckIn(w io.Writer, res *client.CheckInResult) error {
	v := res.Visitor
	name := strings.TrimSpace(v.FirstName + " " + v.LastName)
	if res.AlreadyCheckedIn {
		fmt.Fprintf(w, "ALREADY CHECKED IN  %s\n", name)
	} else {
		fmt.Fprintf(w, "CHECKED IN  %s\n", name)
	}
	fmt.Fprintf(w, "  visitor  %s (resolved by %s)\n", v.ID, res.ResolvedBy)
	fmt.Fprintf(w, "  booking  %s  %s %s\n", v.BookingID, v.VisitDate, v.TimeSlot)
	if v.CheckinTime != nil {
		fmt.Fprintf(w, "  at       %s\n", v.CheckinTime.Format(time.RFC3339))
	}
	return nil
}

func credentialCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "credential <visitor-id>",
		Short: "Re-render a visitor's entry QR and show the backup code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.token == "" {
				return codeError(2, "a staff token is required (--token or $VISITCTL_TOKEN)")
			}
			ctx, cancel := g.context()
			defer cancel()

			cred, err := client.New(g.visitsURL, client.WithToken(g.token)).Credential(ctx, args[0])
			if err != nil {
				return apiFailure(err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cred)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "visitor %s\nbackup code %s\n", cred.VisitorID, cred.BackupCode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full credential including the QR data URL")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print an argon2id hash for seeding staff_users",
		Long:  "Reads the password from $VISITCTL_PASSWORD or the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), "VISITCTL_PASSWORD")
			if err != nil {
				return codeError(2, "read password: %s", err)
			}
			hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readSecret(in io.Reader, env string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

// apiFailure maps service errors to exit codes: 3 for not found or rejected, 4 for anything else.
func apiFailure(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return codeError(3, "%s", apiErr.Error())
	}
	return codeError(4, "%s", err)
}
