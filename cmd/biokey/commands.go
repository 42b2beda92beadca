package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/benaskins/biokey/internal/audit"
	"github.com/benaskins/biokey/internal/errcode"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// withBackend opens the backend and runs fn with a context that is canceled
// on interrupt, so Ctrl-C dismisses a pending challenge.
func withBackend(fn func(ctx context.Context, b backend) error) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, b)
}

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "Report which biometric modality is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b backend) error {
			m, err := b.IsAvailable(ctx)
			if err != nil {
				return err
			}
			fmt.Println(m)
			return nil
		})
	},
}

var hasCmd = &cobra.Command{
	Use:   "has <key>",
	Short: "Check whether a credential is saved, without prompting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b backend) error {
			ok, err := b.Has(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errcode.UserNotFound
			}
			fmt.Printf("Credential %q is saved\n", args[0])
			return nil
		})
	},
}

var requireAuth bool

var saveCmd = &cobra.Command{
	Use:   "save <key> [secret]",
	Short: "Save a credential, replacing any previous value",
	Long:  "Save a credential. If secret is omitted, reads it from the terminal or stdin.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		var secret string
		if len(args) == 2 {
			secret = args[1]
		} else {
			var err error
			if secret, err = readSecret(); err != nil {
				return err
			}
		}

		return withBackend(func(ctx context.Context, b backend) error {
			if err := b.Save(ctx, key, secret, requireAuth); err != nil {
				return err
			}
			fmt.Printf("Credential %q saved\n", key)
			return nil
		})
	},
}

var verifyReason string

var verifyCmd = &cobra.Command{
	Use:   "verify <key>",
	Short: "Authenticate and print a saved credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b backend) error {
			secret, err := b.Verify(ctx, args[0], verifyReason)
			if err != nil {
				return err
			}
			fmt.Println(secret)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a saved credential",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b backend) error {
			if err := b.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Credential %q deleted\n", args[0])
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List saved credentials",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b backend) error {
			keys, err := b.Keys(ctx)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println("No credentials saved")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY")
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
			return w.Flush()
		})
	},
}

var auditLines int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent credential operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := audit.Read(cfg.AuditLog, auditLines)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTION\tKEY\tACTOR\tRESULT")
		for _, e := range entries {
			result := "ok"
			if e.Code != "" {
				result = e.Code
			}
			actor := e.Actor
			if actor == "" {
				actor = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.DateTime), e.Action, e.Key, actor, result)
		}
		return w.Flush()
	},
}

// readSecret prompts on a terminal, or reads all of stdin when piped.
func readSecret() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Enter secret: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile("/dev/stdin")
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func init() {
	saveCmd.Flags().BoolVar(&requireAuth, "require-auth", true, "Authenticate before saving")
	verifyCmd.Flags().StringVar(&verifyReason, "reason", "", "Prompt text shown in the authentication dialog")
	auditCmd.Flags().IntVarP(&auditLines, "lines", "n", 20, "Number of entries to show (0 for all)")

	rootCmd.AddCommand(availableCmd)
	rootCmd.AddCommand(hasCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(auditCmd)
}
