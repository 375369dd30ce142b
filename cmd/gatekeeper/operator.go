package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/adapter/auth"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/service"
)

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Provision and disable operators",
	}
	cmd.AddCommand(newOperatorCreateCmd(), newOperatorShowCmd(), newOperatorDeactivateCmd())
	return cmd
}

func newOperatorCreateCmd() *cobra.Command {
	var username, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator and print its one-time-code enrollment",
		Long: `Creates an active operator. The password is read from the terminal
(or from stdin when it is not a terminal). The TOTP secret and otpauth URL are
printed once; load them into an authenticator app before logging in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ops := service.NewOperatorService(st, auth.NewBcryptHasher(0), auth.NewTOTP(cfg.TOTPIssuer, cfg.TOTPSkew))
			p, err := ops.Create(cmd.Context(), username, password, r)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "operator %s created (id %s, role %s)\n", p.Operator.Username, p.Operator.ID, p.Operator.Role)
			fmt.Fprintf(out, "TOTP secret: %s\n", p.Enrollment.Secret)
			fmt.Fprintf(out, "otpauth URL: %s\n", p.Enrollment.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "operator username")
	cmd.Flags().StringVar(&role, "role", "", `role ("super_admin", "knowledge_admin", "auditor")`)
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newOperatorShowCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an operator's role, lockout state and live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ops := service.NewOperatorService(st, auth.NewBcryptHasher(0), auth.NewTOTP(cfg.TOTPIssuer, cfg.TOTPSkew))
			status, err := ops.Show(cmd.Context(), username)
			if err != nil {
				return err
			}

			op := status.Operator
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "operator %s (id %s)\n", op.Username, op.ID)
			fmt.Fprintf(out, "  role:            %s\n", op.Role)
			fmt.Fprintf(out, "  active:          %t\n", op.Active)
			fmt.Fprintf(out, "  failed attempts: %d\n", op.FailedAttempts)
			if status.Locked {
				fmt.Fprintf(out, "  locked until:    %s\n", op.LockedUntil.Format(time.RFC3339))
			}
			if op.LastLoginAt != nil {
				fmt.Fprintf(out, "  last login:      %s\n", op.LastLoginAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "  live sessions:   %d\n", len(status.ActiveSessions))
			for _, sess := range status.ActiveSessions {
				fmt.Fprintf(out, "    %s expires %s\n", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "operator username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newOperatorDeactivateCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate an operator and end its sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ops := service.NewOperatorService(st, auth.NewBcryptHasher(0), auth.NewTOTP(cfg.TOTPIssuer, cfg.TOTPSkew))
			op, err := ops.Deactivate(cmd.Context(), username)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "operator %s deactivated\n", op.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "operator username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readPassword prompts twice on a terminal, otherwise reads one line from
// the command's input.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
