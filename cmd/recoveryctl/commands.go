package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/recovery"
)

// yoctoPerNear is the exponent between NEAR and its smallest unit.
const yoctoPerNear = 24

func newCommand(open toolkitOpener, out io.Writer) *cli.Command {
	var configPath string

	run := func(fn func(ctx context.Context, tk *toolkit, cmd *cli.Command) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) (err error) {
			tk, err := open(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := tk.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			return fn(ctx, tk, cmd)
		}
	}

	accountFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Account id", Required: true}
	}

	return &cli.Command{
		Name:      "recoveryctl",
		Usage:     "Inspect and repair wallet recovery state",
		Version:   Version,
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to configuration directory or file",
				Destination: &configPath,
				Sources:     cli.EnvVars("WALLETRECOVERY_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "methods",
				Usage: "Manage stored recovery methods",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Print the recovery methods of an account as JSON",
						Flags:  []cli.Flag{accountFlag()},
						Action: run(func(ctx context.Context, tk *toolkit, cmd *cli.Command) error { return listMethods(ctx, tk, cmd, out) }),
					},
					{
						Name:  "delete",
						Usage: "Delete one recovery method",
						Flags: []cli.Flag{
							accountFlag(),
							&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Method kind", Required: true},
							&cli.StringFlag{Name: "public-key", Usage: "Public key, for keyed methods"},
						},
						Action: run(func(ctx context.Context, tk *toolkit, cmd *cli.Command) error { return deleteMethod(ctx, tk, cmd, out) }),
					},
				},
			},
			{
				Name:  "twofactor",
				Usage: "Two-factor helpers",
				Commands: []*cli.Command{
					{
						Name:   "access-key",
						Usage:  "Print the confirm key the service holds for an account",
						Flags:  []cli.Flag{accountFlag()},
						Action: run(func(ctx context.Context, tk *toolkit, cmd *cli.Command) error { return printAccessKey(tk, cmd, out) }),
					},
				},
			},
			{
				Name:  "chain",
				Usage: "Chain helpers signed with the creator key ring",
				Commands: []*cli.Command{
					{
						Name:  "call",
						Usage: "Submit a function call from the creator account",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "receiver", Usage: "Receiving contract", Required: true},
							&cli.StringFlag{Name: "method", Usage: "Contract method", Required: true},
							&cli.StringFlag{Name: "args", Usage: "JSON arguments", Value: "{}"},
							&cli.StringFlag{Name: "deposit", Usage: "Attached deposit in NEAR", Value: "0"},
							&cli.Uint64Flag{Name: "gas", Usage: "Prepaid gas; 0 uses the configured default"},
						},
						Action: run(func(ctx context.Context, tk *toolkit, cmd *cli.Command) error { return callFunction(ctx, tk, cmd, out) }),
					},
				},
			},
		},
	}
}

func listMethods(ctx context.Context, tk *toolkit, cmd *cli.Command, out io.Writer) error {
	methods, err := tk.Store.ListByAccount(ctx, strings.TrimSpace(cmd.String("account")))
	if err != nil {
		return err
	}
	if methods == nil {
		methods = []models.RecoveryMethod{}
	}
	return writeJSON(out, methods)
}

func deleteMethod(ctx context.Context, tk *toolkit, cmd *cli.Command, out io.Writer) error {
	kind := models.MethodKind(strings.TrimSpace(cmd.String("kind")))
	if !kind.Valid() {
		return fmt.Errorf("unknown method kind %q", kind)
	}
	id := recovery.Identity{
		AccountID: strings.TrimSpace(cmd.String("account")),
		Kind:      kind,
		PublicKey: models.StringPtr(cmd.String("public-key")),
	}
	if err := tk.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, recovery.ErrNotFound) {
			return fmt.Errorf("no %s method for %s", kind, id.AccountID)
		}
		return err
	}
	_, err := fmt.Fprintf(out, "deleted %s\n", id)
	return err
}

func printAccessKey(tk *toolkit, cmd *cli.Command, out io.Writer) error {
	if tk.Deriver == nil {
		return errors.New("chain.two_factor_seed is not configured")
	}
	_, err := fmt.Fprintln(out, tk.Deriver.PublicKey(strings.TrimSpace(cmd.String("account"))))
	return err
}

func callFunction(ctx context.Context, tk *toolkit, cmd *cli.Command, out io.Writer) error {
	if tk.Chain == nil {
		return errors.New("chain client is not configured")
	}

	args := []byte(cmd.String("args"))
	if !json.Valid(args) {
		return errors.New("--args must be valid JSON")
	}
	deposit, err := nearToYocto(cmd.String("deposit"))
	if err != nil {
		return err
	}

	outcome, err := tk.Chain.SubmitFunctionCall(ctx, chain.FunctionCall{
		ReceiverID: strings.TrimSpace(cmd.String("receiver")),
		MethodName: strings.TrimSpace(cmd.String("method")),
		Args:       args,
		Gas:        cmd.Uint64("gas"),
		Deposit:    deposit,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, outcome)
}

// nearToYocto converts a human NEAR amount to a yocto integer string.
func nearToYocto(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "0", nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return "", fmt.Errorf("invalid deposit %q: %w", value, err)
	}
	if amount.IsNegative() {
		return "", fmt.Errorf("invalid deposit %q: must not be negative", value)
	}
	yocto := amount.Shift(yoctoPerNear)
	if !yocto.Equal(yocto.Truncate(0)) {
		return "", fmt.Errorf("invalid deposit %q: more than %d decimals", value, yoctoPerNear)
	}
	return yocto.StringFixed(0), nil
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
