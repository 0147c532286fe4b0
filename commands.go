// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	plogrus "perun.network/go-perun/log/logrus"

	"perun.network/provenance-backend/chain"
	"perun.network/provenance-backend/client"
	"perun.network/provenance-backend/config"
	"perun.network/provenance-backend/ledger"
	"perun.network/provenance-backend/qr"
	"perun.network/provenance-backend/session"
	"perun.network/provenance-backend/setup"
	"perun.network/provenance-backend/utils"
)

const dateLayout = "2006-01-02"

type app struct {
	in      io.Reader
	out     io.Writer
	cfgPath string

	cfg   config.Config
	reg   *prometheus.Registry
	setup *setup.Setup
}

func (a *app) client() *client.ProvenanceClient { return a.setup.Client }

// execute runs the command line args and releases the client afterwards.
func execute(ctx context.Context, in io.Reader, out io.Writer, args []string) error {
	root, a := newRootCmd(in, out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(in io.Reader, out io.Writer) (*cobra.Command, *app) {
	a := &app{in: in, out: out}
	root := &cobra.Command{
		Use:           "provenance",
		Short:         "Record and track supply-chain provenance on chain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $HOME/.config/provenance/config.yaml)")

	root.AddCommand(
		a.statusCmd(),
		a.connectCmd(),
		a.disconnectCmd(),
		a.createCmd(),
		a.checkpointCmd(),
		a.transferCmd(),
		a.verifyCmd(),
		a.trackCmd(),
		a.listCmd(),
		a.qrCmd(),
		a.roleCmd(),
		a.batchCmd(),
	)
	return root, a
}

// open loads the configuration, wires the client and restores an existing
// session without prompting.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	lvl, _ := cfg.LogLevel()
	plogrus.Set(lvl, &logrus.TextFormatter{})
	a.cfg = cfg

	a.reg = setup.NewRegistry()
	a.setup, err = setup.NewClient(cmd.Context(), cfg, setup.NewTerminalPrompter(a.in, a.out), a.reg)
	if err != nil {
		return err
	}
	_, err = a.client().Restore(cmd.Context())
	return err
}

func (a *app) close() error {
	if a.setup == nil {
		return nil
	}
	err := a.setup.Close()
	a.setup = nil
	return err
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printSession(s session.Session) {
	if !s.Connected() {
		a.printf("%v\n", s.Status)
		return
	}
	a.printf("%v via %v: %s balance %s\n", s.Status, s.Kind, s.Address, s.Balance)
}

func (a *app) printCheckpoint(cp ledger.Checkpoint) {
	a.printf("Checkpoint %d (%s) of %s confirmed: %s\n", cp.Sequence, cp.Stage, cp.ProductID, cp.TxRef)
}

func (a *app) statusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.printSession(a.client().Session())
			if !watch {
				return nil
			}
			if addr := a.cfg.Metrics.Addr; addr != "" {
				srv, err := setup.ServeMetrics(addr, a.reg)
				if err != nil {
					return err
				}
				defer srv.Close()
			}
			a.client().PollBalances(cmd.Context(), a.cfg.Wallet.BalancePoll, a.printSession)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling the balance until interrupted, serving metrics on metrics.addr if set")
	return cmd
}

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <ethereum|session>",
		Short: "Connect a wallet backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := chain.ParseKind(args[0])
			if err != nil {
				return err
			}
			s, err := a.client().Connect(cmd.Context(), kind)
			if err != nil {
				return err
			}
			a.printSession(s)
			return nil
		},
	}
}

func (a *app) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "End the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.client().Disconnect(cmd.Context())
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var (
		in      client.ProductInput
		harvest string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product with its farm checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if harvest != "" {
				t, err := time.Parse(dateLayout, harvest)
				if err != nil {
					return errors.WithMessage(err, "harvest date")
				}
				in.Payload.HarvestDate = t.Unix()
			}
			cp, err := a.client().CreateProduct(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.printCheckpoint(cp)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "product id")
	cmd.Flags().StringVar(&in.Name, "name", "", "product name")
	cmd.Flags().StringVar(&in.Origin, "origin", "", "farm location")
	cmd.Flags().StringVar(&in.Payload.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&harvest, "harvest-date", "", "harvest date ("+dateLayout+")")
	cmd.MarkFlagRequired("id")   //nolint:errcheck
	cmd.MarkFlagRequired("name") //nolint:errcheck
	return cmd
}

func (a *app) checkpointCmd() *cobra.Command {
	var (
		id, stage string
		p         ledger.Payload
	)
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Append a stage checkpoint to a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := ledger.ParseStage(stage)
			if err != nil {
				return err
			}
			cp, err := a.client().RecordCheckpoint(cmd.Context(), id, st, p)
			if err != nil {
				return err
			}
			a.printCheckpoint(cp)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product id")
	cmd.Flags().StringVar(&stage, "stage", "", "processing, transport or retail")
	cmd.Flags().StringVar(&p.Location, "location", "", "current location")
	cmd.Flags().StringVar(&p.Temperature, "temperature", "", "measured temperature")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "free-form notes")
	cmd.Flags().StringToStringVar(&p.Attributes, "attr", nil, "additional attributes as key=value")
	cmd.MarkFlagRequired("id")    //nolint:errcheck
	cmd.MarkFlagRequired("stage") //nolint:errcheck
	return cmd
}

func (a *app) transferCmd() *cobra.Command {
	var id, to string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer a product to a new owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cp, err := a.client().TransferOwnership(cmd.Context(), id, to)
			if err != nil {
				return err
			}
			a.printCheckpoint(cp)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product id")
	cmd.Flags().StringVar(&to, "to", "", "address of the new owner")
	cmd.MarkFlagRequired("id") //nolint:errcheck
	cmd.MarkFlagRequired("to") //nolint:errcheck
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		id, notes string
		seq       uint64
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a confirmed checkpoint of a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cp, err := a.client().VerifyCheckpoint(cmd.Context(), id, seq, notes)
			if err != nil {
				return err
			}
			a.printCheckpoint(cp)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product id")
	cmd.Flags().Uint64Var(&seq, "seq", 0, "sequence number of the verified checkpoint")
	cmd.Flags().StringVar(&notes, "notes", "", "verification notes")
	cmd.MarkFlagRequired("id") //nolint:errcheck
	return cmd
}

func (a *app) trackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track <id>",
		Short: "Show a product and its checkpoint history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := a.client().Track(args[0])
			if err != nil {
				return err
			}
			return a.printJSON(t)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all products",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			products := a.client().Products()
			if len(products) == 0 {
				a.printf("No products\n")
				return nil
			}
			for _, p := range products {
				verified := ""
				if p.Verified {
					verified = " (verified)"
				}
				a.printf("%-12s %-20s %-10s %-20s %s%s\n",
					p.ID, p.Name, p.Stage, p.CurrentLocation, utils.ShortAddress(p.Owner), verified)
			}
			return nil
		},
	}
}

func (a *app) qrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Generate or read product QR codes",
	}
	var terminal bool
	gen := &cobra.Command{
		Use:   "generate <id>",
		Short: "Print the QR payload of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := a.client().ProductQR(args[0])
			if err != nil {
				return err
			}
			if terminal {
				s, err := p.Terminal()
				if err != nil {
					return err
				}
				a.printf("%s", s)
			}
			return a.printJSON(p)
		},
	}
	gen.Flags().BoolVar(&terminal, "terminal", false, "also render the code in the terminal")

	scan := &cobra.Command{
		Use:   "scan <data>",
		Short: "Decode scanned QR data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data := []byte(strings.Join(args, " "))
			if !qr.Valid(data) {
				a.printf("Not a product code\n")
			}
			return a.printJSON(qr.Parse(data, time.Now()))
		},
	}
	cmd.AddCommand(gen, scan)
	return cmd
}

func (a *app) roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage contract roles",
	}
	var address, role string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.client().AssignRole(cmd.Context(), address, role)
			if err != nil {
				return err
			}
			a.printf("Role %s assigned to %s: %s\n", role, address, h.Ref)
			return nil
		},
	}
	assign.Flags().StringVar(&address, "address", "", "account address")
	assign.Flags().StringVar(&role, "role", "", "farmer, processor, transporter, retailer or regulator")
	assign.MarkFlagRequired("address") //nolint:errcheck
	assign.MarkFlagRequired("role")    //nolint:errcheck
	cmd.AddCommand(assign)
	return cmd
}

func (a *app) batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage product batches",
	}
	var (
		id       string
		products []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Group products into a batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.client().CreateBatch(cmd.Context(), id, products...)
			if err != nil {
				return err
			}
			a.printf("Batch %s created: %s\n", id, h.Ref)
			return nil
		},
	}
	create.Flags().StringVar(&id, "id", "", "batch id")
	create.Flags().StringSliceVar(&products, "product", nil, "product ids")
	create.MarkFlagRequired("id") //nolint:errcheck
	cmd.AddCommand(create)
	return cmd
}
