// Command rlitectl is the administrative CLI (spec.md §6): a thin cobra
// front-end over the client package's control-socket RPCs. Every
// subcommand maps to one daemon RPC, except ipcp-lower-flow-alloc, which
// calls none and always fails; exit code 0 on success,
// non-zero on any error, matching spec.md's "CLI surface" requirement.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rlite-project/rlite-go/client"
	"github.com/rlite-project/rlite-go/pkg/names"
)

var socketPath string

func dial() (*client.Client, error) {
	return client.Dial(socketPath)
}

func main() {
	root := &cobra.Command{
		Use:   "rlitectl",
		Short: "administer a rlited control-plane daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/rlite/ctrl.sock", "path to rlited's control socket")

	root.AddCommand(
		ipcpCreateCmd(),
		ipcpDestroyCmd(),
		ipcpConfigCmd(),
		ipcpRegisterCmd(),
		ipcpUnregisterCmd(),
		ipcpEnrollCmd(),
		ipcpLowerFlowAllocCmd(),
		ipcpDFTSetCmd(),
		ipcpsShowCmd(),
		flowsShowCmd(),
		ipcpRIBShowCmd(),
		difRIBShowCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ipcpCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-create NAME TYPE DIF",
		Short: "create a new IPCP of TYPE in DIF",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.IPCPCreate(names.Parse(args[0]), args[1], args[2])
		},
	}
}

func ipcpDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-destroy NAME",
		Short: "destroy an IPCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.IPCPDestroy(names.Parse(args[0]))
		},
	}
}

func ipcpConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-config NAME KEY VALUE",
		Short: "set a configuration key on an IPCP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.IPCPConfig(names.Parse(args[0]), args[1], args[2])
		},
	}
}

// ipcpRegisterCmd implements "ipcp-register DIF NAME": registers the IPCP
// named NAME as an application over the supporting IPCP identified by
// DIF. This port has no DIF-name-to-IPCP index exposed over the client
// RPC surface, so DIF is taken as the supporting IPCP's own name rather
// than a true DIF name (unlike daemon.selectIPCPByDIF, which matches
// fa-req's DIF hint against real DIF names).
func ipcpRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-register DIF NAME",
		Short: "register an IPCP's application identity into a supporting DIF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.ApplRegister(names.Parse(args[1]), names.Parse(args[0]))
		},
	}
}

func ipcpUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-unregister DIF NAME",
		Short: "undo a prior ipcp-register",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.ApplUnregister(names.Parse(args[1]), names.Parse(args[0]))
		},
	}
}

// ipcpEnrollCmd implements "ipcp-enroll DIF NAME NEIGH SUPP-DIF". DIF is
// accepted for surface parity with spec.md §6 but unused: NAME already
// uniquely identifies the local IPCP in this port, so there is nothing
// left for DIF to disambiguate.
func ipcpEnrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-enroll DIF NAME NEIGH SUPP-DIF",
		Short: "enroll NAME with NEIGH over the supporting DIF SUPP-DIF",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.IPCPEnroll(names.Parse(args[1]), names.Parse(args[2]), args[3])
		},
	}
}

// ipcpLowerFlowAllocCmd is named in spec.md §6 but this daemon always
// allocates and pairs lower flows itself as part of ipcp-enroll (see
// daemon/enroll.go) rather than exposing a standalone allocation step.
func ipcpLowerFlowAllocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-lower-flow-alloc ...",
		Short: "not supported: rlited pairs lower flows automatically during ipcp-enroll",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("ipcp-lower-flow-alloc: rlited allocates lower flows itself during ipcp-enroll")
		},
	}
}

func ipcpDFTSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-dft-set NAME APPL ADDR",
		Short: "set (or, with ADDR 0, unset) a DFT entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[2], err)
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.IPCPDFTSet(names.Parse(args[0]), names.Parse(args[1]), uint32(addr))
		},
	}
}

func ipcpsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcps-show",
		Short: "list every live IPCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			ipcps, err := c.IPCPsShow()
			if err != nil {
				return err
			}
			for _, i := range ipcps {
				fmt.Printf("%-4d %-32s type=%-12s addr=%-10d depth=%d\n", i.ID, i.Name.String(), i.DIFType, i.Address, i.Depth)
			}
			return nil
		},
	}
}

func flowsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows-show",
		Short: "list every live flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			flows, err := c.FlowsShow()
			if err != nil {
				return err
			}
			for _, f := range flows {
				fmt.Printf("port=%-6d cep=%-10d <-> remote-port=%-6d remote-cep=%-10d remote-addr=%-10d %s <-> %s\n",
					f.LocalPort, f.LocalCEP, f.RemotePort, f.RemoteCEP, f.RemoteAddr, f.LocalAppl.String(), f.RemoteAppl.String())
			}
			return nil
		},
	}
}

func ipcpRIBShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipcp-rib-show NAME",
		Short: "render one IPCP's RIB (neighbors, DFT, lower-flow database)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			text, err := c.RIBShow(names.Parse(args[0]))
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

func difRIBShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dif-rib-show DIF",
		Short: "render the RIB of every IPCP in a DIF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			text, err := c.RIBShow(names.Name{API: args[0]})
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}
