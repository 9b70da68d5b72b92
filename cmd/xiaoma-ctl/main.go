package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"xiaoma/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", envOr("XIAOMA_SOCKET", "/tmp/xiaoma.sock"), "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: xiaoma-ctl [flags] wake|status|quit\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdWake
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	reply, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Println("xiaoma not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Println("error:", reply.Error)
		os.Exit(1)
	}

	fmt.Println(reply.State)
	if reply.Last != "" {
		fmt.Println("last turn:", reply.Last)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
