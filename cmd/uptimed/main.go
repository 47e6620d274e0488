// Command uptimed runs the uptime checker daemon in the foreground, for
// service managers that supervise the process themselves.
package main

import (
	"os"

	"github.com/hamed0406/uptimed/internal/cli"
)

func main() {
	if err := cli.NewDaemonCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
