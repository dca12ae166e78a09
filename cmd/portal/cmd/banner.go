package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ____       _   _            _     ____            _        _ 
 |  _ \ __ _| |_(_) ___ _ __ | |_  |  _ \ ___  _ __| |_ __ _| |
 | |_) / _` + "`" + ` | __| |/ _ \ '_ \| __| | |_) / _ \| '__| __/ _` + "`" + ` | |
 |  __/ (_| | |_| |  __/ | | | |_  |  __/ (_) | |  | || (_| | |
 |_|   \__,_|\__|_|\___|_| |_|\__| |_|   \___/|_|   \__\__,_|_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Patient Portal - Version %s\x1b[0m\n\n", Version)
}
