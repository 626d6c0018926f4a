package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	repl := &REPL{}
	if err := repl.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	if len(os.Args) > 1 {
		if err := repl.CommandOpen(os.Args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	for {
		err := repl.REPL()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
