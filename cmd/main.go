package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			if errs.KindOf(err) != errs.KindUnknown {
				fmt.Fprintln(os.Stderr, errs.Advice(err))
			}
		}
		os.Exit(1)
	}
}
