package main

import (
	"os"

	"github.com/heroku/color"

	"github.com/imgpatch/imgpatch/cmd"
	"github.com/imgpatch/imgpatch/internal/commands"
	"github.com/imgpatch/imgpatch/pkg/logging"
)

func main() {
	logger := logging.NewLogWithWriters(color.Stdout(), color.Stderr())

	rootCmd, err := cmd.NewImgpatchCommand(logger)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	ctx := commands.CreateCancellableContext()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
