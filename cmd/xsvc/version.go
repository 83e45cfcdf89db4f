package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of xsvc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xsvc version %s\n", rootCmd.Version)
		},
	}
}
