package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fides/pkg/client"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read the merged value currently assigned to a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var keysCmd = &cobra.Command{
	Use:   "keys <prefix>",
	Short: "List every key under a prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeys,
}

func runGet(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	c := client.New(server)

	value, ok, err := c.GetValue(args[0])
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("(not set)")
		return nil
	}
	fmt.Println(value)
	return nil
}

func runKeys(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	c := client.New(server)

	keys, err := c.GetKeys(args[0])
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}
