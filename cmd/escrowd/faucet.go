package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var faucetCmd = &cobra.Command{
	Use:   "faucet [amount]",
	Short: "Mint devnet funds to the signer",
	Args:  cobra.ExactArgs(1),
	RunE:  runFaucet,
}

var balanceCmd = &cobra.Command{
	Use:   "balance [address|me]",
	Short: "Show an account balance",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBalance,
}

func runFaucet(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	c, err := signingClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	resp, err := c.Faucet(ctx, amount)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}
	fmt.Printf("Minted %d to %s, balance %d\n", resp.Minted, resp.Account, resp.Balance)
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	who := "me"
	if len(args) == 1 {
		who = args[0]
	}
	addr, err := parseAddr(who)
	if err != nil {
		return err
	}
	ctx, cancel := apiContext(cmd)
	defer cancel()
	balance, err := readClient().Balance(ctx, addr)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"address": addr, "balance": balance})
	}
	fmt.Println(balance)
	return nil
}
