package main

import (
	"fmt"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create a signing key",
	Long:  `Creates an ed25519 signing key at --key. An existing key is kept.`,
	RunE:  runKeygen,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the address of the signing key",
	RunE:  runWhoami,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	id, created, err := auth.LoadOrCreate(keyPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created key %s\n", keyPath)
	} else {
		fmt.Printf("Key already exists at %s\n", keyPath)
	}
	fmt.Printf("Address: %s\n", id.Address())
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	id, err := auth.Load(keyPath)
	if err != nil {
		return fmt.Errorf("no signing key at %s (run \"escrowd keygen\"): %w", keyPath, err)
	}
	fmt.Println(id.Address())
	return nil
}
