package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrtkit/router-command/pkg/proxy"
)

var (
	tokenSubject  string
	tokenRouters  []string
	tokenValidity time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for proxy clients",
	Long: `Mints an HMAC-signed bearer token using the auth secret from the
configuration file. The token grants access to the named routers; pass
--router '*' to cover every configured router.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Client name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenRouters, "router", nil, "Router the token may access; repeatable")
	tokenCmd.Flags().DurationVar(&tokenValidity, "validity", 24*time.Hour, "How long the token stays valid")
	tokenCmd.MarkFlagRequired("subject")
	tokenCmd.MarkFlagRequired("router")
}

func runToken(cmd *cobra.Command, args []string) error {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	secret, err := config.Auth.secret()
	if err != nil {
		return err
	}
	verifier := proxy.NewTokenVerifier(secret, config.Auth.Issuer)
	token, err := verifier.Mint(tokenSubject, tokenRouters, tokenValidity)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
