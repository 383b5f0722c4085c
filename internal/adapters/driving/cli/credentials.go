package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	configfile "github.com/collabgraph/gitminer/internal/adapters/driven/config/file"
	githubc "github.com/collabgraph/gitminer/internal/connectors/github"
	"github.com/collabgraph/gitminer/internal/core/domain"
)

var credentialsTokensFile string

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage and validate harvest credentials",
}

var credentialsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate every configured token against the API",
	RunE:  runCredentialsCheck,
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Prompt for a token and append it to the tokens file",
	RunE:  runCredentialsAdd,
}

func init() {
	credentialsCmd.PersistentFlags().StringVar(&credentialsTokensFile, "tokens-file", "",
		"tokens file, one token per line")
	credentialsCmd.AddCommand(credentialsCheckCmd)
	credentialsCmd.AddCommand(credentialsAddCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsCheck(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	tokens, err := tokenSourceFromFlags().Tokens(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return domain.ErrNoCredentials
	}

	fetcher := githubc.NewFetcher()

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Credential", "Status", "Remaining", "Limit", "Resets"})

	usable := 0
	for i, token := range tokens {
		id := fmt.Sprintf("token-%d", i+1)
		quota, err := fetcher.CheckToken(ctx, token)
		if err != nil {
			t.AppendRow(table.Row{id, fmt.Sprintf("invalid: %v", err), "-", "-", "-"})
			continue
		}
		usable++
		t.AppendRow(table.Row{
			id, "ok", quota.Remaining, quota.Limit,
			quota.ResetAt.Local().Format(time.Kitchen),
		})
	}
	t.Render()

	if usable == 0 {
		return domain.ErrNoCredentials
	}
	cmd.Printf("%d of %d credential(s) usable\n", usable, len(tokens))
	return nil
}

func runCredentialsAdd(cmd *cobra.Command, _ []string) error {
	source := tokenSourceFromFlags()

	cmd.Print("Token (input hidden): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	if err := source.Append(string(raw)); err != nil {
		return err
	}
	cmd.Println("Token added.")
	return nil
}

// tokenSourceFromFlags resolves the tokens file from the flag or the
// config file.
func tokenSourceFromFlags() *configfile.TokenSource {
	tokensFile := credentialsTokensFile
	if tokensFile == "" {
		if settings, err := loadSettings(); err == nil {
			tokensFile = settings.Paths.TokensFile
		}
	}
	return configfile.NewTokenSource(tokensFile)
}
